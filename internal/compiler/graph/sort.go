package graph

import (
	"fmt"
	"strings"
)

// CycleError represents a circular dependency between classes
type CycleError struct {
	// Node is the class that was reached again while still being visited.
	Node string
	// Path is the cycle in visit order, starting and ending with Node.
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected at %s: %s", e.Node, strings.Join(e.Path, " -> "))
}

// Sort returns the classes of g so that every class comes after the known
// classes it depends on. Roots are visited in discovery order and each
// node's dependencies in declaration order, so independent classes keep
// their discovery order. Unknown dependencies are skipped. On a cycle no
// ordering is returned.
func Sort(g *DependencyGraph) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool, len(g.nodes))
	onStack := make(map[string]bool)
	stack := make([]string, 0)
	order := make([]string, 0, len(g.nodes))

	var visit func(string) error
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		if onStack[name] {
			return newCycleError(name, stack)
		}

		onStack[name] = true
		stack = append(stack, name)

		for _, dep := range g.nodes[name].DependsOn {
			if _, known := g.nodes[dep]; !known {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		delete(onStack, name)
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, name := range g.order {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// HasCycle reports whether the graph contains a cycle among known classes
func HasCycle(g *DependencyGraph) bool {
	_, err := Sort(g)
	return err != nil
}

func newCycleError(node string, stack []string) *CycleError {
	start := 0
	for i, name := range stack {
		if name == node {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	path = append(path, stack[start:]...)
	path = append(path, node)
	return &CycleError{Node: node, Path: path}
}
