// Package graph builds the class dependency graph and orders it for
// registration.
package graph

import (
	"sort"
	"sync"

	"github.com/conduit-lang/autowire/internal/compiler/metadata"
)

// Node is one class in the dependency graph
type Node struct {
	Name   string
	Origin string
	// DependsOn holds dependency names in first-declared order. Names that
	// are not nodes of the graph are kept but never gate ordering.
	DependsOn []string
	// Via records how each dependency was first declared.
	Via map[string]metadata.DependencyOrigin
}

// DependencyGraph maps class names to the names they depend on.
// Nodes keep their discovery order.
type DependencyGraph struct {
	order []string
	nodes map[string]*Node
	mu    sync.RWMutex
}

// New creates an empty dependency graph
func New() *DependencyGraph {
	return &DependencyGraph{
		order: make([]string, 0),
		nodes: make(map[string]*Node),
	}
}

// AddNode adds a class to the graph. Adding an existing name is a no-op.
func (dg *DependencyGraph) AddNode(name, origin string) {
	dg.mu.Lock()
	defer dg.mu.Unlock()

	if _, exists := dg.nodes[name]; exists {
		return
	}
	dg.nodes[name] = &Node{
		Name:      name,
		Origin:    origin,
		DependsOn: make([]string, 0),
		Via:       make(map[string]metadata.DependencyOrigin),
	}
	dg.order = append(dg.order, name)
}

// AddDependency records that from depends on to. The target is not added as
// a node; unknown targets stay opaque. Repeated declarations collapse.
func (dg *DependencyGraph) AddDependency(from, to string, via metadata.DependencyOrigin) {
	dg.mu.Lock()
	defer dg.mu.Unlock()

	node, exists := dg.nodes[from]
	if !exists {
		return
	}
	if _, seen := node.Via[to]; seen {
		return
	}
	node.DependsOn = append(node.DependsOn, to)
	node.Via[to] = via
}

// Has reports whether name is a known class
func (dg *DependencyGraph) Has(name string) bool {
	dg.mu.RLock()
	defer dg.mu.RUnlock()

	_, ok := dg.nodes[name]
	return ok
}

// Nodes returns class names in discovery order
func (dg *DependencyGraph) Nodes() []string {
	dg.mu.RLock()
	defer dg.mu.RUnlock()

	result := make([]string, len(dg.order))
	copy(result, dg.order)
	return result
}

// Node returns a copy of the named node
func (dg *DependencyGraph) Node(name string) (Node, bool) {
	dg.mu.RLock()
	defer dg.mu.RUnlock()

	node, ok := dg.nodes[name]
	if !ok {
		return Node{}, false
	}
	cp := *node
	cp.DependsOn = append([]string(nil), node.DependsOn...)
	cp.Via = make(map[string]metadata.DependencyOrigin, len(node.Via))
	for k, v := range node.Via {
		cp.Via[k] = v
	}
	return cp, true
}

// Dependencies returns what name depends on, known or not
func (dg *DependencyGraph) Dependencies(name string) []string {
	dg.mu.RLock()
	defer dg.mu.RUnlock()

	if node, exists := dg.nodes[name]; exists {
		result := make([]string, len(node.DependsOn))
		copy(result, node.DependsOn)
		return result
	}
	return []string{}
}

// Dependents returns the classes that depend on name, in discovery order
func (dg *DependencyGraph) Dependents(name string) []string {
	dg.mu.RLock()
	defer dg.mu.RUnlock()

	result := make([]string, 0)
	for _, candidate := range dg.order {
		if _, ok := dg.nodes[candidate].Via[name]; ok {
			result = append(result, candidate)
		}
	}
	return result
}

// Unknown returns the sorted dependency names that are not classes of the
// graph. They cannot be registered and resolve will fail for them.
func (dg *DependencyGraph) Unknown() []string {
	dg.mu.RLock()
	defer dg.mu.RUnlock()

	set := make(map[string]struct{})
	for _, node := range dg.nodes {
		for _, dep := range node.DependsOn {
			if _, known := dg.nodes[dep]; !known {
				set[dep] = struct{}{}
			}
		}
	}

	result := make([]string, 0, len(set))
	for name := range set {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Size returns the number of classes in the graph
func (dg *DependencyGraph) Size() int {
	dg.mu.RLock()
	defer dg.mu.RUnlock()

	return len(dg.nodes)
}
