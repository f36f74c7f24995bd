// Package container is the runtime side of autowire: a singleton container
// keyed by class name.
//
// Generated wiring registers every class in dependency order:
//
//	c := container.New()
//	if err := c.Register("ServiceB", app.NewServiceB, "ServiceA"); err != nil {
//		return err
//	}
//
// and request handlers, gateways and services obtain instances with Resolve.
// Every class is a singleton: the first Resolve constructs it, later calls
// return the cached instance.
package container

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Zero marks a constructor parameter that is not a dependency. It receives
// the zero value of its type.
const Zero = ""

// State is the lifecycle state of one registered name
type State int

const (
	Unregistered State = iota
	Registered
	// Resolving is held only while the constructor chain runs.
	Resolving
	Resolved
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registered:
		return "registered"
	case Resolving:
		return "resolving"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

type entry struct {
	name     string
	ctor     reflect.Value
	params   []string
	state    State
	instance any

	// owner is the goroutine running the constructor while Resolving;
	// done is closed when that construction finishes either way.
	owner uint64
	done  chan struct{}
}

// Container caches one instance per registered class.
//
// Resolved instances are served under a read lock. Each class has its own
// construction gate: the first caller builds it while concurrent callers wait
// for that one construction and observe the same instance. Constructions of
// unrelated classes run in parallel. A constructor may call Resolve itself;
// asking again for a class whose construction is still in progress on the
// calling goroutine, directly or through other goroutines waiting on each
// other, fails with CircularResolutionError instead of blocking.
type Container struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	// building holds, per goroutine, the classes it is constructing,
	// outermost first. waiting holds the entry a goroutine is blocked on.
	building map[uint64][]string
	waiting  map[uint64]*entry

	logger *zap.Logger
}

// Option configures a Container
type Option func(*Container)

// WithLogger logs registrations and constructions at debug level
func WithLogger(logger *zap.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates an empty container
func New(opts ...Option) *Container {
	c := &Container{
		entries:  make(map[string]*entry),
		order:    make([]string, 0),
		building: make(map[uint64][]string),
		waiting:  make(map[uint64]*entry),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register records how to construct name. constructor must be a function
// returning T or (T, error); params holds, per constructor parameter, the
// name to resolve for it or Zero. Registering a name twice fails with
// DuplicateRegistrationError and leaves the first registration in place.
func (c *Container) Register(name string, constructor any, params ...string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidConstructor)
	}

	fn := reflect.ValueOf(constructor)
	if err := validateConstructor(fn, len(params)); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[name]; exists {
		return &DuplicateRegistrationError{Name: name}
	}

	c.entries[name] = &entry{
		name:   name,
		ctor:   fn,
		params: append([]string(nil), params...),
		state:  Registered,
	}
	c.order = append(c.order, name)

	c.logger.Debug("registered", zap.String("name", name), zap.Strings("params", params))
	return nil
}

// MustRegister is like Register but panics on error
func (c *Container) MustRegister(name string, constructor any, params ...string) {
	if err := c.Register(name, constructor, params...); err != nil {
		panic(err)
	}
}

// Resolve returns the singleton for name, constructing it and its
// dependencies on first use. It is safe to call from constructors.
func (c *Container) Resolve(name string) (any, error) {
	if instance, ok := c.cached(name); ok {
		return instance, nil
	}
	return c.resolve(name, goroutineID())
}

// Has reports whether name is registered
func (c *Container) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.entries[name]
	return ok
}

// State returns the lifecycle state of name
func (c *Container) State(name string) State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.entries[name]; ok {
		return e.state
	}
	return Unregistered
}

// Names returns registered names in registration order
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]string, len(c.order))
	copy(result, c.order)
	return result
}

func (c *Container) cached(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.entries[name]; ok && e.state == Resolved {
		return e.instance, true
	}
	return nil, false
}

// resolve returns the instance for name on behalf of goroutine gid, building
// it or waiting for the goroutine that is.
func (c *Container) resolve(name string, gid uint64) (any, error) {
	c.mu.Lock()

	e, ok := c.entries[name]
	if !ok {
		err := &UnregisteredDependencyError{Name: name}
		if chain := c.building[gid]; len(chain) > 0 {
			err.RequiredBy = chain[len(chain)-1]
		}
		c.mu.Unlock()
		return nil, err
	}

	for {
		switch e.state {
		case Resolved:
			instance := e.instance
			c.mu.Unlock()
			return instance, nil

		case Resolving:
			if c.waitsOn(gid, e) {
				cycle := make([]string, 0, len(c.building[gid])+1)
				cycle = append(cycle, c.building[gid]...)
				cycle = append(cycle, name)
				c.mu.Unlock()
				return nil, &CircularResolutionError{Chain: cycle}
			}

			done := e.done
			c.waiting[gid] = e
			c.mu.Unlock()

			<-done

			c.mu.Lock()
			delete(c.waiting, gid)
			// A failed construction leaves the entry Registered and the
			// next pass of the loop retries it.

		default:
			e.state = Resolving
			e.owner = gid
			e.done = make(chan struct{})
			c.building[gid] = append(c.building[gid], name)
			c.mu.Unlock()

			return c.build(e, gid)
		}
	}
}

// waitsOn reports whether waiting for e would make gid wait on itself: e is
// built by gid, or by a goroutine that is itself (transitively) waiting on
// gid. Called with mu held.
func (c *Container) waitsOn(gid uint64, e *entry) bool {
	for hops := 0; e != nil && hops <= len(c.entries); hops++ {
		if e.owner == gid {
			return true
		}
		e = c.waiting[e.owner]
	}
	return false
}

// build runs the constructor for e and opens its gate
func (c *Container) build(e *entry, gid uint64) (instance any, err error) {
	defer func() {
		c.mu.Lock()
		chain := c.building[gid]
		if len(chain) <= 1 {
			delete(c.building, gid)
		} else {
			c.building[gid] = chain[:len(chain)-1]
		}

		if err != nil {
			e.state = Registered
		} else {
			e.instance = instance
			e.state = Resolved
		}
		e.owner = 0
		close(e.done)
		e.done = nil
		c.mu.Unlock()
	}()

	return c.construct(e, gid)
}

func (c *Container) construct(e *entry, gid uint64) (instance any, err error) {
	fnType := e.ctor.Type()
	args := make([]reflect.Value, len(e.params))

	for i, dep := range e.params {
		paramType := fnType.In(i)
		if dep == Zero {
			args[i] = reflect.Zero(paramType)
			continue
		}

		value, err := c.resolve(dep, gid)
		if err != nil {
			return nil, err
		}

		arg, err := fit(value, paramType)
		if err != nil {
			return nil, &ConstructionError{Name: e.name, Cause: fmt.Errorf("parameter %d (%s): %w", i, dep, err)}
		}
		args[i] = arg
	}

	defer func() {
		if r := recover(); r != nil {
			instance = nil
			err = &ConstructionError{Name: e.name, Cause: fmt.Errorf("constructor panicked: %v", r)}
		}
	}()

	var results []reflect.Value
	if fnType.IsVariadic() {
		results = e.ctor.CallSlice(args)
	} else {
		results = e.ctor.Call(args)
	}

	if len(results) == 2 && !results[1].IsNil() {
		return nil, &ConstructionError{Name: e.name, Cause: results[1].Interface().(error)}
	}

	c.logger.Debug("constructed", zap.String("name", e.name))
	return results[0].Interface(), nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func validateConstructor(fn reflect.Value, params int) error {
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return fmt.Errorf("%w: constructor must be a non-nil function", ErrInvalidConstructor)
	}

	typ := fn.Type()
	if typ.NumIn() != params {
		return fmt.Errorf("%w: constructor takes %d parameters, %d bindings given", ErrInvalidConstructor, typ.NumIn(), params)
	}
	if typ.NumOut() == 0 || typ.NumOut() > 2 {
		return fmt.Errorf("%w: constructor must return T or (T, error)", ErrInvalidConstructor)
	}
	if typ.NumOut() == 2 && !typ.Out(1).Implements(errorType) {
		return fmt.Errorf("%w: second return value must be error", ErrInvalidConstructor)
	}
	return nil
}

func fit(value any, target reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(target), nil
	}
	v := reflect.ValueOf(value)
	if !v.Type().AssignableTo(target) {
		return reflect.Value{}, fmt.Errorf("%w: have %s, want %s", ErrTypeMismatch, v.Type(), target)
	}
	return v, nil
}

// Resolve returns the singleton for name as T
func Resolve[T any](c *Container, name string) (T, error) {
	var zero T

	value, err := c.Resolve(name)
	if err != nil {
		return zero, err
	}

	if value == nil {
		return zero, nil
	}
	typed, ok := value.(T)
	if !ok {
		return zero, &ConstructionError{
			Name:  name,
			Cause: fmt.Errorf("%w: have %T, want %s", ErrTypeMismatch, value, reflect.TypeOf((*T)(nil)).Elem()),
		}
	}
	return typed, nil
}

// MustResolve is like Resolve but panics on error
func MustResolve[T any](c *Container, name string) T {
	value, err := Resolve[T](c, name)
	if err != nil {
		panic(err)
	}
	return value
}

// IsUnregistered reports whether err is, or wraps, an UnregisteredDependencyError
func IsUnregistered(err error) bool {
	var target *UnregisteredDependencyError
	return errors.As(err, &target)
}
