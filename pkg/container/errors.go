package container

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTypeMismatch is wrapped by ConstructionError when a resolved dependency
// or instance does not fit the requested type.
var ErrTypeMismatch = errors.New("type mismatch")

// ErrInvalidConstructor is returned by Register for values that are not
// usable constructor functions.
var ErrInvalidConstructor = errors.New("invalid constructor")

// UnregisteredDependencyError is returned when resolving a name that was
// never registered.
type UnregisteredDependencyError struct {
	Name string
	// RequiredBy is the class whose construction needed Name, empty for a
	// direct Resolve call.
	RequiredBy string
}

func (e *UnregisteredDependencyError) Error() string {
	if e.RequiredBy != "" {
		return fmt.Sprintf("unregistered dependency %s required by %s", e.Name, e.RequiredBy)
	}
	return fmt.Sprintf("unregistered dependency %s", e.Name)
}

// CircularResolutionError is returned when a class is needed again while it
// is still being constructed.
type CircularResolutionError struct {
	Chain []string
}

func (e *CircularResolutionError) Error() string {
	return fmt.Sprintf("circular resolution: %s", strings.Join(e.Chain, " -> "))
}

// DuplicateRegistrationError is returned when a name is registered twice.
type DuplicateRegistrationError struct {
	Name string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("%s is already registered", e.Name)
}

// ConstructionError wraps a failure raised while building an instance.
type ConstructionError struct {
	Name  string
	Cause error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("failed to construct %s: %v", e.Name, e.Cause)
}

func (e *ConstructionError) Unwrap() error {
	return e.Cause
}
