package registry

import (
	"errors"
	"fmt"
)

// Errors returned by registry operations.
var (
	// ErrCycle indicates a parent edge would create a loop.
	ErrCycle = errors.New("mode hierarchy cycle")

	// ErrMissingMode indicates a mode argument was empty or unresolvable.
	ErrMissingMode = errors.New("missing mode")

	// ErrCorruptHierarchy indicates chain traversal exceeded its bound.
	ErrCorruptHierarchy = errors.New("corrupt mode hierarchy")
)

// CycleError describes a rejected parent edge.
type CycleError struct {
	Mode   ID
	Parent ID
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s cannot inherit from %s", ErrCycle, e.Mode, e.Parent)
}

// Is implements error matching for CycleError.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycle
}

// CorruptHierarchyError reports a chain walk that did not terminate within
// the number of registered modes.
type CorruptHierarchyError struct {
	Mode  ID
	Steps int
}

// Error implements the error interface.
func (e *CorruptHierarchyError) Error() string {
	return fmt.Sprintf("%v: chain of %s exceeded %d steps", ErrCorruptHierarchy, e.Mode, e.Steps)
}

// Is implements error matching for CorruptHierarchyError.
func (e *CorruptHierarchyError) Is(target error) bool {
	return target == ErrCorruptHierarchy
}
