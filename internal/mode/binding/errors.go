package binding

import (
	"errors"
	"fmt"
)

// Errors returned by binding installation and flag parsing.
var (
	// ErrConstantRebind indicates an attempt to change a constant binding.
	ErrConstantRebind = errors.New("cannot rebind constant")

	// ErrFlagConflict indicates a name would be both a mode variable and an
	// override target.
	ErrFlagConflict = errors.New("conflicting binding flags")

	// ErrInvalidName indicates an empty binding name.
	ErrInvalidName = errors.New("invalid binding name")

	// ErrUnknownFlag indicates a flag name ParseFlags does not know.
	ErrUnknownFlag = errors.New("unknown binding flag")
)

// ConstantRebindError describes a rejected rebind of a constant binding.
type ConstantRebindError struct {
	// Owner is the table that holds the binding.
	Owner Owner
	// Name is the binding name.
	Name string
	// Current is the value that remains bound.
	Current any
	// Attempted is the rejected value.
	Attempted any
}

// Error implements the error interface.
func (e *ConstantRebindError) Error() string {
	return fmt.Sprintf("%s: %s is constant (value %v, attempted %v)", e.Owner, e.Name, e.Current, e.Attempted)
}

// Is implements error matching for ConstantRebindError.
func (e *ConstantRebindError) Is(target error) bool {
	return target == ErrConstantRebind
}

// FlagConflictError describes a rejected install whose flags clash with the
// existing binding.
type FlagConflictError struct {
	Owner    Owner
	Name     string
	Existing Flags
	Incoming Flags
}

// Error implements the error interface.
func (e *FlagConflictError) Error() string {
	return fmt.Sprintf("%s: %s is bound as %s, cannot bind as %s", e.Owner, e.Name, e.Existing, e.Incoming)
}

// Is implements error matching for FlagConflictError.
func (e *FlagConflictError) Is(target error) bool {
	return target == ErrFlagConflict
}
