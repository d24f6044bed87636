package script

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrClosed indicates the engine was closed.
	ErrClosed = errors.New("script engine closed")

	// ErrCompile indicates a body that is not valid Lua.
	ErrCompile = errors.New("compile error")

	// ErrScript indicates a script reported failure by returning nil and a message.
	ErrScript = errors.New("script error")
)

// Error reports a failure compiling or running a named script.
type Error struct {
	Name string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("script %s: %v", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}
