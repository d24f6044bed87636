package loader

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrUnsupportedFormat indicates a file extension with no parser.
	ErrUnsupportedFormat = errors.New("unsupported definition format")

	// ErrInvalidDefinition indicates a well-formed file with bad content.
	ErrInvalidDefinition = errors.New("invalid definition")
)

// ParseError represents a definition file that could not be decoded.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// DefinitionError reports invalid content at a location in a file.
type DefinitionError struct {
	Path    string
	Where   string
	Message string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Path, e.Where, e.Message)
}

// Is reports whether target is ErrInvalidDefinition.
func (e *DefinitionError) Is(target error) bool {
	return target == ErrInvalidDefinition
}
