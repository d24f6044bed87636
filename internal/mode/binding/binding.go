// Package binding provides the typed binding record and the per-owner
// binding table used by modes and documents.
//
// A Binding associates a name with an arbitrary value and a set of flags.
// Flags control how the binding may be rebound (Constant) and what role it
// plays during resolution (ModeVariable for values materialized into a
// document on activation, Override for specialized operation
// implementations).
package binding

import (
	"fmt"
	"reflect"
	"strings"
)

// Flags is a bitset of binding attributes.
type Flags uint8

const (
	// Constant prevents rebinding the name to a different value.
	Constant Flags = 1 << iota

	// ModeVariable marks a value copied into document-local state when a
	// document activates the owning mode.
	ModeVariable

	// Override marks a specialized implementation of an overridable
	// operation.
	Override
)

// None is the empty flag set.
const None Flags = 0

// Has reports whether all flags in other are set.
func (f Flags) Has(other Flags) bool {
	return f&other == other
}

// Valid reports whether the flag set is internally consistent.
// ModeVariable and Override are mutually exclusive.
func (f Flags) Valid() bool {
	return !f.Has(ModeVariable | Override)
}

// conflicts reports whether f and other assign incompatible roles.
func (f Flags) conflicts(other Flags) bool {
	return (f.Has(ModeVariable) && other.Has(Override)) ||
		(f.Has(Override) && other.Has(ModeVariable))
}

// String returns a human-readable flag list, e.g. "constant|mode-variable".
func (f Flags) String() string {
	if f == None {
		return "none"
	}
	var parts []string
	if f.Has(Constant) {
		parts = append(parts, "constant")
	}
	if f.Has(ModeVariable) {
		parts = append(parts, "mode-variable")
	}
	if f.Has(Override) {
		parts = append(parts, "override")
	}
	return strings.Join(parts, "|")
}

// ParseFlags parses a flag list produced by Flags.String. An empty string
// and "none" parse as None. Unknown names are rejected with ErrUnknownFlag.
func ParseFlags(s string) (Flags, error) {
	var f Flags
	for _, part := range strings.Split(s, "|") {
		switch name := strings.TrimSpace(part); name {
		case "", "none":
		case "constant":
			f |= Constant
		case "mode-variable", "variable":
			f |= ModeVariable
		case "override":
			f |= Override
		default:
			return None, fmt.Errorf("%w: %q", ErrUnknownFlag, name)
		}
	}
	return f, nil
}

// Binding is a named value with flags.
type Binding struct {
	Name  string
	Value any
	Flags Flags
}

// IsConstant reports whether the binding is constant.
func (b Binding) IsConstant() bool { return b.Flags.Has(Constant) }

// IsModeVariable reports whether the binding is a mode variable.
func (b Binding) IsModeVariable() bool { return b.Flags.Has(ModeVariable) }

// IsOverride reports whether the binding is an operation override.
func (b Binding) IsOverride() bool { return b.Flags.Has(Override) }

// Equal reports whether two binding values are the same.
// Function values never compare equal, since closures built from the same
// literal share a code pointer; rebinding a function always replaces it.
// Everything else uses reflect.DeepEqual.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.ValueOf(a).Kind() == reflect.Func || reflect.ValueOf(b).Kind() == reflect.Func {
		return false
	}
	return reflect.DeepEqual(a, b)
}
