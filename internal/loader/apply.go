package loader

import (
	"fmt"
	"sort"

	"github.com/dshills/modelocal/internal/mode/binding"
	"github.com/dshills/modelocal/internal/mode/dispatch"
	"github.com/dshills/modelocal/internal/mode/obsolete"
	"github.com/dshills/modelocal/internal/mode/registry"
)

// Target receives the definitions of a file. *mode.Runtime implements it.
type Target interface {
	RegisterMode(id, parent registry.ID) error
	BindInMode(mode registry.ID, name string, value any, flags binding.Flags) error
	DefineOverridableOperation(name string, def dispatch.Func) error
	DefineOverride(name string, mode registry.ID, impl dispatch.Func) error
	MarkObsolete(oldName, newName string, since obsolete.Version) error
	MarkObsoleteMode(oldName, newName registry.ID, since obsolete.Version) error
}

// Compiler turns Lua bodies into operation implementations.
// *script.Engine implements it.
type Compiler interface {
	Compile(name, body string) (dispatch.Func, error)
}

// Validate checks the file for missing names and malformed versions.
func (f *File) Validate() error {
	if _, err := obsolete.ParseVersion(f.Version); err != nil {
		return &DefinitionError{Path: f.Path, Where: "version", Message: err.Error()}
	}

	seen := make(map[string]bool, len(f.Modes))
	for i, m := range f.Modes {
		if m.Name == "" {
			return &DefinitionError{Path: f.Path, Where: fmt.Sprintf("modes[%d]", i), Message: "missing name"}
		}
		if seen[m.Name] {
			return &DefinitionError{Path: f.Path, Where: "mode " + m.Name, Message: "declared twice"}
		}
		seen[m.Name] = true
		if m.Parent == m.Name {
			return &DefinitionError{Path: f.Path, Where: "mode " + m.Name, Message: "is its own parent"}
		}
	}

	for i, op := range f.Operations {
		if op.Name == "" {
			return &DefinitionError{Path: f.Path, Where: fmt.Sprintf("operations[%d]", i), Message: "missing name"}
		}
	}

	check := func(section string, links []LinkDef) error {
		for i, l := range links {
			where := fmt.Sprintf("%s[%d]", section, i)
			if l.Old == "" || l.New == "" {
				return &DefinitionError{Path: f.Path, Where: where, Message: "old and new are required"}
			}
			if _, err := obsolete.ParseVersion(l.Since); err != nil {
				return &DefinitionError{Path: f.Path, Where: where, Message: err.Error()}
			}
		}
		return nil
	}
	if err := check("obsolete", f.Obsolete); err != nil {
		return err
	}
	return check("obsolete_modes", f.ObsoleteModes)
}

// orderedModes returns the file's modes with every parent declared in the
// file placed before its children. Declaration order is kept otherwise.
func (f *File) orderedModes() []ModeDef {
	byName := make(map[string]ModeDef, len(f.Modes))
	for _, m := range f.Modes {
		byName[m.Name] = m
	}

	result := make([]ModeDef, 0, len(f.Modes))
	state := make(map[string]int) // 1 visiting, 2 done
	var visit func(m ModeDef)
	visit = func(m ModeDef) {
		if state[m.Name] != 0 {
			return
		}
		state[m.Name] = 1
		if p, ok := byName[m.Parent]; ok {
			visit(p)
		}
		state[m.Name] = 2
		result = append(result, m)
	}
	for _, m := range f.Modes {
		visit(m)
	}
	return result
}

// Apply installs the file's definitions into t. Lua bodies are compiled
// with c; a nil c rejects files that contain overrides or defaults. The
// file is validated first, so a File built in code gets the same checks
// as a parsed one.
//
// Mode aliases are recorded first so later names can refer to them, then
// modes are registered parents first, then bindings, operations and
// operation links. Applying an unchanged file again leaves t unchanged
// apart from recompiled Lua functions.
func Apply(t Target, f *File, c Compiler) error {
	if err := f.Validate(); err != nil {
		return err
	}

	for _, l := range f.ObsoleteModes {
		since, _ := obsolete.ParseVersion(l.Since) // checked by Validate
		if err := t.MarkObsoleteMode(registry.ID(l.Old), registry.ID(l.New), since); err != nil {
			return fmt.Errorf("%s: obsolete mode %s: %w", f.Path, l.Old, err)
		}
	}

	modes := f.orderedModes()
	for _, m := range modes {
		if err := t.RegisterMode(registry.ID(m.Name), registry.ID(m.Parent)); err != nil {
			return fmt.Errorf("%s: %w", f.Path, err)
		}
	}

	for _, m := range modes {
		id := registry.ID(m.Name)
		if err := bindAll(t, id, m.Values, binding.None); err != nil {
			return fmt.Errorf("%s: %w", f.Path, err)
		}
		if err := bindAll(t, id, m.Variables, binding.ModeVariable); err != nil {
			return fmt.Errorf("%s: %w", f.Path, err)
		}
		if err := bindAll(t, id, m.Constants, binding.Constant); err != nil {
			return fmt.Errorf("%s: %w", f.Path, err)
		}

		for _, op := range sortedNames(m.Overrides) {
			impl, err := compile(c, f.Path, m.Name+"/"+op, m.Overrides[op])
			if err != nil {
				return err
			}
			if err := t.DefineOverride(op, id, impl); err != nil {
				return fmt.Errorf("%s: %w", f.Path, err)
			}
		}
	}

	for _, op := range f.Operations {
		var def dispatch.Func
		if op.Default != "" {
			var err error
			if def, err = compile(c, f.Path, op.Name, op.Default); err != nil {
				return err
			}
		}
		if err := t.DefineOverridableOperation(op.Name, def); err != nil {
			return fmt.Errorf("%s: operation %s: %w", f.Path, op.Name, err)
		}
	}

	for _, l := range f.Obsolete {
		since, _ := obsolete.ParseVersion(l.Since)
		if err := t.MarkObsolete(l.Old, l.New, since); err != nil {
			return fmt.Errorf("%s: obsolete %s: %w", f.Path, l.Old, err)
		}
	}
	return nil
}

// ApplyAll applies files in order.
func ApplyAll(t Target, files []*File, c Compiler) error {
	for _, f := range files {
		if err := Apply(t, f, c); err != nil {
			return err
		}
	}
	return nil
}

func bindAll(t Target, mode registry.ID, values map[string]any, flags binding.Flags) error {
	for _, name := range sortedNames(values) {
		if err := t.BindInMode(mode, name, values[name], flags); err != nil {
			return err
		}
	}
	return nil
}

func compile(c Compiler, path, name, body string) (dispatch.Func, error) {
	if c == nil {
		return nil, &DefinitionError{Path: path, Where: name, Message: "script bodies need a compiler"}
	}
	fn, err := c.Compile(name, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fn, nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
