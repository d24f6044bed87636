package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/modelocal/internal/mode"
	"github.com/dshills/modelocal/internal/mode/binding"
	"github.com/dshills/modelocal/internal/mode/obsolete"
	"github.com/dshills/modelocal/internal/mode/registry"
	"github.com/dshills/modelocal/internal/script"
)

// The code mode is declared before its parent on purpose.
const definitionsTOML = `
version = "1.0.0"

[[modes]]
name = "code"
parent = "text"
[modes.variables]
indentWidth = 2
[modes.overrides]
format = 'return "code-formatted"'

[[modes]]
name = "text"
[modes.variables]
indentWidth = 4
[modes.constants]
commentStart = "#"
[modes.values]
margins = { left = 1, right = 2 }

[[operations]]
name = "format"
default = 'return "plain"'

[[obsolete]]
old = "fmt"
new = "format"
since = "1.2.0"

[[obsolete_modes]]
old = "prog"
new = "code"
since = "0.9.0"
`

const definitionsYAML = `
version: "1.0.0"
modes:
  - name: code
    parent: text
    variables:
      indentWidth: 2
    overrides:
      format: return "code-formatted"
  - name: text
    variables:
      indentWidth: 4
    constants:
      commentStart: "#"
    values:
      margins: {left: 1, right: 2}
operations:
  - name: format
    default: return "plain"
obsolete:
  - {old: fmt, new: format, since: "1.2.0"}
obsolete_modes:
  - {old: prog, new: code, since: "0.9.0"}
`

const definitionsJSONC = `{
  // modes
  "version": "1.0.0",
  "modes": [
    {
      "name": "code",
      "parent": "text",
      "variables": {"indentWidth": 2},
      "overrides": {"format": "return \"code-formatted\""},
    },
    {
      "name": "text",
      "variables": {"indentWidth": 4},
      "constants": {"commentStart": "#"},
      "values": {"margins": {"left": 1, "right": 2}},
    },
  ],
  /* operations */
  "operations": [{"name": "format", "default": "return \"plain\""}],
  "obsolete": [{"old": "fmt", "new": "format", "since": "1.2.0"}],
  "obsolete_modes": [{"old": "prog", "new": "code", "since": "0.9.0"}],
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"modes.toml", FormatTOML},
		{"modes.YAML", FormatYAML},
		{"modes.yml", FormatYAML},
		{"modes.json", FormatJSONC},
		{"modes.jsonc", FormatJSONC},
		{"modes.ini", FormatUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatFor(tt.path), tt.path)
	}
}

func TestLoad_AllFormatsAgree(t *testing.T) {
	inputs := map[string]string{
		"defs.toml":  definitionsTOML,
		"defs.yaml":  definitionsYAML,
		"defs.jsonc": definitionsJSONC,
	}

	for name, content := range inputs {
		t.Run(name, func(t *testing.T) {
			f, err := Load(writeFile(t, name, content))
			require.NoError(t, err)

			assert.Equal(t, "1.0.0", f.Version)
			require.Len(t, f.Modes, 2)
			assert.Equal(t, "code", f.Modes[0].Name)
			assert.Equal(t, "text", f.Modes[0].Parent)
			assert.Equal(t, map[string]any{"indentWidth": int64(2)}, f.Modes[0].Variables)
			assert.Equal(t, `return "code-formatted"`, f.Modes[0].Overrides["format"])
			assert.Equal(t, map[string]any{"commentStart": "#"}, f.Modes[1].Constants)
			assert.Equal(t, map[string]any{"left": int64(1), "right": int64(2)}, f.Modes[1].Values["margins"])
			assert.Equal(t, []OperationDef{{Name: "format", Default: `return "plain"`}}, f.Operations)
			assert.Equal(t, []LinkDef{{Old: "fmt", New: "format", Since: "1.2.0"}}, f.Obsolete)
			assert.Equal(t, []LinkDef{{Old: "prog", New: "code", Since: "0.9.0"}}, f.ObsoleteModes)
		})
	}
}

func TestApply(t *testing.T) {
	f, err := Parse("defs.toml", []byte(definitionsTOML))
	require.NoError(t, err)

	rt := mode.New()
	defer rt.Close()
	scripts := script.New()
	defer scripts.Close()

	require.NoError(t, Apply(rt, f, scripts))

	chain, err := rt.Chain("code")
	require.NoError(t, err)
	assert.Equal(t, []registry.ID{"code", "text"}, chain)

	codeDoc, err := rt.NewDocument("a.go", "code")
	require.NoError(t, err)
	textDoc, err := rt.NewDocument("a.txt", "text")
	require.NoError(t, err)

	var width int
	require.NoError(t, rt.Decode("indentWidth", codeDoc, &width))
	assert.Equal(t, 2, width)
	require.NoError(t, rt.Decode("indentWidth", textDoc, &width))
	assert.Equal(t, 4, width)

	ctx := context.Background()
	got, err := rt.Call(ctx, "format", codeDoc)
	require.NoError(t, err)
	assert.Equal(t, "code-formatted", got)

	got, err = rt.Call(ctx, "format", textDoc)
	require.NoError(t, err)
	assert.Equal(t, "plain", got)

	got, err = rt.Call(ctx, "fmt", codeDoc)
	require.NoError(t, err)
	assert.Equal(t, "code-formatted", got)

	progDoc, err := rt.NewDocument("a.c", "prog")
	require.NoError(t, err)
	assert.Equal(t, registry.ID("code"), progDoc.Mode())

	err = rt.BindInMode("text", "commentStart", "//", binding.None)
	assert.ErrorIs(t, err, binding.ErrConstantRebind)
}

func TestApply_Idempotent(t *testing.T) {
	f, err := Parse("defs.yaml", []byte(definitionsYAML))
	require.NoError(t, err)

	rt := mode.New()
	defer rt.Close()
	scripts := script.New()
	defer scripts.Close()

	require.NoError(t, Apply(rt, f, scripts))
	before, err := rt.Describe("code")
	require.NoError(t, err)

	require.NoError(t, Apply(rt, f, scripts))
	after, err := rt.Describe("code")
	require.NoError(t, err)

	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Name, after[i].Name)
		assert.Equal(t, before[i].Source, after[i].Source)
		assert.Equal(t, before[i].Flags, after[i].Flags)
	}
}

func TestApply_NilCompiler(t *testing.T) {
	f, err := Parse("defs.toml", []byte(definitionsTOML))
	require.NoError(t, err)

	rt := mode.New()
	defer rt.Close()

	err = Apply(rt, f, nil)
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestApply_ValidatesFile(t *testing.T) {
	tests := []struct {
		name string
		file *File
	}{
		{"obsolete since", &File{Obsolete: []LinkDef{{Old: "fmt", New: "format", Since: "1.x"}}}},
		{"obsolete mode since", &File{ObsoleteModes: []LinkDef{{Old: "prog", New: "code", Since: "one"}}}},
		{"missing link target", &File{Obsolete: []LinkDef{{Old: "fmt"}}}},
		{"missing mode name", &File{Modes: []ModeDef{{Parent: "text"}}}},
		{"bad version", &File{Version: "x.y", Modes: []ModeDef{{Name: "text"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := mode.New()
			defer rt.Close()

			var err error
			require.NotPanics(t, func() { err = Apply(rt, tt.file, nil) })
			assert.ErrorIs(t, err, ErrInvalidDefinition)
			assert.Empty(t, rt.Registry().Modes())
		})
	}
}

func TestApply_BadScript(t *testing.T) {
	f, err := Parse("defs.toml", []byte(`
[[operations]]
name = "broken"
default = "return ("
`))
	require.NoError(t, err)

	rt := mode.New()
	defer rt.Close()
	scripts := script.New()
	defer scripts.Close()

	err = Apply(rt, f, scripts)
	assert.ErrorIs(t, err, script.ErrCompile)
}

func TestApplyAll_LaterFilesExtend(t *testing.T) {
	base, err := Parse("base.toml", []byte(`
[[modes]]
name = "text"
[modes.variables]
fill = 70
`))
	require.NoError(t, err)
	extra, err := Parse("extra.yaml", []byte(`
modes:
  - name: markdown
    parent: text
    variables:
      fill: 80
`))
	require.NoError(t, err)

	rt := mode.New()
	defer rt.Close()
	require.NoError(t, ApplyAll(rt, []*File{base, extra}, nil))

	v, ok, err := rt.LookupModeValue("fill", "markdown", binding.ModeVariable)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(80), v)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		content  string
		target   error
		wantLine int
	}{
		{"unsupported", "defs.ini", "", ErrUnsupportedFormat, 0},
		{"toml syntax", "defs.toml", "version = \"1\"\n[[modes]\n", nil, 2},
		{"yaml syntax", "defs.yaml", "modes:\n  - name: [\n", nil, 0},
		{"jsonc syntax", "defs.jsonc", "{\n  \"version\": @\n}", nil, 2},
		{"unknown key", "defs.toml", "versoin = \"1\"\n", nil, 0},
		{"missing mode name", "defs.toml", "[[modes]]\nparent = \"x\"\n", ErrInvalidDefinition, 0},
		{"duplicate mode", "defs.yaml", "modes: [{name: a}, {name: a}]\n", ErrInvalidDefinition, 0},
		{"self parent", "defs.yaml", "modes: [{name: a, parent: a}]\n", ErrInvalidDefinition, 0},
		{"bad version", "defs.toml", "version = \"one\"\n", ErrInvalidDefinition, 0},
		{"incomplete link", "defs.toml", "[[obsolete]]\nold = \"x\"\n", ErrInvalidDefinition, 0},
		{"bad since", "defs.toml", "[[obsolete]]\nold = \"x\"\nnew = \"y\"\nsince = \"soon\"\n", ErrInvalidDefinition, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.path, []byte(tt.content))
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
				return
			}

			var perr *ParseError
			require.True(t, errors.As(err, &perr), "error %T is not *ParseError: %v", err, err)
			assert.Equal(t, tt.path, perr.Path)
			if tt.wantLine > 0 {
				assert.Equal(t, tt.wantLine, perr.Line)
			}
		})
	}
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := New().Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoader_LoadAll(t *testing.T) {
	a := writeFile(t, "a.toml", "[[modes]]\nname = \"text\"\n")
	b := writeFile(t, "b.yaml", "modes: [{name: code, parent: text}]\n")

	files, err := New().LoadAll([]string{a, b})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, a, files[0].Path)
	assert.Equal(t, "code", files[1].Modes[0].Name)

	_, err = New().LoadAll([]string{a, filepath.Join(t.TempDir(), "missing.toml")})
	assert.Error(t, err)
}

func TestObsoleteVersionsParsed(t *testing.T) {
	f, err := Parse("defs.toml", []byte(definitionsTOML))
	require.NoError(t, err)

	rt := mode.New()
	defer rt.Close()
	require.NoError(t, Apply(rt, f, script.New()))

	link, ok := rt.Tracker().Successor(obsolete.KindOperation, "fmt")
	require.True(t, ok)
	assert.Equal(t, obsolete.Version{Major: 1, Minor: 2}, link.Since)
}
