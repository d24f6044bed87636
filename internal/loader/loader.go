// Package loader reads mode definition files.
//
// A definition file declares modes with their parents, variables,
// constants and Lua-bodied overrides, overridable operations with Lua
// defaults, and obsolete names for operations and modes. The same shape is
// accepted as TOML, YAML or JSON with comments; the format is chosen by
// file extension.
//
// Files are decoded into format-neutral maps first and then into File with
// mapstructure, so every format is validated by the same rules.
package loader

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Format identifies a definition file syntax.
type Format int

const (
	// FormatUnknown is an unrecognized extension.
	FormatUnknown Format = iota
	// FormatTOML is TOML.
	FormatTOML
	// FormatYAML is YAML.
	FormatYAML
	// FormatJSONC is JSON with comments and trailing commas.
	FormatJSONC
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatTOML:
		return "toml"
	case FormatYAML:
		return "yaml"
	case FormatJSONC:
		return "jsonc"
	default:
		return "unknown"
	}
}

// FormatFor returns the format implied by path's extension.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	case ".yaml", ".yml":
		return FormatYAML
	case ".json", ".jsonc":
		return FormatJSONC
	default:
		return FormatUnknown
	}
}

// File is a decoded definition file.
type File struct {
	// Path is the file the definitions were read from.
	Path string `mapstructure:"-"`

	Version       string         `mapstructure:"version"`
	Modes         []ModeDef      `mapstructure:"modes"`
	Operations    []OperationDef `mapstructure:"operations"`
	Obsolete      []LinkDef      `mapstructure:"obsolete"`
	ObsoleteModes []LinkDef      `mapstructure:"obsolete_modes"`
}

// ModeDef declares one mode.
type ModeDef struct {
	Name   string `mapstructure:"name"`
	Parent string `mapstructure:"parent"`

	// Variables are materialized into documents that activate the mode.
	Variables map[string]any `mapstructure:"variables"`

	// Constants cannot be rebound to another value.
	Constants map[string]any `mapstructure:"constants"`

	// Values are plain bindings resolved through the chain but never
	// materialized.
	Values map[string]any `mapstructure:"values"`

	// Overrides map operation names to Lua bodies.
	Overrides map[string]string `mapstructure:"overrides"`
}

// OperationDef declares an overridable operation.
type OperationDef struct {
	Name string `mapstructure:"name"`

	// Default is a Lua body; empty means no default.
	Default string `mapstructure:"default"`
}

// LinkDef records an obsolete name and its replacement.
type LinkDef struct {
	Old   string `mapstructure:"old"`
	New   string `mapstructure:"new"`
	Since string `mapstructure:"since"`
}

// FileSystem is the file access the loader needs.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	Stat(path string) (fs.FileInfo, error)
}

// OSFS implements FileSystem using the real OS file system.
type OSFS struct{}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Stat returns file info for path.
func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// Loader reads definition files.
type Loader struct {
	fs FileSystem
}

// Option configures a Loader.
type Option func(*Loader)

// WithFS sets the file system. The default is OSFS.
func WithFS(fsys FileSystem) Option {
	return func(l *Loader) {
		if fsys != nil {
			l.fs = fsys
		}
	}
}

// New creates a loader.
func New(opts ...Option) *Loader {
	l := &Loader{fs: OSFS{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads and decodes the file at path.
func (l *Loader) Load(path string) (*File, error) {
	data, err := l.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definitions %s: %w", path, err)
	}
	return Parse(path, data)
}

// LoadAll loads every path in order, stopping at the first failure.
func (l *Loader) LoadAll(paths []string) ([]*File, error) {
	files := make([]*File, 0, len(paths))
	for _, p := range paths {
		f, err := l.Load(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// Load reads path with the OS file system.
func Load(path string) (*File, error) {
	return New().Load(path)
}

// Parse decodes data using the format implied by path.
func Parse(path string, data []byte) (*File, error) {
	return ParseFormat(FormatFor(path), path, data)
}

// ParseFormat decodes data in the given format. source labels errors.
func ParseFormat(format Format, source string, data []byte) (*File, error) {
	var raw map[string]any
	var err error

	switch format {
	case FormatTOML:
		raw, err = parseTOML(source, data)
	case FormatYAML:
		raw, err = parseYAML(source, data)
	case FormatJSONC:
		raw, err = parseJSONC(source, data)
	default:
		return nil, &ParseError{Path: source, Message: "unsupported file extension", Err: ErrUnsupportedFormat}
	}
	if err != nil {
		return nil, err
	}

	f, err := decode(source, raw)
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func decode(source string, raw map[string]any) (*File, error) {
	f := &File{Path: source}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           f,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("decoder creation failed: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, &ParseError{Path: source, Message: err.Error(), Err: err}
	}

	// Decoders disagree on integer widths; settle on int64.
	for i := range f.Modes {
		normalizeMap(f.Modes[i].Variables)
		normalizeMap(f.Modes[i].Constants)
		normalizeMap(f.Modes[i].Values)
	}
	return f, nil
}
