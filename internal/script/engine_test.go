package script

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestEngine_CompileAndCall(t *testing.T) {
	e := New()
	defer e.Close()

	tests := []struct {
		name string
		body string
		args []any
		want any
	}{
		{"string", `return "code-formatted"`, nil, "code-formatted"},
		{"integer", `return 2`, nil, int64(2)},
		{"float", `return 1.5`, nil, 1.5},
		{"nothing", ``, nil, nil},
		{"args", `local a, b = ...; return a .. "-" .. b`, []any{"x", "y"}, "x-y"},
		{"arithmetic", `local n = ...; return n * 2`, []any{21}, int64(42)},
		{"sequence", `return {1, 2, 3}`, nil, []any{int64(1), int64(2), int64(3)}},
		{"map", `return {width = 4}`, nil, map[string]any{"width": int64(4)}},
		{"table arg", `local t = ...; return t.name`, []any{map[string]any{"name": "code"}}, "code"},
		{"string lib", `return string.upper("plain")`, nil, "PLAIN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := e.Compile(tt.name, tt.body)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			got, err := fn(context.Background(), tt.args...)
			if err != nil {
				t.Fatalf("call error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("result = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestEngine_CompileError(t *testing.T) {
	e := New()
	defer e.Close()

	_, err := e.Compile("broken", `return (`)
	if !errors.Is(err, ErrCompile) {
		t.Fatalf("Compile() error = %v, want ErrCompile", err)
	}
	var serr *Error
	if !errors.As(err, &serr) || serr.Name != "broken" {
		t.Errorf("error = %#v, want *Error named broken", err)
	}
}

func TestEngine_RuntimeErrors(t *testing.T) {
	e := New()
	defer e.Close()

	raised := e.MustCompile("raise", `error("boom")`)
	if _, err := raised(context.Background()); err == nil {
		t.Error("error() in script returned nil error")
	}

	reported := e.MustCompile("report", `return nil, "bad input"`)
	_, err := reported(context.Background())
	if !errors.Is(err, ErrScript) {
		t.Errorf("nil, msg return error = %v, want ErrScript", err)
	}
}

func TestEngine_Sandbox(t *testing.T) {
	e := New()
	defer e.Close()

	fn := e.MustCompile("sandbox", `return type(os) .. "," .. type(io) .. "," .. type(dofile)`)
	got, err := fn(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "nil,nil,nil" {
		t.Errorf("visible unsafe globals: %v", got)
	}
}

func TestEngine_ContextCancel(t *testing.T) {
	e := New()
	defer e.Close()

	loop := e.MustCompile("loop", `while true do end`)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := loop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}

	// The state stays usable after a cancelled call.
	ok := e.MustCompile("ok", `return true`)
	if got, err := ok(context.Background()); err != nil || got != true {
		t.Errorf("after cancel = %v, %v", got, err)
	}
}

func TestEngine_Globals(t *testing.T) {
	e := New(WithGlobal("prefix", ">> "))
	defer e.Close()

	fn := e.MustCompile("greet", `local name = ...; return prefix .. name`)
	got, err := fn(context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if got != ">> hi" {
		t.Errorf("result = %v", got)
	}
}

func TestEngine_Closed(t *testing.T) {
	e := New()
	fn := e.MustCompile("x", `return 1`)
	e.Close()
	e.Close()

	if _, err := fn(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("call after Close error = %v, want ErrClosed", err)
	}
	if _, err := e.Compile("y", `return 1`); !errors.Is(err, ErrClosed) {
		t.Errorf("Compile after Close error = %v, want ErrClosed", err)
	}
}
