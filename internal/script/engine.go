// Package script compiles Lua bodies into overridable operation
// implementations.
//
// Every body is wrapped as `function(...) <body> end`, so arguments are
// reachable through `...` and the first returned value becomes the call
// result. Returning `nil, "message"` reports an error.
//
// All compiled functions share one sandboxed Lua state. gopher-lua states
// are not goroutine-safe, so the engine serializes every compile and call.
package script

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/modelocal/internal/mode/dispatch"
)

// Engine owns the Lua state shared by compiled functions.
type Engine struct {
	mu     sync.Mutex
	L      *lua.LState
	closed bool

	globals map[string]any
}

// Option configures an Engine.
type Option func(*Engine)

// WithGlobal exposes a Go value to scripts as a global.
func WithGlobal(name string, value any) Option {
	return func(e *Engine) {
		e.globals[name] = value
	}
}

// New creates an engine with the base, table, string and math libraries.
func New(opts ...Option) *Engine {
	e := &Engine{globals: make(map[string]any)}
	for _, opt := range opts {
		opt(e)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)
	for name, v := range e.globals {
		L.SetGlobal(name, toLua(L, v))
	}
	e.L = L
	return e
}

// openSafeLibraries opens the libraries scripts may use. io, os, debug and
// package stay closed.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// OpenBase installs loaders that read files.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// Compile turns body into an operation implementation. name labels errors.
func (e *Engine) Compile(name, body string) (dispatch.Func, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	src := "return function(...)\n" + body + "\nend"
	chunk, err := e.L.LoadString(src)
	if err != nil {
		return nil, &Error{Name: name, Err: fmt.Errorf("%w: %v", ErrCompile, err)}
	}

	e.L.Push(chunk)
	if err := e.L.PCall(0, 1, nil); err != nil {
		return nil, &Error{Name: name, Err: fmt.Errorf("%w: %v", ErrCompile, err)}
	}
	fn, ok := e.L.Get(-1).(*lua.LFunction)
	e.L.Pop(1)
	if !ok {
		return nil, &Error{Name: name, Err: ErrCompile}
	}

	return func(ctx context.Context, args ...any) (any, error) {
		return e.call(ctx, name, fn, args)
	}, nil
}

// MustCompile is like Compile but panics on error.
func (e *Engine) MustCompile(name, body string) dispatch.Func {
	fn, err := e.Compile(name, body)
	if err != nil {
		panic(err)
	}
	return fn
}

func (e *Engine) call(ctx context.Context, name string, fn *lua.LFunction, args []any) (result any, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, &Error{Name: name, Err: err}
	}

	L := e.L
	L.SetContext(ctx)
	defer L.RemoveContext()

	top := L.GetTop()
	defer func() {
		L.SetTop(top)
		if r := recover(); r != nil {
			result, err = nil, &Error{Name: name, Err: fmt.Errorf("lua panic: %v", r)}
		}
	}()

	L.Push(fn)
	for _, arg := range args {
		L.Push(toLua(L, arg))
	}
	if err := L.PCall(len(args), lua.MultRet, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &Error{Name: name, Err: ctxErr}
		}
		return nil, &Error{Name: name, Err: err}
	}

	n := L.GetTop() - top
	if n == 0 {
		return nil, nil
	}
	first := L.Get(top + 1)
	if n >= 2 && first == lua.LNil {
		if msg, ok := L.Get(top + 2).(lua.LString); ok {
			return nil, &Error{Name: name, Err: fmt.Errorf("%w: %s", ErrScript, string(msg))}
		}
	}
	return toGo(first), nil
}

// Close releases the Lua state. Compiled functions fail with ErrClosed
// afterwards. It is safe to call Close multiple times.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	e.L.Close()
}
