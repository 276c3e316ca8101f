// Package scriptengine runs plugin code as sandboxed JavaScript. Each
// invocation gets a fresh goja VM: no state, no timers, and no host object
// survives past the call that created it.
package scriptengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
)

// DefaultMemoryLimit is a 128 MiB heap figure for a VM. Execute does not
// apply it: goja has no hard memory cap, and the only interrupt a running
// script receives is the timeout.
const DefaultMemoryLimit = 128 * 1024 * 1024

// DefaultTimeout is used when a Request does not set one.
const DefaultTimeout = 30 * time.Second

var (
	// ErrNotReady is returned by Execute/ValidateScript before Initialize.
	ErrNotReady = errors.New("scriptengine: not ready")
	// ErrInvalidScript wraps a goja compile error.
	ErrInvalidScript = errors.New("scriptengine: invalid script")
	// ErrHandlerNotFound means the script never registered the requested
	// event or command name.
	ErrHandlerNotFound = errors.New("scriptengine: handler not registered")
)

// Request describes one plugin invocation: run Script (which registers its
// handlers via the register_event/register_command globals), then call
// whichever handler was registered under Name.
type Request struct {
	Script  string
	Name    string
	Input   map[string]any
	Secrets map[string]string
	Timeout time.Duration

	// Bindings are exposed as global JS functions before Script runs, named
	// by their map key. A caller composes a richer object (e.g. a `context`
	// with `.logger`, `.kv`, `.vault` methods) by prepending a small JS shim
	// to Script that wraps these globals -- scriptengine itself knows
	// nothing about what they do. The *goja.Runtime argument lets a binding
	// convert its Go return value back into a goja.Value via vm.ToValue.
	Bindings map[string]func(vm *goja.Runtime, call goja.FunctionCall) goja.Value
}

// Result is the output of one invocation.
type Result struct {
	Output map[string]any
	Logs   []string
}

// Engine executes plugin scripts in isolated goja VMs.
type Engine struct {
	mu    sync.RWMutex
	ready bool
}

// New constructs an Engine. Call Initialize before Execute.
func New() *Engine {
	return &Engine{}
}

func (e *Engine) Initialize(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = true
	return nil
}

func (e *Engine) Shutdown(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = false
	return nil
}

func (e *Engine) isReady() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// ValidateScript checks that script compiles as JavaScript without running
// it. It does not check the import allowlist; that is the caller's job,
// done on the raw source before this (see internal/pluginhost).
func (e *Engine) ValidateScript(_ context.Context, script string) error {
	if !e.isReady() {
		return ErrNotReady
	}
	if _, err := goja.Compile("plugin.js", script, false); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	return nil
}

// Execute runs req.Script to let it register its handlers, then invokes the
// handler registered under req.Name with req.Input. Every call gets its own
// VM: no script can see another call's globals, console output, or
// registrations.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	if !e.isReady() {
		return nil, ErrNotReady
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vm := goja.New()

	var logs []string
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = a.String()
		}
		logs = append(logs, joinArgs(args))
		return goja.Undefined()
	})
	_ = vm.Set("console", console)

	secrets := vm.NewObject()
	for k, v := range req.Secrets {
		_ = secrets.Set(k, v)
	}
	_ = vm.Set("secrets", secrets)

	handlers := vm.NewObject()
	_ = vm.Set("__handlers", handlers)
	_ = vm.RunProgram(mustCompile(builtinPrelude))

	for name, fn := range req.Bindings {
		boundFn := fn
		_ = vm.Set(name, func(call goja.FunctionCall) goja.Value { return boundFn(vm, call) })
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-execCtx.Done():
			vm.Interrupt(execCtx.Err())
		case <-done:
		}
	}()
	defer close(done)

	if _, err := vm.RunString(req.Script); err != nil {
		return nil, fmt.Errorf("run plugin script: %w", err)
	}

	// Entry-point style: a top-level function named req.Name (e.g. a
	// plugin's `activate`). Falls back to a handler registered via
	// register_event/register_command for event/command dispatch.
	fn, ok := goja.AssertFunction(vm.Get(req.Name))
	if !ok {
		handlerVal := handlers.Get(req.Name)
		if handlerVal == nil || goja.IsUndefined(handlerVal) {
			return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, req.Name)
		}
		fn, ok = goja.AssertFunction(handlerVal)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a function", ErrHandlerNotFound, req.Name)
		}
	}

	inputValue := vm.ToValue(req.Input)
	out, err := fn(goja.Undefined(), inputValue)
	if err != nil {
		if execCtx.Err() != nil {
			return nil, kerrors.Timeout("plugin." + req.Name)
		}
		return nil, fmt.Errorf("plugin handler %q: %w", req.Name, err)
	}

	output, convErr := toOutputMap(out)
	if convErr != nil {
		return nil, convErr
	}
	return &Result{Output: output, Logs: logs}, nil
}

// builtinPrelude defines register_event/register_command as the only way a
// plugin script can make a handler reachable: it stashes the function on
// the host-only __handlers object under the given name, keyed identically
// for events and commands since a plugin's manifest already disambiguates
// which contributes{} list a name came from.
const builtinPrelude = `
function register_event(name, fn) { __handlers[name] = fn; }
function register_command(name, fn) { __handlers[name] = fn; }
`

func mustCompile(src string) *goja.Program {
	prog, err := goja.Compile("prelude.js", src, true)
	if err != nil {
		panic("scriptengine: builtin prelude failed to compile: " + err.Error())
	}
	return prog
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func toOutputMap(v goja.Value) (map[string]any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return map[string]any{}, nil
	}
	if m, ok := v.Export().(map[string]interface{}); ok {
		return m, nil
	}
	raw, err := json.Marshal(v.Export())
	if err != nil {
		return nil, kerrors.Internal("encode plugin handler return value", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, kerrors.InvalidFormat("plugin handler return value", "a JSON object")
	}
	return out, nil
}
