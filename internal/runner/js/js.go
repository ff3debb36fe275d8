// SPDX-License-Identifier: GPL-3.0-or-later

// Package js implements the JavaScript Runner over goja: each invocation
// gets a fresh, single-use goja.Runtime with a slipway_host global object
// exposing the capability set, so no guest script can observe another
// invocation's state or outlive its wall-clock budget.
package js

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/dop251/goja"

	"github.com/slipwayhq/slipway/internal/component"
	"github.com/slipwayhq/slipway/internal/host"
	"github.com/slipwayhq/slipway/internal/permission"
	"github.com/slipwayhq/slipway/internal/runner"
)

// entrypoint is the guest-exported function a component source may define:
// `export async function run(input) { return output }` (or its
// non-async form). Alternatively a source may skip the function
// entirely and assign the top-level `export let output = run(input)`.
// Either way input is the decoded canonical input value and the final
// output is re-encoded and validated against the output schema.
const entrypoint = "run"

// outputBinding is the top-level identifier the second documented guest
// style assigns its result to, in place of exporting a run function.
const outputBinding = "output"

// exportRe strips ES-module `export` syntax from guest source so goja --
// which compiles source as a plain script, not a module, and does not
// parse import/export declarations -- can run it. Only the leading
// `export` keyword on a declaration is module-specific here; everything
// after it (`async function run(input) {...}`, `let output = ...`) is
// ordinary script syntax once it's gone.
var exportRe = regexp.MustCompile(`(?m)^(\s*)export\s+`)

func stripExportSyntax(src string) string {
	return exportRe.ReplaceAllString(src, "$1")
}

// Runner executes JS-backed components.
type Runner struct {
	timeout time.Duration
}

// New builds a Runner. timeout defaults to 30s when zero.
func New(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{timeout: timeout}
}

// Invoke implements runner.Runner.
func (r *Runner) Invoke(ctx context.Context, def *component.Definition, canonicalInput []byte, frame *permission.Frame, h host.Host) (out any, err error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	defer func() {
		if rec := recover(); rec != nil {
			err = runner.Panic(fmt.Sprintf("%v", rec))
		}
	}()

	if ierr := installHost(vm, h); ierr != nil {
		return nil, runner.Internal("installing host bindings", ierr)
	}

	var decodedInput any
	if len(canonicalInput) > 0 {
		if uerr := json.Unmarshal(canonicalInput, &decodedInput); uerr != nil {
			return nil, runner.SchemaMismatch(runner.SchemaSideInput, "invalid canonical input JSON", uerr)
		}
	}
	// Bound before the program runs: the `export let output = run(input)`
	// style references this identifier inline in its top-level statement.
	_ = vm.Set("input", vm.ToValue(decodedInput))

	program, perr := goja.Compile(def.Ref.String(), stripExportSyntax(string(def.Payload)), false)
	if perr != nil {
		return nil, runner.Internal("compiling script", perr)
	}

	stop := make(chan struct{})
	timer := time.AfterFunc(r.timeout, func() {
		vm.Interrupt("timeout")
		close(stop)
	})
	defer timer.Stop()

	if _, rerr := vm.RunProgram(program); rerr != nil {
		if isInterrupted(rerr) {
			return nil, runner.Timeout()
		}
		return nil, runner.Internal("evaluating script", rerr)
	}

	result, rerr := r.callEntrypoint(vm, decodedInput)
	if rerr != nil {
		if isInterrupted(rerr) {
			return nil, runner.Timeout()
		}
		return nil, rerr
	}

	decoded, rerr := resolveResult(result)
	if rerr != nil {
		return nil, rerr
	}

	if verr := def.ValidateOutput(decoded); verr != nil {
		return nil, runner.SchemaMismatch(runner.SchemaSideOutput, verr.Error(), verr)
	}
	return decoded, nil
}

// callEntrypoint invokes whichever of the two documented guest styles the
// script used: an exported run(input) function, called here with the
// decoded input, or a top-level `output` binding the script has already
// assigned by the time the program finishes running.
func (r *Runner) callEntrypoint(vm *goja.Runtime, decodedInput any) (goja.Value, error) {
	if runFn, ok := goja.AssertFunction(vm.Get(entrypoint)); ok {
		result, rerr := runFn(goja.Undefined(), vm.ToValue(decodedInput))
		if rerr != nil {
			return nil, runner.Internal("invoking run()", rerr)
		}
		return result, nil
	}
	if out := vm.Get(outputBinding); out != nil && !goja.IsUndefined(out) {
		return out, nil
	}
	return nil, runner.Internal(fmt.Sprintf("script exports neither a %s function nor an %s binding", entrypoint, outputBinding), nil)
}

// resolveResult awaits a returned Promise (the shape an `async function
// run` produces) before exporting its value. Every host binding this
// runtime exposes is synchronous, so a well-behaved guest's promise is
// always settled by the time its microtask queue drains at the end of
// the call that produced it; a still-pending promise means the guest
// awaited something this sandbox has no event loop to ever resolve.
func resolveResult(v goja.Value) (any, error) {
	promise, ok := v.Export().(*goja.Promise)
	if !ok {
		return v.Export(), nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result().Export(), nil
	case goja.PromiseStateRejected:
		return nil, runner.Internal(fmt.Sprintf("run() rejected: %v", promise.Result().Export()), nil)
	default:
		return nil, runner.Internal("run() returned a promise that never settled", nil)
	}
}

func isInterrupted(err error) bool {
	_, ok := err.(*goja.InterruptedError)
	return ok
}

// installHost binds a slipway_host global object whose methods mirror
// host.Host, so guest scripts call `slipway_host.fetchText(url, opts)`
// rather than reaching for any ambient JS API this runtime doesn't
// provide (no fetch, no fs, no process -- by design of the sandbox).
func installHost(vm *goja.Runtime, h host.Host) error {
	obj := vm.NewObject()

	must := func(name string, fn func(goja.FunctionCall) goja.Value) {
		_ = obj.Set(name, fn)
	}

	must("logTrace", func(c goja.FunctionCall) goja.Value { h.LogTrace(c.Argument(0).String()); return goja.Undefined() })
	must("logDebug", func(c goja.FunctionCall) goja.Value { h.LogDebug(c.Argument(0).String()); return goja.Undefined() })
	must("logInfo", func(c goja.FunctionCall) goja.Value { h.LogInfo(c.Argument(0).String()); return goja.Undefined() })
	must("logWarn", func(c goja.FunctionCall) goja.Value { h.LogWarn(c.Argument(0).String()); return goja.Undefined() })
	must("logError", func(c goja.FunctionCall) goja.Value { h.LogError(c.Argument(0).String()); return goja.Undefined() })

	must("fetchText", func(c goja.FunctionCall) goja.Value {
		resp, err := h.FetchText(context.Background(), c.Argument(0).String(), fetchOptionsFrom(vm, c.Argument(1)))
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return responseToValue(vm, resp)
	})
	must("fetchBin", func(c goja.FunctionCall) goja.Value {
		resp, err := h.FetchBin(context.Background(), c.Argument(0).String(), fetchOptionsFrom(vm, c.Argument(1)))
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return responseToValue(vm, resp)
	})

	must("run", func(c goja.FunctionCall) goja.Value {
		handle := c.Argument(0).String()
		inputJSON, err := json.Marshal(c.Argument(1).Export())
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		out, err := h.Run(context.Background(), handle, inputJSON)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		var decoded any
		if err := json.Unmarshal(out, &decoded); err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(decoded)
	})

	must("loadText", func(c goja.FunctionCall) goja.Value {
		text, err := h.LoadText(c.Argument(0).String(), c.Argument(1).String())
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(text)
	})
	must("loadBin", func(c goja.FunctionCall) goja.Value {
		data, err := h.LoadBin(c.Argument(0).String(), c.Argument(1).String())
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(base64.StdEncoding.EncodeToString(data))
	})

	must("env", func(c goja.FunctionCall) goja.Value {
		v, ok := h.Env(c.Argument(0).String())
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(v)
	})
	must("font", func(c goja.FunctionCall) goja.Value {
		f, ok := h.Font(c.Argument(0).String())
		if !ok {
			return goja.Undefined()
		}
		result := vm.NewObject()
		_ = result.Set("family", f.Family)
		_ = result.Set("data", base64.StdEncoding.EncodeToString(f.Data))
		return result
	})

	must("encodeBin", func(c goja.FunctionCall) goja.Value {
		raw, _ := base64.StdEncoding.DecodeString(c.Argument(0).String())
		return vm.ToValue(h.EncodeBin(raw))
	})
	must("decodeBin", func(c goja.FunctionCall) goja.Value {
		data, err := h.DecodeBin(c.Argument(0).String())
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(base64.StdEncoding.EncodeToString(data))
	})

	return vm.Set("slipway_host", obj)
}

func fetchOptionsFrom(vm *goja.Runtime, v goja.Value) host.FetchOptions {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return host.FetchOptions{}
	}
	var opts struct {
		Method  string            `json:"method"`
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
	raw, err := json.Marshal(v.Export())
	if err != nil {
		return host.FetchOptions{}
	}
	_ = json.Unmarshal(raw, &opts)
	return host.FetchOptions{Method: opts.Method, Headers: opts.Headers, Body: []byte(opts.Body)}
}

func responseToValue(vm *goja.Runtime, resp host.Response) goja.Value {
	obj := vm.NewObject()
	_ = obj.Set("status", resp.Status)
	_ = obj.Set("headers", resp.Headers)
	_ = obj.Set("body", base64.StdEncoding.EncodeToString(resp.Body))
	return obj
}
