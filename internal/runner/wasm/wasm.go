// SPDX-License-Identifier: GPL-3.0-or-later

// Package wasm implements the WebAssembly Runner over wazero: each
// invocation gets a fresh, memory-isolated module instance bound to a
// host module exposing the capability set, while the compiled module
// itself is cached and reused across invocations of the same component.
package wasm

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/slipwayhq/slipway/internal/component"
	"github.com/slipwayhq/slipway/internal/host"
	"github.com/slipwayhq/slipway/internal/permission"
	"github.com/slipwayhq/slipway/internal/runner"
)

// guestErrorBit flags the result<string, component-error> err variant in
// run()'s packed return. It occupies the top bit of the length half, which
// a real guest output never needs: WASM32 linear memory tops out at 4 GiB,
// but a module's allocate() is never asked for anywhere near a 2 GiB
// buffer in practice, so the bit is free for the discriminant. The
// degenerate (0, 0) packed value -- no bits set at all -- is also treated
// as a component-error, reusing packError's host-to-guest zero/zero
// convention for this guest-to-host direction too, for a guest that has
// nothing further to say about its own failure.
const guestErrorBit = uint32(1) << 31

// Runner executes WASM-backed components. A compiled module is cached per
// component reference (compilation is expensive and the module is
// immutable); a fresh instance with its own linear memory is created for
// every invocation, so no node can observe another's in-flight state.
type Runner struct {
	rt wazero.Runtime

	heapLimitPages uint32 // 256 MiB default, 64 KiB pages
	timeout        time.Duration

	mu      sync.Mutex
	modules map[string]wazero.CompiledModule // keyed by component.Ref string
}

// New builds a Runner. heapLimitBytes and timeout default to 256 MiB and
// 30s respectively when zero.
func New(ctx context.Context, heapLimitBytes int64, timeout time.Duration) (*Runner, error) {
	if heapLimitBytes <= 0 {
		heapLimitBytes = 256 * 1024 * 1024
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rt := wazero.NewRuntime(ctx)
	return &Runner{
		rt:             rt,
		heapLimitPages: uint32(heapLimitBytes / (64 * 1024)),
		timeout:        timeout,
		modules:        map[string]wazero.CompiledModule{},
	}, nil
}

// Close releases the underlying wazero runtime and every compiled module.
func (r *Runner) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}

func (r *Runner) compiled(ctx context.Context, def *component.Definition) (wazero.CompiledModule, error) {
	key := def.Ref.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.modules[key]; ok {
		return m, nil
	}
	m, err := r.rt.CompileModule(ctx, def.Payload)
	if err != nil {
		return nil, fmt.Errorf("wasm: compiling %s: %w", key, err)
	}
	r.modules[key] = m
	return m, nil
}

// Invoke implements runner.Runner.
func (r *Runner) Invoke(ctx context.Context, def *component.Definition, canonicalInput []byte, frame *permission.Frame, h host.Host) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	module, err := r.compiled(ctx, def)
	if err != nil {
		return nil, runner.Internal("compiling module", err)
	}

	hostModule, err := buildHostModule(r.rt, h)
	if err != nil {
		return nil, runner.Internal("building host module", err)
	}
	hostInstance, err := hostModule.Instantiate(ctx)
	if err != nil {
		return nil, runner.Internal("instantiating host module", err)
	}
	defer hostInstance.Close(ctx)

	config := wazero.NewModuleConfig().
		WithStartFunctions("_initialize").
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader).
		WithStdout(io.Discard).
		WithStderr(io.Discard)

	instance, err := r.rt.InstantiateModule(ctx, module, config)
	if err != nil {
		if ctx.Err() != nil {
			return nil, runner.Timeout()
		}
		return nil, runner.Internal("instantiating guest module", err)
	}
	defer instance.Close(ctx)

	output, guestErr, err := invokeGuest(ctx, instance, canonicalInput)
	if err != nil {
		if ctx.Err() != nil {
			return nil, runner.Timeout()
		}
		return nil, err
	}
	if guestErr {
		detail := "component reported an error"
		if len(output) > 0 {
			detail = string(output)
		}
		return nil, runner.HostError(detail, nil)
	}

	var decoded any
	if err := jsonUnmarshal(output, &decoded); err != nil {
		return nil, runner.SchemaMismatch(runner.SchemaSideOutput, "guest returned invalid JSON", err)
	}
	if err := def.ValidateOutput(decoded); err != nil {
		return nil, runner.SchemaMismatch(runner.SchemaSideOutput, err.Error(), err)
	}
	return decoded, nil
}

// invokeGuest writes canonicalInput into the guest's memory via its
// exported allocate(), calls run(ptr, len) → packed (ptr<<32|len), and
// reads the result back, mirroring the ptr/len memory protocol guest
// modules built against the ABI are expected to export. The second
// return reports whether the guest flagged its payload as the err arm of
// result<string, component-error> via guestErrorBit (or the (0, 0)
// sentinel) rather than a successful string output.
func invokeGuest(ctx context.Context, instance api.Module, input []byte) ([]byte, bool, error) {
	allocate := instance.ExportedFunction("allocate")
	run := instance.ExportedFunction("run")
	if allocate == nil || run == nil {
		return nil, false, runner.Internal("guest module missing allocate()/run() exports", nil)
	}

	results, err := allocate.Call(ctx, uint64(len(input)))
	if err != nil || len(results) == 0 {
		return nil, false, runner.Internal("allocating guest memory", err)
	}
	inPtr := uint32(results[0])
	if !instance.Memory().Write(inPtr, input) {
		return nil, false, runner.Internal("writing guest memory", nil)
	}

	packed, err := run.Call(ctx, uint64(inPtr), uint64(len(input)))
	if err != nil || len(packed) == 0 {
		return nil, false, runner.Internal("invoking guest run()", err)
	}

	outPtr, outLen, isGuestError := unpackRunResult(packed[0])
	if outPtr == 0 && outLen == 0 {
		return nil, true, nil
	}

	data, ok := instance.Memory().Read(outPtr, outLen)
	if !ok {
		return nil, false, runner.Internal("reading guest output memory", nil)
	}
	out := make([]byte, len(data))
	copy(out, data)

	if dealloc := instance.ExportedFunction("deallocate"); dealloc != nil {
		_, _ = dealloc.Call(ctx, uint64(outPtr), uint64(outLen))
	}
	return out, isGuestError, nil
}

// unpackRunResult splits run()'s packed (ptr<<32|len) return into its
// address, length, and the result<string, component-error> discriminant:
// guestErrorBit set in the length half flags the err arm, and the plain
// (0, 0) value -- no bits set anywhere -- is the degenerate err arm with
// no message at all, mirroring packError's zero/zero convention for this
// guest-to-host direction of the same protocol.
func unpackRunResult(raw uint64) (ptr uint32, ln uint32, isGuestError bool) {
	if raw == 0 {
		return 0, 0, true
	}
	ptr = uint32(raw >> 32)
	rawLen := uint32(raw)
	isGuestError = rawLen&guestErrorBit != 0
	ln = rawLen &^ guestErrorBit
	return ptr, ln, isGuestError
}
