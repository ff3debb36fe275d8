// SPDX-License-Identifier: GPL-3.0-or-later

// Package engine is the top-level entry point: it wires a component
// Loader, the scheduler, every Runner, and the Host Interface together,
// and drives one Rig evaluation from raw document to final node states.
// It implements host.CalloutInvoker and fragment.Evaluator, the two
// narrow seams the lower layers use to call back up without an import
// cycle.
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/slipwayhq/slipway/internal/component"
	"github.com/slipwayhq/slipway/internal/host"
	"github.com/slipwayhq/slipway/internal/logger"
	"github.com/slipwayhq/slipway/internal/permission"
	"github.com/slipwayhq/slipway/internal/refexpr"
	"github.com/slipwayhq/slipway/internal/rig"
	"github.com/slipwayhq/slipway/internal/runner"
	"github.com/slipwayhq/slipway/internal/runner/fragment"
	"github.com/slipwayhq/slipway/internal/scheduler"
	"github.com/slipwayhq/slipway/internal/store"
)

// Runners groups the concrete sandbox implementations the Engine
// dispatches to. Fragment is supplied by the Engine itself, since it must
// call back into nested evaluation.
type Runners struct {
	Wasm runner.Runner
	JS   runner.Runner
}

// Dependencies are the collaborators an Engine needs that are otherwise
// out of scope for this package: a component Loader, the host-side
// capability implementations, and a logger.
type Dependencies struct {
	Loader  component.Loader
	Fetcher host.Fetcher
	Files   host.FileLoader
	Fonts   host.FontResolver
	Log     logger.Logger
}

// Engine evaluates Rigs. One Engine is safe to reuse across many
// concurrent Evaluate calls; each call gets its own scheduler run and
// node-state map.
type Engine struct {
	deps      Dependencies
	dispatch  scheduler.Dispatch
	scheduler *scheduler.Scheduler
	cache     *store.Cache
}

// New builds an Engine. cache may be nil to disable content-addressed
// reuse across Evaluate calls.
func New(cfg scheduler.Config, deps Dependencies, runners Runners, cache *store.Cache) *Engine {
	if deps.Log == nil {
		deps.Log = logger.NewLogger(logger.WithQuiet())
	}
	e := &Engine{deps: deps, scheduler: scheduler.New(cfg), cache: cache}
	e.dispatch = scheduler.Dispatch{
		component.RunnerWasm:     runners.Wasm,
		component.RunnerJS:       runners.JS,
		component.RunnerFragment: fragment.New(e),
	}
	return e
}

// Event re-exports the scheduler's progress-event type so callers depend
// only on this package.
type Event = scheduler.Event

// evalContextKey stashes the evaluator-scoped "$$$" value on the context
// passed down through a runner Invoke, so a Fragment's nested run can
// recover the same value its parent resolved with -- a fragment is more
// of the same Rig, not a new serving context, so "$$$" is inherited
// unchanged rather than reset.
type evalContextKey struct{}

// evalIDKey stashes the outer Evaluate call's id, so a nested Fragment
// run's log lines correlate back to the same evaluation id rather than
// minting a fresh one for every fragment depth.
type evalIDKey struct{}

// Evaluate validates and runs rigJSON, returning every node's final
// state. rootSet is the serving context's configured allow/deny; evalCtx
// is the evaluator-scoped "$$$" value (may be nil).
func (e *Engine) Evaluate(ctx context.Context, rigJSON []byte, rootSet permission.Set, evalCtx any, events chan<- Event) (map[string]*store.NodeState, error) {
	v, err := rig.Validate(ctx, rigJSON, e.deps.Loader)
	if err != nil {
		return nil, fmt.Errorf("engine: validating rig: %w", err)
	}
	evalID := uuid.NewString()
	ctx = context.WithValue(ctx, evalContextKey{}, evalCtx)
	ctx = context.WithValue(ctx, evalIDKey{}, evalID)
	e.deps.Log.With("evalId", evalID).Debugf("evaluating rig with %d nodes", len(v.Graph.Nodes))
	return e.run(ctx, v, permission.Root(rootSet), evalCtx, evalID, events)
}

func (e *Engine) run(ctx context.Context, v *rig.Validated, rootFrame *permission.Frame, evalCtx any, evalID string, events chan<- Event) (map[string]*store.NodeState, error) {
	hosts := func(handle string, frame *permission.Frame) host.Host {
		return e.buildHostForNode(v, handle, evalID, frame)
	}
	return e.scheduler.Run(ctx, v, e.dispatch, hosts, rootFrame, evalCtx, e.cache, events)
}

// buildHostForNode constructs the Dispatcher a node's runner invocation
// receives, bound to that node's frame and its own resolved callout
// bindings (so two nodes declaring the same local callout handle against
// different targets never collide). Its log capability is a child logger
// tagged with the node's handle and the evaluation's id, so every log_*
// call in a node's execution trace can be correlated back to one
// Evaluate call even when several run concurrently.
func (e *Engine) buildHostForNode(v *rig.Validated, handle, evalID string, frame *permission.Frame) host.Host {
	bindings := make(map[string]rig.ResolvedCallout, len(v.Callouts[handle]))
	for _, c := range v.Callouts[handle] {
		bindings[c.Handle] = c
	}
	nodeLog := e.deps.Log.With("evalId", evalID, "node", handle)
	return e.buildHostWithLog(nodeLog, frame, &nodeCallouts{engine: e, bindings: bindings})
}

func (e *Engine) buildHost(frame *permission.Frame, callouts host.CalloutInvoker) host.Host {
	return e.buildHostWithLog(e.deps.Log, frame, callouts)
}

func (e *Engine) buildHostWithLog(log logger.Logger, frame *permission.Frame, callouts host.CalloutInvoker) host.Host {
	return host.NewDispatcher(frame, log, e.deps.Fetcher, e.deps.Files, e.deps.Fonts, callouts)
}

// nodeCallouts resolves a Run() host call against one Rig node's own
// resolved callout table (declared bindings plus any per-node override),
// derived once during rig.Validate.
type nodeCallouts struct {
	engine   *Engine
	bindings map[string]rig.ResolvedCallout
}

func (n *nodeCallouts) InvokeCallout(ctx context.Context, handle string, inputJSON []byte, callerFrame *permission.Frame) ([]byte, error) {
	binding, ok := n.bindings[handle]
	if !ok {
		return nil, fmt.Errorf("engine: callout %q is not declared", handle)
	}
	frame := callerFrame.DeriveCallout(handle, binding.Allow, binding.Deny)
	return n.engine.invokeComponent(ctx, binding.Target, inputJSON, frame)
}

// directCallouts resolves a Run() host call issued from inside a callout
// target itself (a component reached via Run, not a rig node), against
// that component's own declared callouts with no per-node override since
// there is no rig node in scope at that depth.
type directCallouts struct {
	engine   *Engine
	bindings map[string]component.CalloutBinding
}

func (d *directCallouts) InvokeCallout(ctx context.Context, handle string, inputJSON []byte, callerFrame *permission.Frame) ([]byte, error) {
	binding, ok := d.bindings[handle]
	if !ok {
		return nil, fmt.Errorf("engine: callout %q is not declared", handle)
	}
	target, err := d.engine.deps.Loader.Load(ctx, binding.Target)
	if err != nil {
		return nil, fmt.Errorf("engine: loading callout target %s: %w", binding.Target, err)
	}
	frame := callerFrame.DeriveCallout(handle, binding.Allow, binding.Deny)
	return d.engine.invokeComponent(ctx, target, inputJSON, frame)
}

// invokeComponent runs one component invocation end to end (validate
// input, dispatch, validate output) outside of the scheduler's own node
// bookkeeping -- used for callouts, which are not scheduled as Rig nodes.
func (e *Engine) invokeComponent(ctx context.Context, def *component.Definition, inputJSON []byte, frame *permission.Frame) ([]byte, error) {
	var decoded any
	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &decoded); err != nil {
			return nil, runner.SchemaMismatch(runner.SchemaSideInput, "invalid callout input JSON", err)
		}
	}
	if err := def.ValidateInput(decoded); err != nil {
		return nil, runner.SchemaMismatch(runner.SchemaSideInput, err.Error(), err)
	}

	canonical, err := refexpr.CanonicalBytes(decoded)
	if err != nil {
		return nil, fmt.Errorf("engine: canonicalising callout input: %w", err)
	}

	r, ok := e.dispatch[def.Runner]
	if !ok {
		return nil, fmt.Errorf("engine: no runner registered for %q", def.Runner)
	}

	bindings := make(map[string]component.CalloutBinding, len(def.Callouts))
	for _, b := range def.Callouts {
		bindings[b.Handle] = b
	}
	h := e.buildHost(frame, &directCallouts{engine: e, bindings: bindings})

	out, err := r.Invoke(ctx, def, canonical, frame, h)
	if err != nil {
		return nil, err
	}
	if err := def.ValidateOutput(out); err != nil {
		return nil, runner.SchemaMismatch(runner.SchemaSideOutput, err.Error(), err)
	}
	return json.Marshal(out)
}

// EvaluateFragment implements fragment.Evaluator: the sub-Rig's
// constants are replaced by the fragment's resolved input (a fragment
// behaves like a component whose declared "constants" are supplied at
// invocation time, not authored statically), its permission frame is the
// caller's callout frame unchanged, and its output is its single output
// node's output.
func (e *Engine) EvaluateFragment(ctx context.Context, rigJSON []byte, resolvedInput any, callerFrame *permission.Frame) (any, error) {
	doc, err := rig.Parse(rigJSON)
	if err != nil {
		return nil, fmt.Errorf("engine: fragment: %w", err)
	}
	constantsRaw, err := json.Marshal(resolvedInput)
	if err != nil {
		return nil, fmt.Errorf("engine: fragment: encoding input as constants: %w", err)
	}
	doc.ConstantsRaw = constantsRaw

	v, err := rig.ValidateDocument(ctx, doc, e.deps.Loader)
	if err != nil {
		return nil, fmt.Errorf("engine: fragment: %w", err)
	}
	outputHandle, err := v.Graph.OutputHandle()
	if err != nil {
		return nil, fmt.Errorf("engine: fragment: %w", err)
	}

	evalID, _ := ctx.Value(evalIDKey{}).(string)
	states, err := e.run(ctx, v, callerFrame, ctx.Value(evalContextKey{}), evalID, nil)
	if err != nil {
		return nil, fmt.Errorf("engine: fragment: %w", err)
	}
	outState := states[outputHandle]
	if outState.Status() != store.StatusCompleted {
		return nil, fmt.Errorf("engine: fragment: output node %q ended %s, not completed", outputHandle, outState.Status())
	}
	return outState.Output(), nil
}
