// SPDX-License-Identifier: GPL-3.0-or-later

// Package scheduler drives a validated Rig's nodes through their state
// machine to completion: ready-node selection respecting dependencies and
// cache validity, bounded-concurrency dispatch with deterministic
// tie-breaking, Failed-cascades-to-Skipped propagation, and cooperative
// cancellation.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slipwayhq/slipway/internal/component"
	"github.com/slipwayhq/slipway/internal/host"
	"github.com/slipwayhq/slipway/internal/permission"
	"github.com/slipwayhq/slipway/internal/refexpr"
	"github.com/slipwayhq/slipway/internal/rig"
	"github.com/slipwayhq/slipway/internal/runner"
	"github.com/slipwayhq/slipway/internal/store"
)

// Config tunes scheduling behaviour. Zero values take the documented
// defaults.
type Config struct {
	MaxConcurrency int
	DefaultTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 1
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	return c
}

// Event reports one node's status transition, emitted as it happens so a
// caller can stream progress. Sends are best-effort: a full or nil events
// channel never blocks or panics the scheduler.
type Event struct {
	Handle string
	From   store.Status
	To     store.Status
	At     time.Time
}

// Dispatch maps a runner kind to the Runner implementation that executes
// it.
type Dispatch map[component.RunnerKind]runner.Runner

// HostFactory builds the Host a node's runner invocation is given, bound
// to that node's own derived permission frame.
type HostFactory func(handle string, frame *permission.Frame) host.Host

// Scheduler executes one validated Rig at a time; it holds no run-scoped
// state itself, so a single Scheduler is safe to reuse across runs.
type Scheduler struct {
	cfg Config
}

// New builds a Scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{cfg: cfg.withDefaults()}
}

// Run executes v to completion (or cancellation), returning every node's
// final state. evalContext is the evaluator-scoped "$$$" value; rootFrame
// is the permission frame nodes derive their own frame from. cache may be
// nil to disable content-addressed reuse.
func (s *Scheduler) Run(ctx context.Context, v *rig.Validated, dispatch Dispatch, hosts HostFactory, rootFrame *permission.Frame, evalContext any, cache *store.Cache, events chan<- Event) (map[string]*store.NodeState, error) {
	states := make(map[string]*store.NodeState, len(v.Graph.Nodes))
	for handle := range v.Graph.Nodes {
		states[handle] = store.NewNodeState(handle)
	}

	constants, err := v.Doc.Constants()
	if err != nil {
		return states, fmt.Errorf("scheduler: %w", err)
	}

	frames := make(map[string]*permission.Frame, len(v.Graph.Nodes))
	for handle, node := range v.Graph.Nodes {
		def := v.Defs[handle]
		grant := permission.Set{Allow: node.Definition.Allow, Deny: node.Definition.Deny}
		frames[handle] = rootFrame.DeriveNode(handle, grant, def.RequiredPermissions)
	}

	var (
		mu        sync.Mutex
		remaining = len(states)
	)
	wake := make(chan struct{}, 1)
	notify := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)

	dispatchReady := func() {
		mu.Lock()
		var toRun []string
		for _, handle := range v.Graph.TopologicalOrder() {
			st := states[handle]
			if st.Status() != store.StatusPending {
				continue
			}
			blocked, skip := false, false
			for _, dep := range v.Graph.Nodes[handle].DependsOn {
				switch states[dep].Status() {
				case store.StatusCompleted:
				case store.StatusFailed, store.StatusSkipped:
					skip = true
				default:
					blocked = true
				}
			}
			switch {
			case skip:
				from := st.Status()
				st.SetStatus(store.StatusSkipped)
				remaining--
				emit(events, Event{Handle: handle, From: from, To: store.StatusSkipped, At: time.Now()})
			case blocked:
				continue
			default:
				toRun = append(toRun, handle)
			}
		}
		mu.Unlock()

		for _, handle := range toRun {
			handle := handle
			g.Go(func() error {
				s.runNode(gctx, v, handle, states, frames[handle], constants, evalContext, dispatch, hosts, cache, events)
				mu.Lock()
				remaining--
				mu.Unlock()
				notify()
				return nil
			})
		}
	}

	dispatchReady()
	for {
		mu.Lock()
		done := remaining <= 0
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return states, ctx.Err()
		case <-wake:
			dispatchReady()
		}
	}
	_ = g.Wait()
	return states, nil
}

// runNode resolves handle's input, checks the cache, dispatches to its
// runner, and records the result -- never returning an error itself, since
// a node's own failure must not abort sibling nodes already in flight.
func (s *Scheduler) runNode(ctx context.Context, v *rig.Validated, handle string, states map[string]*store.NodeState, frame *permission.Frame, constants, evalContext any, dispatch Dispatch, hosts HostFactory, cache *store.Cache, events chan<- Event) {
	st := states[handle]
	node := v.Graph.Nodes[handle]
	def := v.Defs[handle]

	fail := func(from store.Status, err error) {
		st.SetError(err)
		transition(st, events, handle, from, store.StatusFailed)
	}

	var decodedInput any
	if len(node.Definition.Input) > 0 {
		if err := json.Unmarshal(node.Definition.Input, &decodedInput); err != nil {
			fail(store.StatusPending, fmt.Errorf("scheduler: node %q: decoding input: %w", handle, err))
			return
		}
	}

	resolver := &nodeResolver{constants: constants, context: evalContext, states: states}
	resolved, err := refexpr.Resolve(decodedInput, resolver)
	if err != nil {
		fail(store.StatusPending, fmt.Errorf("scheduler: node %q: resolving input: %w", handle, err))
		return
	}
	if err := def.ValidateInput(resolved); err != nil {
		fail(store.StatusPending, runner.SchemaMismatch(runner.SchemaSideInput, err.Error(), err))
		return
	}

	fingerprint, err := store.Fingerprint(resolved, def.Ref.String(), def.RunnerVersionTag)
	if err != nil {
		fail(store.StatusPending, fmt.Errorf("scheduler: node %q: fingerprinting: %w", handle, err))
		return
	}
	st.SetResolved(resolved, fingerprint)
	transition(st, events, handle, store.StatusPending, store.StatusInputReady)

	if cache != nil {
		if entry, ok := cache.Get(fingerprint); ok {
			st.SetOutput(entry.Output)
			transition(st, events, handle, store.StatusInputReady, store.StatusCompleted)
			return
		}
	}

	r, ok := dispatch[def.Runner]
	if !ok {
		fail(store.StatusInputReady, fmt.Errorf("scheduler: node %q: no runner registered for %q", handle, def.Runner))
		return
	}

	canonical, err := refexpr.CanonicalBytes(resolved)
	if err != nil {
		fail(store.StatusInputReady, fmt.Errorf("scheduler: node %q: canonicalising input: %w", handle, err))
		return
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transition(st, events, handle, store.StatusInputReady, store.StatusRunning)

	start := time.Now()
	h := hosts(handle, frame)
	out, err := r.Invoke(runCtx, def, canonical, frame, h)
	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			err = runner.Timeout()
		}
		fail(store.StatusRunning, err)
		return
	}

	st.SetOutput(out)
	if cache != nil {
		cache.Put(fingerprint, store.CacheEntry{Output: out, Duration: time.Since(start)})
	}
	transition(st, events, handle, store.StatusRunning, store.StatusCompleted)
}

func transition(st *store.NodeState, events chan<- Event, handle string, from, to store.Status) {
	st.SetStatus(to)
	emit(events, Event{Handle: handle, From: from, To: to, At: time.Now()})
}

func emit(events chan<- Event, e Event) {
	if events == nil {
		return
	}
	select {
	case events <- e:
	default:
	}
}

// nodeResolver implements refexpr.Resolver against the scheduler's live
// node state: a handle only resolves once its node has reached Completed.
type nodeResolver struct {
	constants any
	context   any
	states    map[string]*store.NodeState
}

func (r *nodeResolver) Constants() any { return r.constants }
func (r *nodeResolver) Context() any   { return r.context }

func (r *nodeResolver) NodeOutput(handle string) (any, bool) {
	st, ok := r.states[handle]
	if !ok || st.Status() != store.StatusCompleted {
		return nil, false
	}
	return st.Output(), true
}
