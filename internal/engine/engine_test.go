// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slipwayhq/slipway/internal/component"
	"github.com/slipwayhq/slipway/internal/host"
	"github.com/slipwayhq/slipway/internal/permission"
	"github.com/slipwayhq/slipway/internal/runner"
	"github.com/slipwayhq/slipway/internal/scheduler"
	"github.com/slipwayhq/slipway/internal/store"
)

type fakeLoader struct {
	defs map[string]*component.Definition
}

func (f *fakeLoader) Load(ctx context.Context, ref component.Ref) (*component.Definition, error) {
	def, ok := f.defs[ref.String()]
	if !ok {
		return nil, errNotFound(ref.String())
	}
	return def, nil
}

type errNotFound string

func (e errNotFound) Error() string { return "not found: " + string(e) }

func mustRef(t *testing.T, s string) component.Ref {
	t.Helper()
	ref, err := component.ParseRef(s)
	require.NoError(t, err)
	return ref
}

// incrementRunner returns {"value": input.value + 1}; used for both plain
// nodes and callout targets.
type incrementRunner struct{}

func (incrementRunner) Invoke(ctx context.Context, def *component.Definition, canonicalInput []byte, frame *permission.Frame, h host.Host) (any, error) {
	var in map[string]any
	if len(canonicalInput) > 0 {
		_ = json.Unmarshal(canonicalInput, &in)
	}
	v, _ := in["value"].(float64)
	return map[string]any{"value": v + 1}, nil
}

// runCalloutRunner ignores its own input and instead issues a callout
// named "next", returning the callout's own output.
type runCalloutRunner struct{}

func (runCalloutRunner) Invoke(ctx context.Context, def *component.Definition, canonicalInput []byte, frame *permission.Frame, h host.Host) (any, error) {
	out, err := h.Run(ctx, "next", []byte(`{"value": 10}`))
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(out, &decoded); err != nil {
		return nil, runner.Internal("decoding callout output", err)
	}
	return decoded, nil
}

func newTestEngine(defs map[string]*component.Definition, r runner.Runner) *Engine {
	return New(
		scheduler.Config{MaxConcurrency: 2},
		Dependencies{Loader: &fakeLoader{defs: defs}},
		Runners{Wasm: r, JS: r},
		nil,
	)
}

func TestEvaluateRunsLinearChainToCompletion(t *testing.T) {
	defs := map[string]*component.Definition{
		"acme.inc.1.0.0": {Ref: mustRef(t, "acme.inc.1.0.0"), Runner: component.RunnerWasm, RunnerVersionTag: "v1"},
	}
	e := newTestEngine(defs, incrementRunner{})

	rigJSON := []byte(`{
		"constants": {"start": 1},
		"rigging": {
			"a": {"component": "acme.inc.1.0.0", "input": {"value": "$.start"}},
			"b": {"component": "acme.inc.1.0.0", "input": {"value": "$$.a.value"}}
		}
	}`)

	states, err := e.Evaluate(context.Background(), rigJSON, permission.Set{}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, states["b"].Status())
	require.Equal(t, map[string]any{"value": float64(3)}, states["b"].Output())
}

func TestEvaluateRejectsInvalidRigDocument(t *testing.T) {
	e := newTestEngine(nil, incrementRunner{})
	_, err := e.Evaluate(context.Background(), []byte(`not json`), permission.Set{}, nil, nil)
	require.Error(t, err)
}

func TestInvokeCalloutRunsDeclaredTargetUnderNarrowedFrame(t *testing.T) {
	targetRef := mustRef(t, "acme.next.1.0.0")
	callerRef := mustRef(t, "acme.caller.1.0.0")
	defs := map[string]*component.Definition{
		"acme.next.1.0.0": {Ref: targetRef, Runner: component.RunnerWasm, RunnerVersionTag: "v1"},
		"acme.caller.1.0.0": {
			Ref: callerRef, Runner: component.RunnerWasm, RunnerVersionTag: "v1",
			Callouts: []component.CalloutBinding{{Handle: "next", Target: targetRef}},
		},
	}
	e := newTestEngine(defs, runCalloutRunner{})

	rigJSON := []byte(`{"rigging": {"a": {"component": "acme.caller.1.0.0", "input": {}}}}`)
	states, err := e.Evaluate(context.Background(), rigJSON, permission.Set{}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, states["a"].Status())
	require.Equal(t, map[string]any{"value": float64(10)}, states["a"].Output())
}

func TestEvaluateFragmentBindsResolvedInputAsNestedConstants(t *testing.T) {
	innerRef := mustRef(t, "acme.inner.1.0.0")
	fragRef := mustRef(t, "acme.fragment.1.0.0")
	defs := map[string]*component.Definition{
		"acme.inner.1.0.0": {Ref: innerRef, Runner: component.RunnerWasm, RunnerVersionTag: "v1"},
	}
	e := newTestEngine(defs, incrementRunner{})

	fragmentDoc := `{
		"constants": {},
		"rigging": {
			"inner": {"component": "acme.inner.1.0.0", "input": {"value": "$.value"}}
		}
	}`
	defs["acme.fragment.1.0.0"] = &component.Definition{
		Ref: fragRef, Runner: component.RunnerFragment, RunnerVersionTag: "v1",
		Payload: []byte(fragmentDoc),
	}

	rigJSON := []byte(`{
		"rigging": {
			"a": {"component": "acme.fragment.1.0.0", "input": {"value": 5}}
		}
	}`)

	states, err := e.Evaluate(context.Background(), rigJSON, permission.Set{}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, states["a"].Status())
	require.Equal(t, map[string]any{"value": float64(6)}, states["a"].Output())
}
