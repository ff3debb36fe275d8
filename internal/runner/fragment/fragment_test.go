// SPDX-License-Identifier: GPL-3.0-or-later

package fragment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slipwayhq/slipway/internal/component"
	"github.com/slipwayhq/slipway/internal/permission"
)

type fakeEvaluator struct {
	gotRig   []byte
	gotInput any
	gotFrame *permission.Frame
	out      any
	err      error
}

func (f *fakeEvaluator) EvaluateFragment(ctx context.Context, rigJSON []byte, resolvedInput any, callerFrame *permission.Frame) (any, error) {
	f.gotRig = rigJSON
	f.gotInput = resolvedInput
	f.gotFrame = callerFrame
	return f.out, f.err
}

func TestInvokeDelegatesToEvaluatorWithDecodedInput(t *testing.T) {
	eval := &fakeEvaluator{out: map[string]any{"ok": true}}
	r := New(eval)
	def := &component.Definition{Payload: []byte(`{"rigging":{}}`)}
	frame := permission.Root(permission.Set{})

	out, err := r.Invoke(context.Background(), def, []byte(`{"a":1}`), frame, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"ok": true}, out)
	require.Equal(t, map[string]any{"a": float64(1)}, eval.gotInput)
	require.Same(t, frame, eval.gotFrame)
	require.Equal(t, def.Payload, eval.gotRig)
}

func TestInvokePropagatesEvaluatorError(t *testing.T) {
	eval := &fakeEvaluator{err: context.DeadlineExceeded}
	r := New(eval)
	def := &component.Definition{Payload: []byte(`{"rigging":{}}`)}

	_, err := r.Invoke(context.Background(), def, nil, permission.Root(permission.Set{}), nil)
	require.Error(t, err)
}
