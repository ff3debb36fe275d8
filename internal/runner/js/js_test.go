// SPDX-License-Identifier: GPL-3.0-or-later

package js

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slipwayhq/slipway/internal/component"
	"github.com/slipwayhq/slipway/internal/host"
	"github.com/slipwayhq/slipway/internal/permission"
)

type stubHost struct{}

func (stubHost) LogTrace(string) {}
func (stubHost) LogDebug(string) {}
func (stubHost) LogInfo(string)  {}
func (stubHost) LogWarn(string)  {}
func (stubHost) LogError(string) {}

func (stubHost) FetchText(context.Context, string, host.FetchOptions) (host.Response, error) {
	return host.Response{}, nil
}
func (stubHost) FetchBin(context.Context, string, host.FetchOptions) (host.Response, error) {
	return host.Response{}, nil
}
func (stubHost) Run(context.Context, string, []byte) ([]byte, error) { return []byte("{}"), nil }
func (stubHost) LoadText(string, string) (string, error)             { return "", nil }
func (stubHost) LoadBin(string, string) ([]byte, error)              { return nil, nil }
func (stubHost) Env(string) (string, bool)                           { return "", false }
func (stubHost) Font(string) (host.ResolvedFont, bool)               { return host.ResolvedFont{}, false }
func (stubHost) EncodeBin(data []byte) string                        { return string(data) }
func (stubHost) DecodeBin(s string) ([]byte, error)                  { return []byte(s), nil }

func TestInvokeRunsEntrypointAndReturnsOutput(t *testing.T) {
	def := &component.Definition{
		Payload: []byte(`function run(input) { return {sum: input.a + input.b}; }`),
	}
	r := New(time.Second)

	out, err := r.Invoke(context.Background(), def, []byte(`{"a":1,"b":2}`), &permission.Frame{}, stubHost{})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"sum": int64(3)}, out)
}

func TestInvokeMissingEntrypointIsInternalError(t *testing.T) {
	def := &component.Definition{
		Payload: []byte(`var notRun = 1;`),
	}
	r := New(time.Second)

	_, err := r.Invoke(context.Background(), def, []byte(`{}`), &permission.Frame{}, stubHost{})
	require.Error(t, err)
}

func TestInvokeInfiniteLoopTimesOut(t *testing.T) {
	def := &component.Definition{
		Payload: []byte(`function run(input) { while (true) {} }`),
	}
	r := New(50 * time.Millisecond)

	_, err := r.Invoke(context.Background(), def, []byte(`{}`), &permission.Frame{}, stubHost{})
	require.Error(t, err)
}

func TestInvokeScriptThrowIsInternalError(t *testing.T) {
	def := &component.Definition{
		Payload: []byte(`function run(input) { throw new Error("boom"); }`),
	}
	r := New(time.Second)

	_, err := r.Invoke(context.Background(), def, []byte(`{}`), &permission.Frame{}, stubHost{})
	require.Error(t, err)
}

func TestInvokeSupportsExportedAsyncRunFunction(t *testing.T) {
	def := &component.Definition{
		Payload: []byte(`export async function run(input) { return {sum: input.a + input.b}; }`),
	}
	r := New(time.Second)

	out, err := r.Invoke(context.Background(), def, []byte(`{"a":1,"b":2}`), &permission.Frame{}, stubHost{})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"sum": int64(3)}, out)
}

func TestInvokeSupportsExportedOutputBinding(t *testing.T) {
	def := &component.Definition{
		Payload: []byte(`function run(input) { return {sum: input.a + input.b}; }
export let output = run(input);`),
	}
	r := New(time.Second)

	out, err := r.Invoke(context.Background(), def, []byte(`{"a":1,"b":2}`), &permission.Frame{}, stubHost{})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"sum": int64(3)}, out)
}

func TestInvokeAsyncRunRejectionIsError(t *testing.T) {
	def := &component.Definition{
		Payload: []byte(`export async function run(input) { throw new Error("boom"); }`),
	}
	r := New(time.Second)

	_, err := r.Invoke(context.Background(), def, []byte(`{}`), &permission.Frame{}, stubHost{})
	require.Error(t, err)
}
