// SPDX-License-Identifier: GPL-3.0-or-later

package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slipwayhq/slipway/internal/logger"
	"github.com/slipwayhq/slipway/internal/permission"
)

type stubFetcher struct {
	resp Response
	err  error
	urls []string
}

func (s *stubFetcher) Do(ctx context.Context, url string, opts FetchOptions) (Response, error) {
	s.urls = append(s.urls, url)
	return s.resp, s.err
}

type stubCallouts struct {
	out []byte
	err error
}

func (s *stubCallouts) InvokeCallout(ctx context.Context, handle string, input []byte, frame *permission.Frame) ([]byte, error) {
	return s.out, s.err
}

func newTestDispatcher(set permission.Set, fetcher Fetcher, files FileLoader, callouts CalloutInvoker) *Dispatcher {
	frame := permission.Root(set)
	log := logger.NewLogger(logger.WithQuiet())
	return NewDispatcher(frame, log, fetcher, files, nil, callouts)
}

func TestDispatcherFetchDeniedWithoutPermission(t *testing.T) {
	d := newTestDispatcher(permission.Set{}, &stubFetcher{resp: Response{Status: 200}}, nil, nil)

	_, err := d.FetchText(context.Background(), "https://example.com", FetchOptions{})
	require.Error(t, err)
}

func TestDispatcherFetchAllowedWithPrefix(t *testing.T) {
	fetcher := &stubFetcher{resp: Response{Status: 200, Body: []byte("ok")}}
	d := newTestDispatcher(permission.Set{
		Allow: []permission.Permission{{Kind: permission.KindHTTP, Prefix: "https://example.com"}},
	}, fetcher, nil, nil)

	resp, err := d.FetchText(context.Background(), "https://example.com/page", FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, "ok", string(resp.Body))
	require.Equal(t, []string{"https://example.com/page"}, fetcher.urls)
}

func TestDispatcherRunDeniedWithoutCalloutPermission(t *testing.T) {
	d := newTestDispatcher(permission.Set{}, nil, nil, &stubCallouts{out: []byte("{}")})

	_, err := d.Run(context.Background(), "inc", []byte("{}"))
	require.Error(t, err)
}

func TestDispatcherRunAllowed(t *testing.T) {
	callouts := &stubCallouts{out: []byte(`{"ok":true}`)}
	d := newTestDispatcher(permission.Set{
		Allow: []permission.Permission{{Kind: permission.KindCallouts, Handle: "inc"}},
	}, nil, nil, callouts)

	out, err := d.Run(context.Background(), "inc", []byte("{}"))
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, string(out))
}

func TestDispatcherEnvDeniedReturnsNotOk(t *testing.T) {
	t.Setenv("SLIPWAY_TEST_VAR", "value")
	d := newTestDispatcher(permission.Set{}, nil, nil, nil)

	_, ok := d.Env("SLIPWAY_TEST_VAR")
	require.False(t, ok)
}

func TestDispatcherEnvAllowed(t *testing.T) {
	t.Setenv("SLIPWAY_TEST_VAR", "value")
	d := newTestDispatcher(permission.Set{
		Allow: []permission.Permission{{Kind: permission.KindEnv, Key: "SLIPWAY_TEST_VAR"}},
	}, nil, nil, nil)

	v, ok := d.Env("SLIPWAY_TEST_VAR")
	require.True(t, ok)
	require.Equal(t, "value", v)
}

func TestDispatcherCodecRoundTrip(t *testing.T) {
	d := newTestDispatcher(permission.Set{}, nil, nil, nil)

	encoded := d.EncodeBin([]byte("hello"))
	decoded, err := d.DecodeBin(encoded)
	require.NoError(t, err)
	require.Equal(t, "hello", string(decoded))
}

func TestLocalFileLoaderReadsWithinRoot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.txt"), []byte("content"), 0o644))

	loader := NewLocalFileLoader(map[string]string{"assets": dir})
	text, err := loader.LoadText("assets", "data.txt")
	require.NoError(t, err)
	require.Equal(t, "content", text)
}

func TestLocalFileLoaderCleansDotDotWithinRoot(t *testing.T) {
	dir := t.TempDir()
	loader := NewLocalFileLoader(map[string]string{"assets": dir})

	// "../../etc/passwd" is cleaned against the handle's root, not the
	// filesystem root, so it can never resolve outside of dir; it still
	// fails to read since no such file exists there.
	_, err := loader.LoadText("assets", "../../etc/passwd")
	require.Error(t, err)
}

func TestStaticFontResolverFallsThroughStack(t *testing.T) {
	resolver := NewStaticFontResolver(map[string]ResolvedFont{
		"Helvetica": {Family: "Helvetica", Data: []byte("font-bytes")},
	})

	font, ok := resolver.Resolve("Inter, Helvetica, sans-serif")
	require.True(t, ok)
	require.Equal(t, "Helvetica", font.Family)
}
