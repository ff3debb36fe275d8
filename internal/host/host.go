// SPDX-License-Identifier: GPL-3.0-or-later

// Package host implements the Host Interface: the fixed capability set a
// Runner exposes to its guest, each call checked against the executing
// frame's permissions at a single authorisation chokepoint before any
// capability-specific work happens.
package host

import (
	"context"

	"github.com/slipwayhq/slipway/internal/permission"
)

// Response is an HTTP response returned from a fetch call. The guest never
// sees a transport exception for a non-2xx status; it sees a Response it
// can inspect.
type Response struct {
	Status  int
	Headers map[string][]string
	Body    []byte
}

// ResolvedFont is a font stack resolved to a concrete family and its raw
// bytes.
type ResolvedFont struct {
	Family string
	Data   []byte
}

// Host is the capability set a guest (WASM or JS) may call through its
// runner. Every method name mirrors the ABI capability it implements.
type Host interface {
	LogTrace(msg string)
	LogDebug(msg string)
	LogInfo(msg string)
	LogWarn(msg string)
	LogError(msg string)

	FetchText(ctx context.Context, url string, opts FetchOptions) (Response, error)
	FetchBin(ctx context.Context, url string, opts FetchOptions) (Response, error)

	// Run executes a declared callout by local handle, returning its raw
	// JSON output or a component error from the callout itself.
	Run(ctx context.Context, handle string, inputJSON []byte) ([]byte, error)

	LoadText(handle, path string) (string, error)
	LoadBin(handle, path string) ([]byte, error)

	Env(key string) (string, bool)
	Font(stack string) (ResolvedFont, bool)

	EncodeBin(data []byte) string
	DecodeBin(b64 string) ([]byte, error)
}

// FetchOptions carries the optional parameters a guest may pass to
// fetch_text/fetch_bin.
type FetchOptions struct {
	Method  string
	Headers map[string]string
	Body    []byte
}

// CalloutInvoker executes a resolved callout's target component under its
// own derived frame, returning raw output JSON. Implemented by the engine,
// which alone knows how to run a nested node; the host package only needs
// this narrow seam to avoid an import cycle back into the engine.
type CalloutInvoker interface {
	InvokeCallout(ctx context.Context, handle string, inputJSON []byte, callerFrame *permission.Frame) ([]byte, error)
}

// FileLoader reads a file bound under a component's declared file handle,
// implemented by whatever storage backs "files" permissions (local disk,
// an embedded bundle, object storage).
type FileLoader interface {
	LoadText(handle, path string) (string, error)
	LoadBin(handle, path string) ([]byte, error)
}

// FontResolver resolves a CSS-style font stack to a concrete family.
type FontResolver interface {
	Resolve(stack string) (ResolvedFont, bool)
}
