// SPDX-License-Identifier: GPL-3.0-or-later

package host

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/slipwayhq/slipway/internal/logger"
	"github.com/slipwayhq/slipway/internal/permission"
)

// Dispatcher is the reference Host implementation: every method
// authorises its capability against frame before doing any work, so
// denial is always the first thing that can happen on a call.
type Dispatcher struct {
	frame     *permission.Frame
	log       logger.Logger
	fetcher   Fetcher
	files     FileLoader
	fonts     FontResolver
	callouts  CalloutInvoker
	envLookup func(key string) (string, bool)
}

// Fetcher performs the transport side of fetch_text/fetch_bin.
type Fetcher interface {
	Do(ctx context.Context, url string, opts FetchOptions) (Response, error)
}

// NewDispatcher builds a Dispatcher for one node's execution frame.
func NewDispatcher(frame *permission.Frame, log logger.Logger, fetcher Fetcher, files FileLoader, fonts FontResolver, callouts CalloutInvoker) *Dispatcher {
	return &Dispatcher{
		frame:     frame,
		log:       log,
		fetcher:   fetcher,
		files:     files,
		fonts:     fonts,
		callouts:  callouts,
		envLookup: os.LookupEnv,
	}
}

func (d *Dispatcher) LogTrace(msg string) { d.log.Debug(msg) }
func (d *Dispatcher) LogDebug(msg string) { d.log.Debug(msg) }
func (d *Dispatcher) LogInfo(msg string)  { d.log.Info(msg) }
func (d *Dispatcher) LogWarn(msg string)  { d.log.Warn(msg) }
func (d *Dispatcher) LogError(msg string) { d.log.Error(msg) }

func (d *Dispatcher) FetchText(ctx context.Context, url string, opts FetchOptions) (Response, error) {
	return d.fetch(ctx, url, opts)
}

func (d *Dispatcher) FetchBin(ctx context.Context, url string, opts FetchOptions) (Response, error) {
	return d.fetch(ctx, url, opts)
}

func (d *Dispatcher) fetch(ctx context.Context, url string, opts FetchOptions) (Response, error) {
	if err := d.frame.Authorize(permission.Capability{Kind: permission.KindHTTP, URL: url}); err != nil {
		return Response{}, err
	}
	if d.fetcher == nil {
		return Response{}, fmt.Errorf("host: no fetcher configured")
	}
	return d.fetcher.Do(ctx, url, opts)
}

func (d *Dispatcher) Run(ctx context.Context, handle string, inputJSON []byte) ([]byte, error) {
	if err := d.frame.Authorize(permission.Capability{Kind: permission.KindCallouts, Handle: handle}); err != nil {
		return nil, err
	}
	if d.callouts == nil {
		return nil, fmt.Errorf("host: no callout invoker configured")
	}
	return d.callouts.InvokeCallout(ctx, handle, inputJSON, d.frame)
}

func (d *Dispatcher) LoadText(handle, path string) (string, error) {
	if err := d.frame.Authorize(permission.Capability{Kind: permission.KindFiles, Handle: handle, Path: path}); err != nil {
		return "", err
	}
	if d.files == nil {
		return "", fmt.Errorf("host: no file loader configured")
	}
	return d.files.LoadText(handle, path)
}

func (d *Dispatcher) LoadBin(handle, path string) ([]byte, error) {
	if err := d.frame.Authorize(permission.Capability{Kind: permission.KindFiles, Handle: handle, Path: path}); err != nil {
		return nil, err
	}
	if d.files == nil {
		return nil, fmt.Errorf("host: no file loader configured")
	}
	return d.files.LoadBin(handle, path)
}

func (d *Dispatcher) Env(key string) (string, bool) {
	if err := d.frame.Authorize(permission.Capability{Kind: permission.KindEnv, Key: key}); err != nil {
		return "", false
	}
	return d.envLookup(key)
}

func (d *Dispatcher) Font(stack string) (ResolvedFont, bool) {
	if err := d.frame.Authorize(permission.Capability{Kind: permission.KindFonts}); err != nil {
		return ResolvedFont{}, false
	}
	if d.fonts == nil {
		return ResolvedFont{}, false
	}
	return d.fonts.Resolve(stack)
}

// EncodeBin and DecodeBin carry no capability requirement: they are pure
// data transforms, not access to anything outside the sandbox.
func (d *Dispatcher) EncodeBin(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func (d *Dispatcher) DecodeBin(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}
