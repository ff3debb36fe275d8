// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"

	"github.com/slipwayhq/slipway/internal/component"
	"github.com/slipwayhq/slipway/internal/config"
	"github.com/slipwayhq/slipway/internal/engine"
	"github.com/slipwayhq/slipway/internal/host"
	"github.com/slipwayhq/slipway/internal/logger"
	"github.com/slipwayhq/slipway/internal/runner/js"
	"github.com/slipwayhq/slipway/internal/runner/wasm"
	"github.com/slipwayhq/slipway/internal/scheduler"
	"github.com/slipwayhq/slipway/internal/store"
)

// setup holds the collaborators built from one loaded Config, and the
// cleanup each one needs once the command finishes.
type setup struct {
	cfg *config.Config
	log logger.Logger

	wasmRunner *wasm.Runner
}

func loadSetup(ctx context.Context, cfgFile string) (*setup, error) {
	var opts []config.Option
	if cfgFile != "" {
		opts = append(opts, config.WithConfigFile(cfgFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logOpts := []logger.Option{logger.WithFormat(cfg.Logging.Format)}
	if cfg.Logging.Level == "debug" {
		logOpts = append(logOpts, logger.WithDebug())
	}
	log := logger.NewLogger(logOpts...)

	wasmRunner, err := wasm.New(ctx, cfg.Engine.DefaultHeapLimit, cfg.Engine.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("starting wasm runtime: %w", err)
	}

	return &setup{cfg: cfg, log: log, wasmRunner: wasmRunner}, nil
}

func (s *setup) close(ctx context.Context) {
	if s.wasmRunner != nil {
		_ = s.wasmRunner.Close(ctx)
	}
}

func (s *setup) loader() (component.Loader, error) {
	dl, err := component.NewDirLoader(s.cfg.Paths.ComponentsDir)
	if err != nil {
		return nil, err
	}
	if s.cfg.Paths.WatchComponents {
		if err := dl.Watch(s.log); err != nil {
			return nil, fmt.Errorf("watching components directory: %w", err)
		}
	}
	return dl, nil
}

func (s *setup) engine(loader component.Loader) (*engine.Engine, error) {
	cache, err := store.NewCache(s.cfg.Engine.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	var files host.FileLoader
	if s.cfg.Paths.FilesDir != "" {
		files = host.NewLocalFileLoader(map[string]string{"": s.cfg.Paths.FilesDir})
	}

	deps := engine.Dependencies{
		Loader:  loader,
		Fetcher: host.NewRestyFetcher(s.cfg.Engine.DefaultTimeout, s.cfg.Engine.FetchMaxRetries, host.RetryTuning{
			Kind:        host.RetryPolicyKind(s.cfg.Engine.FetchRetryPolicy),
			Interval:    s.cfg.Engine.FetchRetryInterval,
			Increment:   s.cfg.Engine.FetchRetryIncrement,
			MaxInterval: s.cfg.Engine.FetchRetryMaxWait,
		}),
		Files:   files,
		Log:     s.log,
	}
	runners := engine.Runners{
		Wasm: s.wasmRunner,
		JS:   js.New(s.cfg.Engine.DefaultTimeout),
	}
	schedCfg := scheduler.Config{
		MaxConcurrency: s.cfg.Engine.MaxConcurrency,
		DefaultTimeout: s.cfg.Engine.DefaultTimeout,
	}
	return engine.New(schedCfg, deps, runners, cache), nil
}
