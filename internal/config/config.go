// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads the engine's run configuration: engine tuning
// (concurrency, timeouts, heap limit), where components and the cache
// live, logging, and the root permission frame's default grants. Loading
// goes through spf13/viper with environment-variable binding and a
// go-viper/mapstructure decode pass, mirroring the layered
// flag/env/file precedence the retrieval pack's own config loader uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/slipwayhq/slipway/internal/permission"
)

// EnvPrefix is prepended to every bound environment variable, e.g.
// SLIPWAY_ENGINE_MAXCONCURRENCY.
const EnvPrefix = "SLIPWAY"

// Engine tunes the scheduler and sandbox runners.
type Engine struct {
	MaxConcurrency   int           `mapstructure:"maxConcurrency"`
	DefaultTimeout   time.Duration `mapstructure:"defaultTimeout"`
	DefaultHeapLimit int64         `mapstructure:"defaultHeapLimit"`
	CacheSize        int           `mapstructure:"cacheSize"`

	// FetchRetryPolicy selects which internal/backoff.RetryPolicy the
	// fetch_text/fetch_bin host capability retries transport failures and
	// retryable statuses with: "exponential" (default), "constant", or
	// "linear".
	FetchRetryPolicy    string        `mapstructure:"fetchRetryPolicy"`
	FetchRetryInterval  time.Duration `mapstructure:"fetchRetryInterval"`
	FetchRetryIncrement time.Duration `mapstructure:"fetchRetryIncrement"`
	FetchRetryMaxWait   time.Duration `mapstructure:"fetchRetryMaxWait"`
	FetchMaxRetries     int           `mapstructure:"fetchMaxRetries"`
}

// Paths locates on-disk resources.
type Paths struct {
	ComponentsDir   string `mapstructure:"componentsDir"`
	FilesDir        string `mapstructure:"filesDir"`
	FontsDir        string `mapstructure:"fontsDir"`
	WatchComponents bool   `mapstructure:"watchComponents"`
}

// Logging configures the structured logger.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Permissions is the serving context's configured root allow/deny,
// unioned into every node's own declared grant during Frame derivation.
type Permissions struct {
	Allow []permission.Permission `mapstructure:"allow"`
	Deny  []permission.Permission `mapstructure:"deny"`
}

// Set converts Permissions to a permission.Set.
func (p Permissions) Set() permission.Set {
	return permission.Set{Allow: p.Allow, Deny: p.Deny}
}

// Config is the fully resolved configuration for one engine run.
type Config struct {
	Engine      Engine      `mapstructure:"engine"`
	Paths       Paths       `mapstructure:"paths"`
	Logging     Logging     `mapstructure:"logging"`
	Permissions Permissions `mapstructure:"permissions"`

	// ConfigFileUsed records the file viper actually loaded, for
	// diagnostics; empty when none was found.
	ConfigFileUsed string `mapstructure:"-"`
}

func defaults() Config {
	return Config{
		Engine: Engine{
			MaxConcurrency:      4,
			DefaultTimeout:      30 * time.Second,
			DefaultHeapLimit:    256 * 1024 * 1024,
			CacheSize:           256,
			FetchRetryPolicy:    "exponential",
			FetchRetryInterval:  100 * time.Millisecond,
			FetchRetryIncrement: 100 * time.Millisecond,
			FetchRetryMaxWait:   10 * time.Second,
			FetchMaxRetries:     2,
		},
		Paths: Paths{
			ComponentsDir: "./components",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Option configures Load.
type Option func(*viper.Viper)

// WithConfigFile forces loading a specific file instead of searching the
// default locations. A missing file is not an error: it is treated the
// same as no config file being found by the default search.
func WithConfigFile(path string) Option {
	return func(v *viper.Viper) { v.SetConfigFile(path) }
}

// Load builds a Config from (in ascending precedence) built-in defaults,
// a config file, and SLIPWAY_-prefixed environment variables.
func Load(opts ...Option) (*Config, error) {
	v := viper.New()
	v.SetConfigName("slipway")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "slipway"))
	}

	for _, opt := range opts {
		opt(v)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvironmentVariables(v)

	cfg := defaults()
	applyDefaultsToViper(v, cfg)

	var configFileUsed string
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	} else {
		configFileUsed = v.ConfigFileUsed()
	}

	if err := decode(v, &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	cfg.ConfigFileUsed = configFileUsed

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// bindEnvironmentVariables binds every leaf key explicitly, since
// AutomaticEnv alone only resolves a key once something has already
// asked viper for it.
func bindEnvironmentVariables(v *viper.Viper) {
	keys := []string{
		"engine.maxConcurrency",
		"engine.defaultTimeout",
		"engine.defaultHeapLimit",
		"engine.cacheSize",
		"engine.fetchRetryPolicy",
		"engine.fetchRetryInterval",
		"engine.fetchRetryIncrement",
		"engine.fetchRetryMaxWait",
		"engine.fetchMaxRetries",
		"paths.componentsDir",
		"paths.filesDir",
		"paths.fontsDir",
		"paths.watchComponents",
		"logging.level",
		"logging.format",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

func applyDefaultsToViper(v *viper.Viper, cfg Config) {
	v.SetDefault("engine.maxConcurrency", cfg.Engine.MaxConcurrency)
	v.SetDefault("engine.defaultTimeout", cfg.Engine.DefaultTimeout)
	v.SetDefault("engine.defaultHeapLimit", cfg.Engine.DefaultHeapLimit)
	v.SetDefault("engine.cacheSize", cfg.Engine.CacheSize)
	v.SetDefault("engine.fetchRetryPolicy", cfg.Engine.FetchRetryPolicy)
	v.SetDefault("engine.fetchRetryInterval", cfg.Engine.FetchRetryInterval)
	v.SetDefault("engine.fetchRetryIncrement", cfg.Engine.FetchRetryIncrement)
	v.SetDefault("engine.fetchRetryMaxWait", cfg.Engine.FetchRetryMaxWait)
	v.SetDefault("engine.fetchMaxRetries", cfg.Engine.FetchMaxRetries)
	v.SetDefault("paths.componentsDir", cfg.Paths.ComponentsDir)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}

// decode unmarshals v's settings into cfg. permission.Permission carries
// only json tags, so its fields decode through mapstructure's default
// case-insensitive field-name matching rather than an explicit tag.
func decode(v *viper.Viper, cfg *Config) error {
	decoderOpts := func(c *mapstructure.DecoderConfig) {
		c.TagName = "mapstructure"
		c.ErrorUnused = false
	}
	if err := v.Unmarshal(cfg, decoderOpts); err != nil {
		return err
	}
	return nil
}

// Validate reports configuration errors Load cannot catch by
// construction: out-of-range tunables and missing required paths.
func (c *Config) Validate() error {
	if c.Engine.MaxConcurrency < 1 {
		return fmt.Errorf("engine.maxConcurrency must be at least 1, got %d", c.Engine.MaxConcurrency)
	}
	if c.Engine.DefaultTimeout <= 0 {
		return fmt.Errorf("engine.defaultTimeout must be positive, got %s", c.Engine.DefaultTimeout)
	}
	if c.Engine.DefaultHeapLimit <= 0 {
		return fmt.Errorf("engine.defaultHeapLimit must be positive, got %d", c.Engine.DefaultHeapLimit)
	}
	if c.Paths.ComponentsDir == "" {
		return fmt.Errorf("paths.componentsDir must not be empty")
	}
	switch c.Engine.FetchRetryPolicy {
	case "exponential", "constant", "linear":
	default:
		return fmt.Errorf("engine.fetchRetryPolicy must be %q, %q, or %q, got %q", "exponential", "constant", "linear", c.Engine.FetchRetryPolicy)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be %q or %q, got %q", "text", "json", c.Logging.Format)
	}
	return nil
}
