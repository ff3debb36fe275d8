// SPDX-License-Identifier: GPL-3.0-or-later

// Package logger is the structured logging layer every component of the
// evaluation engine writes through: a slog-backed Logger with a
// functional-options constructor, built so the reported source location
// is the frame that calls a Logger method, not a frame inside logger.go.
// The context helpers in context.go are such callers themselves, so a
// record logged through them reports context.go as its source.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// Logger is the structured logger every package depends on instead of
// log/slog directly, so a fixed call-depth skip can attribute "source" to
// the frame that called the Logger method; any further wrapper frames
// above that call are not skipped.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)

	With(args ...any) Logger
	WithGroup(name string) Logger
}

type logger struct {
	slog *slog.Logger
}

// Option configures a Logger built with NewLogger.
type Option func(*options)

type options struct {
	debug  bool
	format string
	writer io.Writer
	quiet  bool
	extra  []slog.Handler
}

// WithDebug enables debug-level logging and source-location reporting.
func WithDebug() Option {
	return func(o *options) { o.debug = true }
}

// WithFormat selects "text" (default) or "json" output.
func WithFormat(format string) Option {
	return func(o *options) { o.format = format }
}

// WithWriter sets the primary output writer (default os.Stderr).
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithQuiet discards output instead of falling back to the default stderr
// writer when no WithWriter is given. A writer set with WithWriter is used
// as is, with or without WithQuiet.
func WithQuiet() Option {
	return func(o *options) { o.quiet = true }
}

// WithFanout adds an additional slog.Handler every record is also written
// to, via samber/slog-multi -- used to tee records into an external sink
// (a node's own execution trace) without replacing the primary writer.
func WithFanout(h slog.Handler) Option {
	return func(o *options) { o.extra = append(o.extra, h) }
}

// NewLogger builds a Logger from the given options.
func NewLogger(opts ...Option) Logger {
	o := &options{format: "text"}
	for _, opt := range opts {
		opt(o)
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: o.debug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			return a
		},
	}

	var primary slog.Handler
	w := o.writer
	if w == nil {
		if o.quiet {
			w = io.Discard
		} else {
			w = os.Stderr
		}
	}
	if o.format == "json" {
		primary = slog.NewJSONHandler(w, handlerOpts)
	} else {
		primary = slog.NewTextHandler(w, handlerOpts)
	}

	handler := primary
	if len(o.extra) > 0 {
		handler = slogmulti.Fanout(append([]slog.Handler{primary}, o.extra...)...)
	}

	return &logger{slog: slog.New(handler)}
}

// log logs a record attributed to the caller of the exported
// Logger method, not this wrapper.
func (l *logger) log(level slog.Level, msg string, args ...any) {
	if !l.slog.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip Callers, log, and the exported method
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.slog.Handler().Handle(context.Background(), r)
}

func (l *logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *logger) Debugf(format string, args ...any) { l.log(slog.LevelDebug, fmt.Sprintf(format, args...)) }
func (l *logger) Infof(format string, args ...any)  { l.log(slog.LevelInfo, fmt.Sprintf(format, args...)) }
func (l *logger) Warnf(format string, args ...any)  { l.log(slog.LevelWarn, fmt.Sprintf(format, args...)) }
func (l *logger) Errorf(format string, args ...any) { l.log(slog.LevelError, fmt.Sprintf(format, args...)) }

func (l *logger) With(args ...any) Logger {
	return &logger{slog: l.slog.With(args...)}
}

func (l *logger) WithGroup(name string) Logger {
	return &logger{slog: l.slog.WithGroup(name)}
}
