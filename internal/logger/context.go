// SPDX-License-Identifier: GPL-3.0-or-later

package logger

import "context"

type contextKey struct{}

// WithLogger attaches l to ctx, retrievable by FromContext.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the Logger attached to ctx, or a quiet default if
// none was attached.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(contextKey{}).(Logger); ok {
		return l
	}
	return NewLogger(WithQuiet())
}

func Debug(ctx context.Context, msg string, args ...any) { FromContext(ctx).Debug(msg, args...) }
func Info(ctx context.Context, msg string, args ...any)  { FromContext(ctx).Info(msg, args...) }
func Warn(ctx context.Context, msg string, args ...any)  { FromContext(ctx).Warn(msg, args...) }
func Error(ctx context.Context, msg string, args ...any) { FromContext(ctx).Error(msg, args...) }

func Debugf(ctx context.Context, format string, args ...any) { FromContext(ctx).Debugf(format, args...) }
func Infof(ctx context.Context, format string, args ...any)  { FromContext(ctx).Infof(format, args...) }
func Warnf(ctx context.Context, format string, args ...any)  { FromContext(ctx).Warnf(format, args...) }
func Errorf(ctx context.Context, format string, args ...any) { FromContext(ctx).Errorf(format, args...) }
