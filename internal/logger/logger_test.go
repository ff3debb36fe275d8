// SPDX-License-Identifier: GPL-3.0-or-later

package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerWritesMessageAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormat("text"), WithWriter(&buf), WithQuiet())

	l.Info("hello world")

	require.Contains(t, buf.String(), "hello world")
	require.Contains(t, buf.String(), "level=INFO")
}

func TestLoggerDebugSuppressedWithoutWithDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormat("text"), WithWriter(&buf), WithQuiet())

	l.Debug("should not appear")

	require.Empty(t, buf.String())
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormat("json"), WithWriter(&buf), WithQuiet())

	l.Info("json message")

	require.Contains(t, buf.String(), `"msg":"json message"`)
}

func TestLoggerFormattedVariants(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormat("text"), WithWriter(&buf), WithQuiet())

	l.Infof("count=%d", 3)

	require.Contains(t, buf.String(), "count=3")
}

func TestLoggerWithAttributesAndGroup(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormat("text"), WithWriter(&buf), WithQuiet())

	l.With("handle", "a").Info("tagged")
	require.Contains(t, buf.String(), "handle=a")

	buf.Reset()
	l.WithGroup("node").With("handle", "b").Info("grouped")
	require.Contains(t, buf.String(), "node.handle=b")
}

func TestFromContextDefaultsWhenUnset(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
}

func TestContextHelpersUseAttachedLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormat("text"), WithWriter(&buf), WithQuiet())
	ctx := WithLogger(context.Background(), l)

	Info(ctx, "via context")

	require.True(t, strings.Contains(buf.String(), "via context"))
}
