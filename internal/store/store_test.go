// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeStateTransitions(t *testing.T) {
	n := NewNodeState("a")
	require.Equal(t, StatusPending, n.Status())

	n.SetStatus(StatusInputReady)
	n.SetResolved(map[string]any{"x": 1}, "fp123")
	n.SetStatus(StatusCompleted)
	n.SetOutput(map[string]any{"y": 2})

	snap := n.Snapshot()
	require.Equal(t, StatusCompleted, snap.Status)
	require.Equal(t, "fp123", snap.Fingerprint)
	require.True(t, snap.Status.Terminal())
}

func TestFingerprintDeterministic(t *testing.T) {
	input := map[string]any{"b": 2, "a": 1}
	fp1, err := Fingerprint(input, "acme.increment.1.0.0", "slipway-v1")
	require.NoError(t, err)
	fp2, err := Fingerprint(map[string]any{"a": 1, "b": 2}, "acme.increment.1.0.0", "slipway-v1")
	require.NoError(t, err)
	require.Equal(t, fp1, fp2)
}

func TestFingerprintChangesWithComponentRef(t *testing.T) {
	input := map[string]any{"a": 1}
	fp1, err := Fingerprint(input, "acme.increment.1.0.0", "slipway-v1")
	require.NoError(t, err)
	fp2, err := Fingerprint(input, "acme.increment.2.0.0", "slipway-v1")
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp2)
}

func TestCacheGetPutRoundTrip(t *testing.T) {
	c, err := NewCache(8)
	require.NoError(t, err)

	_, ok := c.Get("missing")
	require.False(t, ok)

	c.Put("fp1", CacheEntry{Output: "hello"})
	entry, ok := c.Get("fp1")
	require.True(t, ok)
	require.Equal(t, "hello", entry.Output)
}

func TestCacheSnapshotRestore(t *testing.T) {
	c, err := NewCache(8)
	require.NoError(t, err)
	c.Put("fp1", CacheEntry{Output: "hello"})

	snap := c.Snapshot()

	fresh, err := NewCache(8)
	require.NoError(t, err)
	fresh.Restore(snap)

	entry, ok := fresh.Get("fp1")
	require.True(t, ok)
	require.Equal(t, "hello", entry.Output)
}
