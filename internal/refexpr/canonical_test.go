// SPDX-License-Identifier: GPL-3.0-or-later

package refexpr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalBytesSortsKeys(t *testing.T) {
	v := map[string]any{"zebra": 1.0, "apple": 2.0}
	b, err := CanonicalBytes(v)
	require.NoError(t, err)
	require.Equal(t, `{"apple":2,"zebra":1}`, string(b))
}

func TestCanonicalBytesNormalisesIntegers(t *testing.T) {
	b, err := CanonicalBytes(map[string]any{"value": 3.0})
	require.NoError(t, err)
	require.Equal(t, `{"value":3}`, string(b))
}

func TestCanonicalizeIdempotent(t *testing.T) {
	v := map[string]any{"b": []any{1.0, 2.0}, "a": "x"}
	once := Canonicalize(v)
	twice := Canonicalize(once)
	b1, err := CanonicalBytes(once)
	require.NoError(t, err)
	b2, err := CanonicalBytes(twice)
	require.NoError(t, err)
	require.Equal(t, string(b1), string(b2))
}
