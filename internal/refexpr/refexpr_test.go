// SPDX-License-Identifier: GPL-3.0-or-later

package refexpr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	constants any
	outputs   map[string]any
	context   any
}

func (f fakeResolver) Constants() any { return f.constants }
func (f fakeResolver) Context() any   { return f.context }
func (f fakeResolver) NodeOutput(handle string) (any, bool) {
	v, ok := f.outputs[handle]
	return v, ok
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind Kind
		wantOK   bool
	}{
		{"constant", "$.foo.bar", KindConstant, true},
		{"node whole output", "$$.a", KindNode, true},
		{"node path", "$$.a.value", KindNode, true},
		{"context", "$$$", KindContext, true},
		{"context path", "$$$.device", KindContext, true},
		{"literal", "hello world", KindNone, false},
		{"literal dollar", "$5 bill", KindNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, ok := Detect(tt.input)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				require.Equal(t, tt.wantKind, expr.Kind)
			}
		})
	}
}

func TestExtractDependencies(t *testing.T) {
	raw := map[string]any{
		"value": "$$.a.value",
		"nested": map[string]any{
			"other": "$$.b",
		},
		"list":    []any{"$$.a.value", "literal"},
		"literal": "just a string",
	}
	deps, err := ExtractDependencies(raw)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, deps)
}

func TestExtractDependenciesSelfReferenceRejected(t *testing.T) {
	_, err := ExtractDependencies(map[string]any{"v": "$$.self"})
	require.Error(t, err)
}

func TestResolveLinearIncrement(t *testing.T) {
	resolver := fakeResolver{
		outputs: map[string]any{
			"a": map[string]any{"value": float64(2)},
		},
	}
	raw := map[string]any{"value": "$$.a.value"}
	resolved, err := Resolve(raw, resolver)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"value": float64(2)}, resolved)
}

func TestResolveAbsentPathIsNull(t *testing.T) {
	resolver := fakeResolver{constants: map[string]any{"a": 1}}
	resolved, err := Resolve("$.missing", resolver)
	require.NoError(t, err)
	require.Nil(t, resolved)
}

func TestResolveSelfReference(t *testing.T) {
	resolver := fakeResolver{}
	_, err := Resolve("$$.self", resolver)
	require.Error(t, err)
}

func TestResolveUnknownNode(t *testing.T) {
	resolver := fakeResolver{outputs: map[string]any{}}
	_, err := Resolve("$$.missing", resolver)
	require.Error(t, err)
}

func TestResolveContext(t *testing.T) {
	resolver := fakeResolver{context: map[string]any{"device": "kindle"}}
	resolved, err := Resolve("$$$.device", resolver)
	require.NoError(t, err)
	require.Equal(t, "kindle", resolved)
}

func TestPathQueryWildcardAndFilter(t *testing.T) {
	root := map[string]any{
		"items": []any{
			map[string]any{"name": "a", "qty": float64(1)},
			map[string]any{"name": "b", "qty": float64(5)},
		},
	}
	p, err := ParsePath("$.items[?(@.qty>2)].name")
	require.NoError(t, err)
	require.Equal(t, "b", p.Query(root))

	wild, err := ParsePath("$.items[*].name")
	require.NoError(t, err)
	require.ElementsMatch(t, []any{"a", "b"}, wild.Query(root))
}
