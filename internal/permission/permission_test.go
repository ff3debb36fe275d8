// SPDX-License-Identifier: GPL-3.0-or-later

package permission

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetAuthorizesHTTPPrefix(t *testing.T) {
	s := Set{Allow: []Permission{{Kind: KindHTTP, Prefix: "https://good.example"}}}
	require.True(t, s.Authorizes(Capability{Kind: KindHTTP, URL: "https://good.example/api"}))
	require.False(t, s.Authorizes(Capability{Kind: KindHTTP, URL: "https://evil.example"}))
}

func TestSetDenyOverridesAllow(t *testing.T) {
	s := Set{
		Allow: []Permission{{Kind: KindAll}},
		Deny:  []Permission{{Kind: KindEnv, Key: "SECRET"}},
	}
	require.True(t, s.Authorizes(Capability{Kind: KindEnv, Key: "OTHER"}))
	require.False(t, s.Authorizes(Capability{Kind: KindEnv, Key: "SECRET"}))
}

func TestFrameMonotonicity(t *testing.T) {
	root := Root(Set{Allow: []Permission{{Kind: KindAll}}})
	node := root.DeriveNode("a", Set{}, []Permission{{Kind: KindHTTP, Prefix: "https://good.example"}})

	require.NoError(t, node.Authorize(Capability{Kind: KindHTTP, URL: "https://good.example/x"}))
	require.Error(t, node.Authorize(Capability{Kind: KindEnv, Key: "ANY"}))
}

func TestFrameEmptyComponentRequirementFailsClosed(t *testing.T) {
	root := Root(Set{Allow: []Permission{{Kind: KindAll}}})
	node := root.DeriveNode("a", Set{Allow: []Permission{{Kind: KindHTTP, Prefix: "https://x"}}}, nil)
	require.Error(t, node.Authorize(Capability{Kind: KindHTTP, URL: "https://x/y"}))
}

func TestFrameCalloutNarrowing(t *testing.T) {
	root := Root(Set{Allow: []Permission{{Kind: KindAll}}})
	node := root.DeriveNode("a", Set{}, []Permission{
		{Kind: KindCallouts, Handle: "inc"},
		{Kind: KindHTTP, Prefix: "https://good.example"},
	})
	callout := node.DeriveCallout("inc", []Permission{{Kind: KindHTTP, Prefix: "https://good.example"}}, nil)

	require.NoError(t, callout.Authorize(Capability{Kind: KindHTTP, URL: "https://good.example/a"}))
}

func TestFrameNarrowingRejectsUnscopedDeclaredRequirement(t *testing.T) {
	root := Root(Set{Allow: []Permission{{Kind: KindHTTP, Prefix: "https://good.example"}}})
	node := root.DeriveNode("a", Set{}, []Permission{{Kind: KindHTTP, Prefix: ""}})

	require.NoError(t, node.Authorize(Capability{Kind: KindHTTP, URL: "https://good.example/x"}))
	require.Error(t, node.Authorize(Capability{Kind: KindHTTP, URL: "https://evil.example"}))
}

func TestFrameNarrowingRejectsUnscopedGrantedAuthority(t *testing.T) {
	root := Root(Set{Allow: []Permission{{Kind: KindHTTP, Prefix: ""}}})
	node := root.DeriveNode("a", Set{}, []Permission{{Kind: KindHTTP, Prefix: "https://good.example"}})

	require.NoError(t, node.Authorize(Capability{Kind: KindHTTP, URL: "https://good.example/x"}))
	require.Error(t, node.Authorize(Capability{Kind: KindHTTP, URL: "https://evil.example"}))
}

func TestPermissionDeniedError(t *testing.T) {
	root := Root(Set{})
	err := root.Authorize(Capability{Kind: KindEnv, Key: "X"})
	require.Error(t, err)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, []string{"root"}, denied.Chain)
}
