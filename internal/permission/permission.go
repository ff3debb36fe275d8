// SPDX-License-Identifier: GPL-3.0-or-later

// Package permission implements the hierarchical permission model: tagged
// Permission variants, allow/deny Sets, and the Frame derivation rules that
// narrow authority from a parent execution context down through nodes and
// callouts.
package permission

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies a permission variant.
type Kind string

const (
	KindFonts              Kind = "fonts"
	KindEnv                Kind = "env"
	KindHTTP               Kind = "http"
	KindRegistryComponents Kind = "registry_components"
	KindFiles              Kind = "files"
	KindAll                Kind = "all"
	KindCallouts           Kind = "callouts"
)

// Permission is a single tagged-variant grant or restriction.
type Permission struct {
	Kind Kind `json:"kind"`

	// Key applies to KindEnv.
	Key string `json:"key,omitempty"`
	// Prefix applies to KindHTTP.
	Prefix string `json:"prefix,omitempty"`
	// Handle applies to KindFiles and KindCallouts.
	Handle string `json:"handle,omitempty"`
	// PathPrefix applies to KindFiles.
	PathPrefix string `json:"pathPrefix,omitempty"`
}

// Capability describes a concrete request a running component makes to the
// host interface, checked against a Frame's Set.
type Capability struct {
	Kind   Kind
	Key    string // env key
	URL    string // http url
	Handle string // files / callouts handle
	Path   string // files path
}

// Matches reports whether p authorises (or restricts) cap.
func (p Permission) Matches(cap Capability) bool {
	if p.Kind == KindAll {
		return true
	}
	if p.Kind != cap.Kind {
		return false
	}
	switch p.Kind {
	case KindFonts, KindRegistryComponents:
		return true
	case KindEnv:
		return p.Key == "" || p.Key == cap.Key
	case KindHTTP:
		return p.Prefix == "" || strings.HasPrefix(cap.URL, p.Prefix)
	case KindFiles:
		if p.Handle != "" && p.Handle != cap.Handle {
			return false
		}
		return p.PathPrefix == "" || strings.HasPrefix(cap.Path, p.PathPrefix)
	case KindCallouts:
		return p.Handle == "" || p.Handle == cap.Handle
	default:
		return false
	}
}

// String renders a human-readable form, used in PermissionDenied errors.
func (p Permission) String() string {
	switch p.Kind {
	case KindEnv:
		if p.Key != "" {
			return fmt.Sprintf("env{%s}", p.Key)
		}
		return "env{}"
	case KindHTTP:
		if p.Prefix != "" {
			return fmt.Sprintf("http{%s}", p.Prefix)
		}
		return "http{}"
	case KindFiles:
		return fmt.Sprintf("files{handle=%s,prefix=%s}", p.Handle, p.PathPrefix)
	case KindCallouts:
		if p.Handle != "" {
			return fmt.Sprintf("callouts{%s}", p.Handle)
		}
		return "callouts{}"
	default:
		return string(p.Kind)
	}
}

// Set is a pair of allow/deny lists. A capability is authorised iff matched
// by some allow entry AND not matched by any deny entry.
type Set struct {
	Allow []Permission `json:"allow,omitempty"`
	Deny  []Permission `json:"deny,omitempty"`
}

// Authorizes reports whether cap is authorised under s.
func (s Set) Authorizes(cap Capability) bool {
	allowed := false
	for _, p := range s.Allow {
		if p.Matches(cap) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	for _, p := range s.Deny {
		if p.Matches(cap) {
			return false
		}
	}
	return true
}

// Union returns a new Set with a's and b's allow/deny lists concatenated.
func Union(a, b Set) Set {
	return Set{
		Allow: append(append([]Permission{}, a.Allow...), b.Allow...),
		Deny:  append(append([]Permission{}, a.Deny...), b.Deny...),
	}
}

// Narrow returns the true intersection of requested and declared: the
// declared list acts as the component's stated requirement, and requested
// (normally the caller/parent's granted authority) is intersected against
// it so the result is never broader than either side -- an unscoped
// (empty-Prefix/Key/Handle, or KindAll) entry on either side yields the
// other side's narrower scope, it never itself survives into the result
// unless both sides are unscoped. A nil or empty declared list means
// "requires nothing": narrowing against it always yields the empty set
// (fails closed), per the Open Question resolution.
func Narrow(requested []Permission, declared []Permission) []Permission {
	if len(declared) == 0 {
		return nil
	}
	var out []Permission
	for _, d := range declared {
		for _, r := range requested {
			if narrowed, ok := intersectPermission(d, r); ok {
				out = append(out, narrowed)
			}
		}
	}
	return out
}

// intersectPermission computes the narrower of declared and requested when
// the two scopes overlap, reporting false when they share no authority at
// all (different kinds, or incompatible non-unscoped scopes on the same
// kind). Unlike the discarded "does it overlap" check this replaces, the
// returned Permission is the actual intersection, never the wider of the
// two inputs -- an unscoped declared entry narrows down to whatever
// requested actually grants, and vice versa.
func intersectPermission(declared, requested Permission) (Permission, bool) {
	if declared.Kind == KindAll && requested.Kind == KindAll {
		return Permission{Kind: KindAll}, true
	}
	if declared.Kind == KindAll {
		return requested, true
	}
	if requested.Kind == KindAll {
		return declared, true
	}
	if declared.Kind != requested.Kind {
		return Permission{}, false
	}
	switch declared.Kind {
	case KindFonts, KindRegistryComponents:
		return Permission{Kind: declared.Kind}, true
	case KindEnv:
		key, ok := narrowExact(declared.Key, requested.Key)
		if !ok {
			return Permission{}, false
		}
		return Permission{Kind: KindEnv, Key: key}, true
	case KindHTTP:
		prefix, ok := narrowPrefix(declared.Prefix, requested.Prefix)
		if !ok {
			return Permission{}, false
		}
		return Permission{Kind: KindHTTP, Prefix: prefix}, true
	case KindFiles:
		handle, ok := narrowExact(declared.Handle, requested.Handle)
		if !ok {
			return Permission{}, false
		}
		pathPrefix, ok := narrowPrefix(declared.PathPrefix, requested.PathPrefix)
		if !ok {
			return Permission{}, false
		}
		return Permission{Kind: KindFiles, Handle: handle, PathPrefix: pathPrefix}, true
	case KindCallouts:
		handle, ok := narrowExact(declared.Handle, requested.Handle)
		if !ok {
			return Permission{}, false
		}
		return Permission{Kind: KindCallouts, Handle: handle}, true
	default:
		return Permission{}, false
	}
}

// narrowExact intersects two exact-match scope fields (env key, files/
// callouts handle), where "" means unscoped. Two different non-empty
// values share no authority.
func narrowExact(declared, requested string) (string, bool) {
	if declared == "" {
		return requested, true
	}
	if requested == "" {
		return declared, true
	}
	if declared == requested {
		return declared, true
	}
	return "", false
}

// narrowPrefix intersects two prefix-match scope fields (http prefix,
// files pathPrefix), where "" means unscoped. Of two non-empty prefixes,
// one must contain the other for them to share any authority; the more
// specific (longer) one is the intersection.
func narrowPrefix(declared, requested string) (string, bool) {
	if declared == "" {
		return requested, true
	}
	if requested == "" {
		return declared, true
	}
	if strings.HasPrefix(requested, declared) {
		return requested, true
	}
	if strings.HasPrefix(declared, requested) {
		return declared, true
	}
	return "", false
}

// UnmarshalJSON parses a Permission from its tagged-variant JSON shape,
// e.g. {"kind":"http","prefix":"https://"} or the bare-string shorthand
// "all"/"fonts"/"registry_components".
func (p *Permission) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Kind = Kind(s)
		return nil
	}
	type alias Permission
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("permission: %w", err)
	}
	*p = Permission(a)
	return nil
}
