// SPDX-License-Identifier: GPL-3.0-or-later

// Package component models the loadable unit a Rig node instantiates: its
// reference, its schemas, its declared callouts/permissions, and the
// Loader trait the engine consumes to obtain one.
package component

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var nameRE = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Ref is a publisher.name.semver triplet identifying a Component
// Definition. Version may be an exact "x.y.z" or a caret-style
// compatibility constraint ("^1.2.0").
type Ref struct {
	Publisher  string
	Name       string
	Version    string // as written, exact or constraint
	constraint *semver.Constraints
	exact      *semver.Version
}

// ParseRef parses "publisher.name.version" into a Ref. Version is split
// off from the right: the first two dot-separated labels are publisher
// and name, the remainder is the version/constraint.
func ParseRef(s string) (Ref, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return Ref{}, fmt.Errorf("component: invalid reference %q, want publisher.name.version", s)
	}
	publisher, name, version := parts[0], parts[1], parts[2]
	if !nameRE.MatchString(publisher) {
		return Ref{}, fmt.Errorf("component: invalid publisher %q in reference %q", publisher, s)
	}
	if !nameRE.MatchString(name) {
		return Ref{}, fmt.Errorf("component: invalid name %q in reference %q", name, s)
	}
	ref := Ref{Publisher: publisher, Name: name, Version: version}

	if v, err := semver.NewVersion(version); err == nil && isExact(version) {
		ref.exact = v
		return ref, nil
	}
	c, err := semver.NewConstraint(version)
	if err != nil {
		return Ref{}, fmt.Errorf("component: invalid version/constraint %q in reference %q: %w", version, s, err)
	}
	ref.constraint = c
	return ref, nil
}

func isExact(version string) bool {
	return regexp.MustCompile(`^\d+\.\d+\.\d+$`).MatchString(version)
}

// String renders the reference back to "publisher.name.version".
func (r Ref) String() string {
	return fmt.Sprintf("%s.%s.%s", r.Publisher, r.Name, r.Version)
}

// Family identifies publisher+name, ignoring version, for grouping loaded
// versions of the same component.
func (r Ref) Family() string {
	return r.Publisher + "." + r.Name
}

// Matches reports whether candidate (an exact semver) satisfies r's
// version requirement: equal if r is exact, or within the constraint
// otherwise.
func (r Ref) Matches(candidate *semver.Version) bool {
	if r.exact != nil {
		return r.exact.Equal(candidate)
	}
	if r.constraint != nil {
		return r.constraint.Check(candidate)
	}
	return false
}

// SelectHighest picks, among candidates (exact semvers of already-loaded
// definitions in the same Family), the highest version matching r,
// implementing the caret-style "select the highest loaded version
// matching the constraint" rule.
func (r Ref) SelectHighest(candidates []*semver.Version) (*semver.Version, bool) {
	var best *semver.Version
	for _, c := range candidates {
		if !r.Matches(c) {
			continue
		}
		if best == nil || c.GreaterThan(best) {
			best = c
		}
	}
	return best, best != nil
}
