// SPDX-License-Identifier: GPL-3.0-or-later

package host

import "strings"

// StaticFontResolver resolves a CSS-style font stack ("Inter, Helvetica,
// sans-serif") by trying each comma-separated family in order against a
// fixed table of registered fonts, returning the first match.
type StaticFontResolver struct {
	families map[string]ResolvedFont
}

// NewStaticFontResolver builds a resolver over a fixed family table.
func NewStaticFontResolver(families map[string]ResolvedFont) *StaticFontResolver {
	return &StaticFontResolver{families: families}
}

func (r *StaticFontResolver) Resolve(stack string) (ResolvedFont, bool) {
	for _, name := range strings.Split(stack, ",") {
		name = strings.Trim(strings.TrimSpace(name), `"'`)
		if font, ok := r.families[name]; ok {
			return font, true
		}
	}
	return ResolvedFont{}, false
}
