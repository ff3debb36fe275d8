// SPDX-License-Identifier: GPL-3.0-or-later

// Package refexpr implements the reference expression language embedded in
// Rig node inputs: whole-string JSON values that name rig constants, other
// nodes' outputs, or the evaluator-scoped context, plus the JSONPath subset
// used to dig into them.
package refexpr

import (
	"fmt"
	"strconv"
	"strings"
)

// segment is one step of a parsed JSONPath: either a field name, a numeric
// index, a wildcard ("*"), or a filter expression ("?(@.field == value)").
type segment struct {
	field    string
	index    int
	wildcard bool
	filter   *filterExpr
}

type filterExpr struct {
	field string
	op    string // "==", "!=", ">", ">=", "<", "<="
	value any
}

// Path is a parsed JSONPath expression, ready to be queried against a value.
type Path struct {
	raw      string
	segments []segment
}

// ParsePath parses the dotted/bracket JSONPath subset described by the
// reference language: "$.a.b", "$.a[0]", "$.a[*]", "$.a[?(@.x==1)].y".
// A leading "$" (with or without following ".") denotes the document root
// and is consumed, not stored, since Query always starts from the root
// value the caller supplies.
func ParsePath(expr string) (*Path, error) {
	s := strings.TrimSpace(expr)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimPrefix(s, ".")

	p := &Path{raw: expr}
	for len(s) > 0 {
		switch {
		case s[0] == '[':
			end := strings.IndexByte(s, ']')
			if end < 0 {
				return nil, fmt.Errorf("refexpr: unterminated bracket in path %q", expr)
			}
			inner := s[1:end]
			seg, err := parseBracket(inner)
			if err != nil {
				return nil, fmt.Errorf("refexpr: %w in path %q", err, expr)
			}
			p.segments = append(p.segments, seg)
			s = s[end+1:]
			s = strings.TrimPrefix(s, ".")
		default:
			end := strings.IndexAny(s, ".[")
			var field string
			if end < 0 {
				field, s = s, ""
			} else {
				field, s = s[:end], s[end:]
				s = strings.TrimPrefix(s, ".")
			}
			if field == "" {
				return nil, fmt.Errorf("refexpr: empty path segment in %q", expr)
			}
			if field == "*" {
				p.segments = append(p.segments, segment{wildcard: true})
			} else {
				p.segments = append(p.segments, segment{field: field})
			}
		}
	}
	return p, nil
}

func parseBracket(inner string) (segment, error) {
	switch {
	case inner == "*":
		return segment{wildcard: true}, nil
	case strings.HasPrefix(inner, "?("):
		expr := strings.TrimSuffix(strings.TrimPrefix(inner, "?("), ")")
		f, err := parseFilter(expr)
		if err != nil {
			return segment{}, err
		}
		return segment{filter: f}, nil
	case strings.HasPrefix(inner, "'") && strings.HasSuffix(inner, "'"):
		return segment{field: strings.Trim(inner, "'")}, nil
	case strings.HasPrefix(inner, `"`) && strings.HasSuffix(inner, `"`):
		return segment{field: strings.Trim(inner, `"`)}, nil
	default:
		idx, err := strconv.Atoi(strings.TrimSpace(inner))
		if err != nil {
			return segment{}, fmt.Errorf("invalid bracket expression %q", inner)
		}
		return segment{index: idx}, nil
	}
}

var filterOps = []string{"==", "!=", ">=", "<=", ">", "<"}

func parseFilter(expr string) (*filterExpr, error) {
	expr = strings.TrimSpace(expr)
	for _, op := range filterOps {
		if idx := strings.Index(expr, op); idx >= 0 {
			lhs := strings.TrimSpace(expr[:idx])
			rhs := strings.TrimSpace(expr[idx+len(op):])
			lhs = strings.TrimPrefix(lhs, "@.")
			lhs = strings.TrimPrefix(lhs, "@")
			return &filterExpr{field: lhs, op: op, value: parseScalar(rhs)}, nil
		}
	}
	return nil, fmt.Errorf("unsupported filter expression %q", expr)
}

func parseScalar(s string) any {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Query evaluates the path against root. Absent paths resolve to nil --
// the literal JSON null (this is the well-defined "absent path resolves to
// null" behaviour). Query never returns an error; a path that cannot be
// navigated simply yields nil. A path with a wildcard or filter segment
// yields a []any of every match, unless exactly one value matched, in
// which case that value is returned on its own.
func (p *Path) Query(root any) any {
	cur := []any{root}
	for _, seg := range p.segments {
		var next []any
		for _, v := range cur {
			next = append(next, applySegment(seg, v)...)
		}
		cur = next
		if len(cur) == 0 {
			return nil
		}
	}
	if len(cur) == 0 {
		return nil
	}
	if hasMultiValue(p.segments) && len(cur) != 1 {
		return cur
	}
	return cur[0]
}

func hasMultiValue(segs []segment) bool {
	for _, seg := range segs {
		if seg.wildcard || seg.filter != nil {
			return true
		}
	}
	return false
}

func applySegment(seg segment, v any) []any {
	switch {
	case seg.wildcard:
		switch val := v.(type) {
		case map[string]any:
			out := make([]any, 0, len(val))
			for _, vv := range val {
				out = append(out, vv)
			}
			return out
		case []any:
			return append([]any{}, val...)
		}
		return nil
	case seg.filter != nil:
		arr, ok := v.([]any)
		if !ok {
			return nil
		}
		var out []any
		for _, item := range arr {
			if matchesFilter(seg.filter, item) {
				out = append(out, item)
			}
		}
		return out
	case seg.field != "":
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		vv, ok := m[seg.field]
		if !ok {
			return nil
		}
		return []any{vv}
	default:
		arr, ok := v.([]any)
		if !ok || seg.index < 0 || seg.index >= len(arr) {
			return nil
		}
		return []any{arr[seg.index]}
	}
}

func matchesFilter(f *filterExpr, item any) bool {
	m, ok := item.(map[string]any)
	if !ok {
		return false
	}
	actual, ok := m[f.field]
	if !ok {
		return false
	}
	switch f.op {
	case "==":
		return fmt.Sprint(actual) == fmt.Sprint(f.value)
	case "!=":
		return fmt.Sprint(actual) != fmt.Sprint(f.value)
	default:
		af, aok := toFloat(actual)
		bf, bok := toFloat(f.value)
		if !aok || !bok {
			return false
		}
		switch f.op {
		case ">":
			return af > bf
		case ">=":
			return af >= bf
		case "<":
			return af < bf
		case "<=":
			return af <= bf
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
