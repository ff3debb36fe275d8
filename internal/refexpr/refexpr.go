// SPDX-License-Identifier: GPL-3.0-or-later

package refexpr

import (
	"fmt"
	"strings"
)

// Kind identifies which prefix a reference expression matched.
type Kind int

const (
	// KindNone means the string is a literal, not a reference.
	KindNone Kind = iota
	// KindConstant is "$.<path>", a JSONPath against the rig constants.
	KindConstant
	// KindNode is "$$.<handle>" or "$$.<handle>.<path>".
	KindNode
	// KindContext is "$$$", the evaluator-scoped context value.
	KindContext
)

// Expression is a parsed reference expression.
type Expression struct {
	Kind    Kind
	Handle  string // set for KindNode
	Path    string // remaining JSONPath, without leading "$" / "$$.<handle>"
	Literal string // original string, for error messages
}

// Detect inspects a whole-string JSON value and reports whether it is a
// reference expression. Only whole-string values are considered; there is
// no in-string interpolation. Detection is purely syntactic: resolving a
// node handle that doesn't exist is a later validation concern.
func Detect(s string) (Expression, bool) {
	switch {
	case s == "$$$" || strings.HasPrefix(s, "$$$."):
		return Expression{Kind: KindContext, Path: strings.TrimPrefix(s, "$$$"), Literal: s}, true
	case strings.HasPrefix(s, "$$."):
		rest := strings.TrimPrefix(s, "$$.")
		handle, path, _ := strings.Cut(rest, ".")
		if handle == "" {
			return Expression{}, false
		}
		return Expression{Kind: KindNode, Handle: handle, Path: path, Literal: s}, true
	case strings.HasPrefix(s, "$."):
		return Expression{Kind: KindConstant, Path: strings.TrimPrefix(s, "$"), Literal: s}, true
	default:
		return Expression{}, false
	}
}

// ExtractDependencies scans a raw node input (decoded JSON: map[string]any,
// []any, string, or scalar) and returns the set of predecessor node handles
// referenced anywhere within it via "$$.<handle>" tokens. This seeds the
// dependency DAG before any value is resolved.
func ExtractDependencies(raw any) ([]string, error) {
	seen := map[string]struct{}{}
	if err := walkDependencies(raw, seen); err != nil {
		return nil, err
	}
	handles := make([]string, 0, len(seen))
	for h := range seen {
		handles = append(handles, h)
	}
	return handles, nil
}

func walkDependencies(raw any, seen map[string]struct{}) error {
	switch v := raw.(type) {
	case string:
		expr, ok := Detect(v)
		if !ok {
			return nil
		}
		if expr.Kind == KindNode {
			if expr.Handle == "self" {
				return fmt.Errorf("refexpr: self-reference is not allowed: %q", v)
			}
			seen[expr.Handle] = struct{}{}
		}
	case map[string]any:
		for _, vv := range v {
			if err := walkDependencies(vv, seen); err != nil {
				return err
			}
		}
	case []any:
		for _, vv := range v {
			if err := walkDependencies(vv, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

// Resolver supplies the values a reference expression may name.
type Resolver interface {
	// Constants returns the rig's constants object (may be nil).
	Constants() any
	// NodeOutput returns the stored output of a Completed node, or
	// (nil, false) if the handle is unknown or not yet produced.
	NodeOutput(handle string) (any, bool)
	// Context returns the evaluator-scoped "$$$" value (may be nil).
	Context() any
}

// Resolve expands every reference expression within raw, recursively:
// references nested inside arrays/objects are resolved before the parent
// is frozen. The result is a plain JSON value (map[string]any / []any /
// scalars) with no remaining reference strings.
func Resolve(raw any, r Resolver) (any, error) {
	switch v := raw.(type) {
	case string:
		expr, ok := Detect(v)
		if !ok {
			return v, nil
		}
		return resolveExpression(expr, r)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, vv := range v {
			rv, err := Resolve(vv, r)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, vv := range v {
			rv, err := Resolve(vv, r)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveExpression(expr Expression, r Resolver) (any, error) {
	switch expr.Kind {
	case KindConstant:
		return queryPath(expr.Path, r.Constants())
	case KindContext:
		return queryPath(expr.Path, r.Context())
	case KindNode:
		if expr.Handle == "self" {
			return nil, fmt.Errorf("refexpr: self-reference is not allowed: %q", expr.Literal)
		}
		out, ok := r.NodeOutput(expr.Handle)
		if !ok {
			return nil, fmt.Errorf("refexpr: node %q has no stored output", expr.Handle)
		}
		if expr.Path == "" {
			return out, nil
		}
		return queryPath("$."+expr.Path, out)
	default:
		return nil, fmt.Errorf("refexpr: unrecognised reference expression %q", expr.Literal)
	}
}

func queryPath(expr string, root any) (any, error) {
	if expr == "" || expr == "$" {
		return root, nil
	}
	p, err := ParsePath(expr)
	if err != nil {
		return nil, err
	}
	return p.Query(root), nil
}
