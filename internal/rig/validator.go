// SPDX-License-Identifier: GPL-3.0-or-later

package rig

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/slipwayhq/slipway/internal/component"
	"github.com/slipwayhq/slipway/internal/permission"
	"github.com/slipwayhq/slipway/internal/refexpr"
)

// ResolvedCallout is a callout binding resolved for one node: either the
// component's declared binding or a per-node override, together with
// the target Definition so a callout can be issued
// without a second Loader round-trip.
type ResolvedCallout struct {
	Handle string
	Target *component.Definition
	Allow  []permission.Permission
	Deny   []permission.Permission
}

// Validated is a Rig document that has passed every validation step: it
// carries the dependency graph, each node's loaded Definition, and each
// node's resolved callout bindings, ready for the scheduler to consume.
type Validated struct {
	Doc       *Document
	Graph     *Graph
	Defs      map[string]*component.Definition // by handle
	Callouts  map[string][]ResolvedCallout     // by handle
	Constants any
}

// Validate runs the validation pipeline against raw Rig JSON. Parsing
// fails fast. Component reference resolution collects every node's load
// failure into one hashicorp/go-multierror result before stopping. Edge
// building, which includes cycle detection, returns its first error alone,
// since later steps depend on the graph. Schema spot-check and callout
// binding then accumulate into one multierror result, so a caller sees
// every problem of those two steps in one pass.
func Validate(ctx context.Context, raw []byte, loader component.Loader) (*Validated, error) {
	doc, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return ValidateDocument(ctx, doc, loader)
}

// ValidateDocument runs the same pipeline as Validate against an
// already-parsed Document -- used by Fragment evaluation, which patches a
// sub-Rig's constants to the fragment's resolved input before validating.
func ValidateDocument(ctx context.Context, doc *Document, loader component.Loader) (*Validated, error) {
	defs := make(map[string]*component.Definition, len(doc.Rigging))
	var result *multierror.Error
	for handle, def := range doc.Rigging {
		ref, err := component.ParseRef(def.Component)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("node %q: %w", handle, err))
			continue
		}
		loaded, err := loader.Load(ctx, ref)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("node %q: loading %s: %w", handle, ref, err))
			continue
		}
		defs[handle] = loaded
	}
	if result.ErrorOrNil() != nil {
		return nil, result.ErrorOrNil()
	}

	graph, err := buildGraph(doc)
	if err != nil {
		return nil, err
	}

	constants, err := doc.Constants()
	if err != nil {
		return nil, err
	}

	for handle, node := range graph.Nodes {
		if err := spotCheckInput(node, defs[handle]); err != nil {
			result = multierror.Append(result, err)
		}
	}

	callouts := make(map[string][]ResolvedCallout, len(doc.Rigging))
	for handle, def := range doc.Rigging {
		resolved, err := resolveCallouts(ctx, handle, def, defs[handle], loader)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		callouts[handle] = resolved
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	return &Validated{Doc: doc, Graph: graph, Defs: defs, Callouts: callouts, Constants: constants}, nil
}

// spotCheckInput validates a node's input against its component's input
// schema immediately when the input contains no unresolved references
// inputs with references are deferred to the
// scheduler, once predecessor outputs are available.
func spotCheckInput(node *Node, def *component.Definition) error {
	if len(node.DependsOn) > 0 || def == nil || len(node.Definition.Input) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(node.Definition.Input, &decoded); err != nil {
		return fmt.Errorf("node %q: invalid input JSON: %w", node.Handle, err)
	}
	if containsUnresolvedReference(decoded) {
		return nil // still has an unresolved $./$$$ reference; defer to scheduler
	}
	if err := def.ValidateInput(decoded); err != nil {
		return fmt.Errorf("node %q: input schema: %w", node.Handle, err)
	}
	return nil
}

func containsUnresolvedReference(v any) bool {
	switch vv := v.(type) {
	case string:
		expr, ok := refexpr.Detect(vv)
		return ok && expr.Kind != refexpr.KindNone
	case map[string]any:
		for _, child := range vv {
			if containsUnresolvedReference(child) {
				return true
			}
		}
	case []any:
		for _, child := range vv {
			if containsUnresolvedReference(child) {
				return true
			}
		}
	}
	return false
}

// resolveCallouts resolves each component-declared callout handle to
// either the declared reference or a per-node override, requiring the
// target to be loaded.
func resolveCallouts(ctx context.Context, handle string, node NodeDefinition, def *component.Definition, loader component.Loader) ([]ResolvedCallout, error) {
	if def == nil {
		return nil, nil
	}
	var out []ResolvedCallout
	for _, declared := range def.Callouts {
		targetRef := declared.Target
		if override, ok := node.Callouts[declared.Handle]; ok {
			ref, err := component.ParseRef(override.Component)
			if err != nil {
				return nil, fmt.Errorf("node %q: callout %q override: %w", handle, declared.Handle, err)
			}
			targetRef = ref
		}
		target, err := loader.Load(ctx, targetRef)
		if err != nil {
			return nil, fmt.Errorf("node %q: callout %q: loading %s: %w", handle, declared.Handle, targetRef, err)
		}
		out = append(out, ResolvedCallout{
			Handle: declared.Handle,
			Target: target,
			Allow:  declared.Allow,
			Deny:   declared.Deny,
		})
	}
	return out, nil
}
