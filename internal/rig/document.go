// SPDX-License-Identifier: GPL-3.0-or-later

// Package rig models a Rig document: a DAG of component nodes whose inputs
// reference rig constants and/or each other's outputs, plus the validator
// that turns a raw document into a checked, ready-to-schedule graph.
package rig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/slipwayhq/slipway/internal/permission"
)

// Document is the parsed, as-written Rig JSON: a description, constants,
// and a rigging map. Unknown top-level and node fields are rejected during Parse so a
// typo fails loudly rather than being silently dropped.
type Document struct {
	Description  string                    `json:"description,omitempty"`
	ConstantsRaw json.RawMessage           `json:"constants,omitempty"`
	Rigging      map[string]NodeDefinition `json:"rigging"`
}

// rawDocument mirrors Document but keeps "rigging" as raw bytes, so Parse
// can scan its object keys for duplicates before encoding/json's map
// decoding silently merges them (last value wins, zero error).
type rawDocument struct {
	Description string          `json:"description,omitempty"`
	Constants   json.RawMessage `json:"constants,omitempty"`
	Rigging     json.RawMessage `json:"rigging"`
}

// NodeDefinition is one entry in a Rig's rigging map: a component
// reference, raw (possibly reference-laden) input, optional permission
// grants, and optional per-node callout overrides.
type NodeDefinition struct {
	Component string                    `json:"component"`
	Input     json.RawMessage           `json:"input,omitempty"`
	Allow     []permission.Permission   `json:"allow,omitempty"`
	Deny      []permission.Permission   `json:"deny,omitempty"`
	Callouts  map[string]CalloutOverride `json:"callouts,omitempty"`
}

// CalloutOverride replaces a component's declared callout binding for one
// node, by component reference only -- the declared callout's own
// allow/deny narrowing still applies.
type CalloutOverride struct {
	Component string `json:"component"`
}

// Parse decodes raw Rig JSON into a Document, rejecting unknown fields and
// duplicate rigging handles.
func Parse(raw []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var rd rawDocument
	if err := dec.Decode(&rd); err != nil {
		return nil, fmt.Errorf("rig: parsing document: %w", err)
	}
	if len(rd.Rigging) == 0 {
		return nil, fmt.Errorf("rig: document has no rigging")
	}

	dups, err := duplicateRiggingHandles(rd.Rigging)
	if err != nil {
		return nil, fmt.Errorf("rig: parsing rigging: %w", err)
	}
	if len(dups) > 0 {
		var result *multierror.Error
		for _, handle := range dups {
			result = multierror.Append(result, fmt.Errorf("duplicate rigging handle %q", handle))
		}
		return nil, result.ErrorOrNil()
	}

	nodeDec := json.NewDecoder(bytes.NewReader(rd.Rigging))
	nodeDec.DisallowUnknownFields()
	var rigging map[string]NodeDefinition
	if err := nodeDec.Decode(&rigging); err != nil {
		return nil, fmt.Errorf("rig: parsing rigging: %w", err)
	}

	return &Document{Description: rd.Description, ConstantsRaw: rd.Constants, Rigging: rigging}, nil
}

// duplicateRiggingHandles token-walks the raw "rigging" object looking for
// repeated keys. encoding/json's normal map decoding has no way to detect
// this (the last occurrence simply overwrites the prior one), so this has
// to inspect the object's tokens directly, before anything becomes a Go
// map. Returns the duplicated handles in sorted order.
func duplicateRiggingHandles(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("rigging must be a JSON object")
	}

	seen := make(map[string]int)
	var dups []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("rigging: expected a string handle")
		}
		seen[key]++
		if seen[key] == 2 {
			dups = append(dups, key)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("rigging: handle %q: %w", key, err)
		}
	}
	sort.Strings(dups)
	return dups, nil
}

// Constants unmarshals the document's constants object, defaulting to an
// empty object when absent.
func (d *Document) Constants() (any, error) {
	if len(d.ConstantsRaw) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(d.ConstantsRaw, &v); err != nil {
		return nil, fmt.Errorf("rig: parsing constants: %w", err)
	}
	return v, nil
}
