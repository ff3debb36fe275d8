// SPDX-License-Identifier: GPL-3.0-or-later

package rig

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/require"

	"github.com/slipwayhq/slipway/internal/component"
)

type fakeLoader struct {
	defs map[string]*component.Definition
}

func (l *fakeLoader) Load(ctx context.Context, ref component.Ref) (*component.Definition, error) {
	if def, ok := l.defs[ref.String()]; ok {
		return def, nil
	}
	return nil, errNotFound(ref.String())
}

type errNotFound string

func (e errNotFound) Error() string { return "not found: " + string(e) }

func mustSchema(t *testing.T, raw string) *jsonschema.Schema {
	t.Helper()
	compiler := jsonschema.NewCompiler()
	var doc any
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	require.NoError(t, compiler.AddResource("schema.json", doc))
	schema, err := compiler.Compile("schema.json")
	require.NoError(t, err)
	return schema
}

func TestValidateLinearDependency(t *testing.T) {
	loader := &fakeLoader{defs: map[string]*component.Definition{
		"acme.increment.1.0.0": {Ref: mustRef(t, "acme.increment.1.0.0")},
	}}
	doc := []byte(`{
		"constants": {"start": 1},
		"rigging": {
			"a": {"component": "acme.increment.1.0.0", "input": "$.start"},
			"b": {"component": "acme.increment.1.0.0", "input": "$$.a"}
		}
	}`)

	v, err := Validate(context.Background(), doc, loader)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, v.Graph.Nodes["b"].DependsOn)
	require.Less(t, v.Graph.Nodes["a"].Rank, v.Graph.Nodes["b"].Rank)
}

func TestValidateDetectsCycle(t *testing.T) {
	loader := &fakeLoader{defs: map[string]*component.Definition{
		"acme.increment.1.0.0": {Ref: mustRef(t, "acme.increment.1.0.0")},
	}}
	doc := []byte(`{
		"rigging": {
			"a": {"component": "acme.increment.1.0.0", "input": "$$.b"},
			"b": {"component": "acme.increment.1.0.0", "input": "$$.a"}
		}
	}`)

	_, err := Validate(context.Background(), doc, loader)
	require.Error(t, err)
	require.Contains(t, err.Error(), "a")
	require.Contains(t, err.Error(), "b")
}

func TestValidateRejectsUnknownHandle(t *testing.T) {
	loader := &fakeLoader{defs: map[string]*component.Definition{
		"acme.increment.1.0.0": {Ref: mustRef(t, "acme.increment.1.0.0")},
	}}
	doc := []byte(`{
		"rigging": {
			"a": {"component": "acme.increment.1.0.0", "input": "$$.missing"}
		}
	}`)

	_, err := Validate(context.Background(), doc, loader)
	require.Error(t, err)
}

func TestValidateSpotChecksLiteralInput(t *testing.T) {
	schema := mustSchema(t, `{"type":"object","required":["amount"]}`)
	loader := &fakeLoader{defs: map[string]*component.Definition{
		"acme.increment.1.0.0": {Ref: mustRef(t, "acme.increment.1.0.0"), InputSchema: schema},
	}}
	doc := []byte(`{
		"rigging": {
			"a": {"component": "acme.increment.1.0.0", "input": {"wrong": true}}
		}
	}`)

	_, err := Validate(context.Background(), doc, loader)
	require.Error(t, err)
}

func TestValidateDefersSchemaCheckWhenInputHasReference(t *testing.T) {
	schema := mustSchema(t, `{"type":"object","required":["amount"]}`)
	loader := &fakeLoader{defs: map[string]*component.Definition{
		"acme.increment.1.0.0": {Ref: mustRef(t, "acme.increment.1.0.0"), InputSchema: schema},
	}}
	doc := []byte(`{
		"constants": {"amount": 1},
		"rigging": {
			"a": {"component": "acme.increment.1.0.0", "input": "$.amount"}
		}
	}`)

	_, err := Validate(context.Background(), doc, loader)
	require.NoError(t, err)
}

func TestValidateRejectsSelfReference(t *testing.T) {
	loader := &fakeLoader{defs: map[string]*component.Definition{
		"acme.increment.1.0.0": {Ref: mustRef(t, "acme.increment.1.0.0")},
	}}
	doc := []byte(`{
		"rigging": {
			"a": {"component": "acme.increment.1.0.0", "input": "$$.self"}
		}
	}`)

	_, err := Validate(context.Background(), doc, loader)
	require.Error(t, err)
}

func TestValidateRejectsDuplicateHandle(t *testing.T) {
	loader := &fakeLoader{defs: map[string]*component.Definition{
		"acme.increment.1.0.0": {Ref: mustRef(t, "acme.increment.1.0.0")},
	}}
	doc := []byte(`{
		"rigging": {
			"a": {"component": "acme.increment.1.0.0", "input": {"value": 1}},
			"a": {"component": "acme.increment.1.0.0", "input": {"value": 2}}
		}
	}`)

	_, err := Validate(context.Background(), doc, loader)
	require.Error(t, err)
	require.Contains(t, err.Error(), `duplicate rigging handle "a"`)
}

func mustRef(t *testing.T, s string) component.Ref {
	t.Helper()
	ref, err := component.ParseRef(s)
	require.NoError(t, err)
	return ref
}
