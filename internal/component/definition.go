// SPDX-License-Identifier: GPL-3.0-or-later

package component

import (
	"context"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/slipwayhq/slipway/internal/permission"
)

// RunnerKind identifies which Runner implementation executes a component.
type RunnerKind string

const (
	RunnerWasm     RunnerKind = "wasm"
	RunnerJS       RunnerKind = "js"
	RunnerFragment RunnerKind = "fragment"
)

// CalloutBinding is a component-declared callout: a local handle bound to
// a target reference and the permissions the callout is allowed to carry.
type CalloutBinding struct {
	Handle string
	Target Ref
	Allow  []permission.Permission
	Deny   []permission.Permission
}

// Definition is the immutable record loaded once per Ref and shareable
// across Rigs: code, schemas, declared callouts and permissions, and the
// runner payload.
type Definition struct {
	Ref         Ref
	Description string

	InputSchema  *jsonschema.Schema
	OutputSchema *jsonschema.Schema

	Callouts           []CalloutBinding
	RequiredPermissions []permission.Permission

	Runner RunnerKind

	// Timeout overrides the scheduler's default per-node wall-clock
	// timeout for this component. Zero means "use the scheduler default".
	Timeout time.Duration

	// Payload holds the runner-specific executable content: WASM module
	// bytes, JS source, or a fragment sub-Rig document (opaque to this
	// package; interpreted by internal/runner).
	Payload []byte

	// RunnerVersionTag feeds the cache fingerprint: a value
	// that changes whenever this runner's execution semantics change
	// (e.g. a wazero/goja version bump), so stale cache entries don't
	// survive a runner upgrade.
	RunnerVersionTag string
}

// ValidateInput validates instance against the component's input schema,
// if one is declared. A component with no declared schema accepts
// anything.
func (d *Definition) ValidateInput(instance any) error {
	if d.InputSchema == nil {
		return nil
	}
	return d.InputSchema.Validate(instance)
}

// ValidateOutput validates instance against the component's output
// schema, if one is declared.
func (d *Definition) ValidateOutput(instance any) error {
	if d.OutputSchema == nil {
		return nil
	}
	return d.OutputSchema.Validate(instance)
}

// CalloutByHandle looks up a component-declared callout binding.
func (d *Definition) CalloutByHandle(handle string) (CalloutBinding, bool) {
	for _, c := range d.Callouts {
		if c.Handle == handle {
			return c, true
		}
	}
	return CalloutBinding{}, false
}

// Loader resolves Refs to loaded Definitions. Implementations own package
// discovery (on-disk directories, tarballs, a registry) -- out of scope
// for the engine itself, which only consumes this trait.
type Loader interface {
	// Load resolves ref (exact or constraint) against whatever
	// definitions the Loader can discover, returning the selected
	// Definition. Implementations are expected to cache by resolved Ref
	// for the process lifetime.
	Load(ctx context.Context, ref Ref) (*Definition, error)
}
