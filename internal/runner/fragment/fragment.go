// SPDX-License-Identifier: GPL-3.0-or-later

// Package fragment implements the Fragment Runner: a component whose
// payload is itself a Rig document, evaluated by a nested instance of the
// engine. Its single output node's output becomes the fragment's output.
package fragment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/slipwayhq/slipway/internal/component"
	"github.com/slipwayhq/slipway/internal/host"
	"github.com/slipwayhq/slipway/internal/permission"
	"github.com/slipwayhq/slipway/internal/runner"
)

// Evaluator runs a sub-Rig to completion and returns its output node's
// output. Implemented by the engine; this package only needs this narrow
// seam to avoid engine importing runner importing engine.
type Evaluator interface {
	EvaluateFragment(ctx context.Context, rigJSON []byte, resolvedInput any, callerFrame *permission.Frame) (any, error)
}

// Runner executes Fragment-backed components.
type Runner struct {
	evaluator Evaluator
}

// New builds a Runner delegating nested Rig evaluation to evaluator.
func New(evaluator Evaluator) *Runner {
	return &Runner{evaluator: evaluator}
}

// Invoke implements runner.Runner. frame is the caller's callout frame,
// per the Fragment contract: a fragment's permission frame is the
// parent's callout frame, not a freshly derived one.
func (r *Runner) Invoke(ctx context.Context, def *component.Definition, canonicalInput []byte, frame *permission.Frame, h host.Host) (any, error) {
	var decodedInput any
	if len(canonicalInput) > 0 {
		if err := json.Unmarshal(canonicalInput, &decodedInput); err != nil {
			return nil, fmt.Errorf("fragment: decoding input: %w", err)
		}
	}
	output, err := r.evaluator.EvaluateFragment(ctx, def.Payload, decodedInput, frame)
	if err != nil {
		return nil, err
	}
	if verr := def.ValidateOutput(output); verr != nil {
		return nil, runner.SchemaMismatch(runner.SchemaSideOutput, verr.Error(), verr)
	}
	return output, nil
}
