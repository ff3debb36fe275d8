// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"

	"github.com/slipwayhq/slipway/internal/permission"
	"github.com/slipwayhq/slipway/internal/runner"
)

const (
	exitCodeOK = iota
	exitCodeComponentError
	exitCodeValidationError
	exitCodePermissionError
	exitCodeIOError
)

// exitCodeErr wraps an error already reported to the user (e.g. printed
// per-node above) with the specific process exit code it should produce,
// so main doesn't need to re-derive it from scratch.
type exitCodeErr struct {
	code int
}

func (e *exitCodeErr) Error() string { return "one or more nodes failed" }

func errExitCode(code int) error { return &exitCodeErr{code: code} }

// exitCodeFor maps a command's returned error to a process exit code:
// permission denials and schema/runner failures get their own codes so
// scripting against this CLI can distinguish them from a plain usage or
// I/O error.
func exitCodeFor(err error) int {
	var withCode *exitCodeErr
	if errors.As(err, &withCode) {
		return withCode.code
	}

	var denied *permission.DeniedError
	if errors.As(err, &denied) {
		return exitCodePermissionError
	}

	var runnerErr *runner.Error
	if errors.As(err, &runnerErr) {
		if runnerErr.Kind == runner.ErrorKindPermissionDenied {
			return exitCodePermissionError
		}
		if runnerErr.Kind == runner.ErrorKindSchemaMismatch {
			return exitCodeValidationError
		}
		return exitCodeComponentError
	}

	return exitCodeIOError
}
