// SPDX-License-Identifier: GPL-3.0-or-later

// Package runner defines the uniform contract every sandbox implementation
// (WASM, JS, Fragment) satisfies, and the tagged Error variant a failed
// invocation returns. The scheduler marks a node Failed on any runner
// error, whatever its kind.
package runner

import (
	"context"
	"fmt"

	"github.com/slipwayhq/slipway/internal/component"
	"github.com/slipwayhq/slipway/internal/host"
	"github.com/slipwayhq/slipway/internal/permission"
)

// Runner executes one component invocation: run the guest, validate its
// output. Input is validated by the caller before Invoke. Implementations must not mutate frame
// or any shared state except through the Host passed to them.
type Runner interface {
	Invoke(ctx context.Context, def *component.Definition, canonicalInput []byte, frame *permission.Frame, h host.Host) (any, error)
}

// ErrorKind tags the distinct ways a Runner invocation can fail.
type ErrorKind int

const (
	ErrorKindTimeout ErrorKind = iota
	ErrorKindPanic
	ErrorKindSchemaMismatch
	ErrorKindPermissionDenied
	ErrorKindHost
	ErrorKindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindPanic:
		return "panic"
	case ErrorKindSchemaMismatch:
		return "schema_mismatch"
	case ErrorKindPermissionDenied:
		return "permission_denied"
	case ErrorKindHost:
		return "host"
	default:
		return "internal"
	}
}

// SchemaSide identifies which boundary schema a SchemaMismatch error
// concerns.
type SchemaSide string

const (
	SchemaSideInput  SchemaSide = "input"
	SchemaSideOutput SchemaSide = "output"
)

// Error is the structured, non-retryable error a Runner returns. The
// scheduler records it, marks the node Failed, and cascades Skipped to
// dependents; nothing here triggers an automatic retry.
type Error struct {
	Kind    ErrorKind
	Side    SchemaSide // set when Kind == ErrorKindSchemaMismatch
	Detail  string
	Trace   string // set when Kind == ErrorKindPanic
	Wrapped error
}

func (e *Error) Error() string {
	if e.Side != "" {
		return fmt.Sprintf("runner: %s (%s): %s", e.Kind, e.Side, e.Detail)
	}
	if e.Detail != "" {
		return fmt.Sprintf("runner: %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("runner: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Wrapped }

func Timeout() *Error {
	return &Error{Kind: ErrorKindTimeout}
}

func Panic(trace string) *Error {
	return &Error{Kind: ErrorKindPanic, Trace: trace}
}

func SchemaMismatch(side SchemaSide, detail string, err error) *Error {
	return &Error{Kind: ErrorKindSchemaMismatch, Side: side, Detail: detail, Wrapped: err}
}

func PermissionDenied(err error) *Error {
	return &Error{Kind: ErrorKindPermissionDenied, Detail: err.Error(), Wrapped: err}
}

func HostError(detail string, err error) *Error {
	return &Error{Kind: ErrorKindHost, Detail: detail, Wrapped: err}
}

func Internal(detail string, err error) *Error {
	return &Error{Kind: ErrorKindInternal, Detail: detail, Wrapped: err}
}
