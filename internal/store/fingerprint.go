// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/slipwayhq/slipway/internal/refexpr"
)

// Fingerprint computes the content address of a node's execution:
// SHA-256 of canonical_input ‖ "\0" ‖ component_reference ‖ "\0" ‖
// runner_version_tag. Two nodes with the same fingerprint are guaranteed
// to produce the same output, so a cache hit can stand in for re-running
// the component.
func Fingerprint(resolvedInput any, componentRef, runnerVersionTag string) (string, error) {
	canonical, err := refexpr.CanonicalBytes(resolvedInput)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte{0})
	h.Write([]byte(componentRef))
	h.Write([]byte{0})
	h.Write([]byte(runnerVersionTag))
	return hex.EncodeToString(h.Sum(nil)), nil
}
