// SPDX-License-Identifier: GPL-3.0-or-later

package backoff

import "net/http"

// IsRetryableStatus reports whether an HTTP response status warrants a
// transport-level retry: request timeouts, rate limiting, and 5xx
// responses other than 501 Not Implemented (which will never succeed on
// retry). A non-2xx response is otherwise returned to the guest as-is, per
// the fetch host call's "never throws on non-2xx" contract -- retrying
// here only concerns the transport attempt, never the guest-visible
// outcome.
func IsRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	case http.StatusNotImplemented:
		return false
	}
	return status >= 500
}
