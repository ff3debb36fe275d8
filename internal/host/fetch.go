// SPDX-License-Identifier: GPL-3.0-or-later

package host

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/slipwayhq/slipway/internal/backoff"
)

// RetryPolicyKind names which internal/backoff.RetryPolicy NewRestyFetcher
// builds its retrier from.
type RetryPolicyKind string

const (
	RetryExponential RetryPolicyKind = "exponential"
	RetryConstant    RetryPolicyKind = "constant"
	RetryLinear      RetryPolicyKind = "linear"
)

// RetryTuning parameterizes whichever backoff.RetryPolicy kind a
// RestyFetcher is built with.
type RetryTuning struct {
	Kind        RetryPolicyKind
	Interval    time.Duration // initial interval (exponential), or the constant interval
	Increment   time.Duration // linear only: per-retry increase
	MaxInterval time.Duration // exponential and linear: interval cap
}

func (t RetryTuning) withDefaults() RetryTuning {
	if t.Kind == "" {
		t.Kind = RetryExponential
	}
	if t.Interval <= 0 {
		t.Interval = 100 * time.Millisecond
	}
	if t.Increment <= 0 {
		t.Increment = 100 * time.Millisecond
	}
	if t.MaxInterval <= 0 {
		t.MaxInterval = 10 * time.Second
	}
	return t
}

// RestyFetcher implements Fetcher over go-resty/resty/v2, retrying
// transport-level failures and retryable status codes with a configurable
// backoff.RetryPolicy. A retry never changes the guest-visible outcome of a
// successful round-trip: a completed non-2xx response is returned to the
// guest as-is, exactly as the host capability contract requires.
type RestyFetcher struct {
	client     *resty.Client
	maxRetries int
	tuning     RetryTuning
}

// NewRestyFetcher builds a Fetcher with the given per-request timeout,
// retry ceiling, and backoff tuning.
func NewRestyFetcher(timeout time.Duration, maxRetries int, tuning RetryTuning) *RestyFetcher {
	client := resty.New().SetTimeout(timeout)
	return &RestyFetcher{client: client, maxRetries: maxRetries, tuning: tuning.withDefaults()}
}

// newPolicy builds a fresh backoff.RetryPolicy for one Do call -- policies
// are cheap value-ish structs with no shared mutable state, but the
// retrier built from one tracks per-call retry count, so each Do gets its
// own of both.
func (f *RestyFetcher) newPolicy() backoff.RetryPolicy {
	switch f.tuning.Kind {
	case RetryConstant:
		p := backoff.NewConstantBackoffPolicy(f.tuning.Interval)
		p.MaxRetries = f.maxRetries
		return p
	case RetryLinear:
		p := backoff.NewLinearBackoffPolicy(f.tuning.Interval, f.tuning.Increment)
		p.MaxInterval = f.tuning.MaxInterval
		p.MaxRetries = f.maxRetries
		return p
	default:
		p := backoff.NewExponentialBackoffPolicy(f.tuning.Interval)
		p.MaxInterval = f.tuning.MaxInterval
		p.MaxRetries = f.maxRetries
		return p
	}
}

func (f *RestyFetcher) Do(ctx context.Context, url string, opts FetchOptions) (Response, error) {
	retrier := backoff.NewRetrier(f.newPolicy())

	method := opts.Method
	if method == "" {
		method = "GET"
	}

	for {
		resp, err := f.attempt(ctx, method, url, opts)
		if err == nil && !backoff.IsRetryableStatus(resp.Status) {
			return resp, nil
		}
		if err == nil {
			// Retryable status: still return it to the caller if retries
			// are exhausted, since the guest must see a real response,
			// never a fabricated one.
			if waitErr := retrier.Next(ctx, fmt.Errorf("retryable status %d", resp.Status)); waitErr != nil {
				return resp, nil
			}
			continue
		}
		if waitErr := retrier.Next(ctx, err); waitErr != nil {
			return Response{}, fmt.Errorf("host: fetching %s: %w", url, err)
		}
	}
}

func (f *RestyFetcher) attempt(ctx context.Context, method, url string, opts FetchOptions) (Response, error) {
	req := f.client.R().SetContext(ctx)
	for k, v := range opts.Headers {
		req.SetHeader(k, v)
	}
	if len(opts.Body) > 0 {
		req.SetBody(opts.Body)
	}

	resp, err := req.Execute(method, url)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Status:  resp.StatusCode(),
		Headers: map[string][]string(resp.Header()),
		Body:    resp.Body(),
	}, nil
}
