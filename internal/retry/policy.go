// Package retry implements the gateway's bounded exponential-backoff retry
// policy over a forwarding attempt function.
package retry

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"
)

// idempotentMethods may be retried after a response was already received from
// the upstream (e.g. a 503). Non-idempotent methods are only retried when the
// attempt failed before any response reached the server (a dial/transport error).
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// retryableStatuses are upstream statuses worth a retry.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

// Policy is a bounded exponential-backoff retry policy: backoff doubles from
// InitialBackoff each attempt, capped at MaxBackoff.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy retries up to 3 times with 2s/4s/8s backoff capped at 8s.
var DefaultPolicy = Policy{
	MaxRetries:     3,
	InitialBackoff: 2 * time.Second,
	MaxBackoff:     8 * time.Second,
}

// Attempt is a single forwarding try. It returns the upstream response, or an
// error: a *PostSendError when the request had already been written to the
// upstream, any other error when it never reached the upstream (dial
// failure, etc.). The two error classes differ in retry eligibility.
type Attempt func(ctx context.Context) (resp *http.Response, preSendErr error)

// ErrRetriesExhausted wraps the final error once all attempts are spent.
var ErrRetriesExhausted = errors.New("retry: attempts exhausted")

// PostSendError marks an Attempt failure that occurred after the request had
// already been written to the upstream connection. Once the body has begun
// streaming, spec §4.4/§8 invariant #6 forbids retrying a non-idempotent
// method — only GET/HEAD/OPTIONS may still be retried past this point.
type PostSendError struct{ Err error }

func (e *PostSendError) Error() string { return e.Err.Error() }
func (e *PostSendError) Unwrap() error { return e.Err }

// Execute runs attempt with retries per policy. method determines whether a
// response-level failure (5xx) is eligible for retry: only idempotent methods
// retry after a response was received, and likewise only idempotent methods
// retry a *PostSendError (request already written when the attempt failed).
// Any other pre-send error (dial/connect failures that never reached the
// wire) is retried regardless of method. onRetry, if non-nil, is invoked
// before each retry's backoff sleep.
func (p Policy) Execute(ctx context.Context, method string, attempt Attempt, onRetry func(n int)) (*http.Response, error) {
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastResp *http.Response
	var lastErr error

	for try := 0; try <= maxRetries; try++ {
		if try > 0 {
			if onRetry != nil {
				onRetry(try)
			}
			backoff := p.backoffFor(try)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, preSendErr := attempt(ctx)

		if preSendErr != nil {
			var postSend *PostSendError
			if errors.As(preSendErr, &postSend) && !idempotentMethods[method] {
				// The body had already reached the upstream when this attempt
				// failed; a non-idempotent method may not be replayed.
				return nil, errors.Join(ErrRetriesExhausted, postSend.Err)
			}
			lastErr = preSendErr
			lastResp = nil
			continue // pre-send failures are retryable regardless of method
		}

		if !retryableStatuses[resp.StatusCode] || !idempotentMethods[method] {
			return resp, nil
		}

		if lastResp != nil {
			lastResp.Body.Close()
		}
		lastResp = resp
		lastErr = nil
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, errors.Join(ErrRetriesExhausted, lastErr)
}

// backoffFor returns the capped exponential backoff before the given retry
// attempt (1-indexed): InitialBackoff * 2^(attempt-1), capped at MaxBackoff.
func (p Policy) backoffFor(attempt int) time.Duration {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = DefaultPolicy.InitialBackoff
	}
	max := p.MaxBackoff
	if max <= 0 {
		max = DefaultPolicy.MaxBackoff
	}

	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		return max
	}
	return time.Duration(backoff)
}

// IsRetryableStatus reports whether statusCode is one the policy would retry
// for an idempotent method.
func IsRetryableStatus(statusCode int) bool {
	return retryableStatuses[statusCode]
}

// IsIdempotent reports whether method may be retried after a response was
// already received from the upstream.
func IsIdempotent(method string) bool {
	return idempotentMethods[method]
}
