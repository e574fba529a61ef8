// Package retry provides schedule-driven retry policies for pipeline stages.
// Each stage configures an explicit backoff schedule (e.g. 5s, 15s, 30s, 60s,
// 120s for the telephony source) instead of a computed exponential curve, so
// operational behavior matches the documented contract exactly.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mastermobile/callexport/internal/support/exception"
)

// Policy is a fixed-schedule retry policy. An operation is attempted up to
// MaxAttempts times; the wait after failed attempt i is the i-th schedule
// entry.
type Policy struct {
	waits       []time.Duration
	maxAttempts int
}

// NewPolicy builds a policy from a schedule in whole seconds.
// maxAttempts should equal the schedule length per the stage contracts;
// a shorter schedule repeats its last entry.
func NewPolicy(maxAttempts int, backoffSeconds []int) Policy {
	waits := make([]time.Duration, 0, len(backoffSeconds))
	for _, s := range backoffSeconds {
		waits = append(waits, time.Duration(s)*time.Second)
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return Policy{waits: waits, maxAttempts: maxAttempts}
}

// MaxAttempts returns the attempt ceiling.
func (p Policy) MaxAttempts() int {
	return p.maxAttempts
}

// scheduleBackOff adapts the fixed schedule to the backoff.BackOff interface.
type scheduleBackOff struct {
	policy Policy
	fails  int
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	b.fails++
	if b.fails >= b.policy.maxAttempts {
		return backoff.Stop
	}
	if len(b.policy.waits) == 0 {
		return 0
	}
	idx := b.fails - 1
	if idx >= len(b.policy.waits) {
		idx = len(b.policy.waits) - 1
	}
	return b.policy.waits[idx]
}

func (b *scheduleBackOff) Reset() {
	b.fails = 0
}

// Do runs op under the policy. Only retryable errors (transient, quota) are
// retried; anything else fails immediately. It returns the number of retries
// performed (attempts beyond the first) alongside the final error, so callers
// can persist the attempt count on the call record.
func (p Policy) Do(ctx context.Context, op func() error) (int, error) {
	attempts := 0
	wrapped := func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if !exception.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(wrapped, backoff.WithContext(&scheduleBackOff{policy: p}, ctx))
	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}
	return retries, err
}
