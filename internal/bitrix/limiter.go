package bitrix

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mastermobile/callexport/internal/support/logger"
)

// stormThreshold is the number of 429 responses inside stormWindow that
// triggers low-rate mode.
const (
	stormThreshold = 3
	stormWindow    = time.Minute
)

// throttle wraps a token bucket with a low-rate fallback: a sustained burst
// of 429 responses drops the budget to the configured low rate for a
// cool-down window, after which the normal rate is restored.
type throttle struct {
	limiter *rate.Limiter

	normal   rate.Limit
	low      rate.Limit
	cooldown time.Duration

	mu          sync.Mutex
	recent429s  []time.Time
	lowRateOver time.Time
}

func newThrottle(normalRPS, lowRPS float64, cooldown time.Duration) *throttle {
	if normalRPS <= 0 {
		normalRPS = 2
	}
	if lowRPS <= 0 || lowRPS > normalRPS {
		lowRPS = normalRPS / 4
	}
	return &throttle{
		limiter:  rate.NewLimiter(rate.Limit(normalRPS), 1),
		normal:   rate.Limit(normalRPS),
		low:      rate.Limit(lowRPS),
		cooldown: cooldown,
	}
}

// wait blocks until the bucket grants a token. It also restores the normal
// rate when a low-rate cool-down has elapsed.
func (t *throttle) wait(ctx context.Context) error {
	t.mu.Lock()
	if !t.lowRateOver.IsZero() && time.Now().After(t.lowRateOver) {
		t.lowRateOver = time.Time{}
		t.limiter.SetLimit(t.normal)
		logger.Infof("Source rate limit restored to %.2f rps after cool-down.", float64(t.normal))
	}
	t.mu.Unlock()

	return t.limiter.Wait(ctx)
}

// observe429 records a rate-limit response; a storm switches to low-rate mode.
func (t *throttle) observe429() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-stormWindow)
	kept := t.recent429s[:0]
	for _, ts := range t.recent429s {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.recent429s = append(kept, now)

	if len(t.recent429s) >= stormThreshold && t.lowRateOver.IsZero() {
		t.lowRateOver = now.Add(t.cooldown)
		t.limiter.SetLimit(t.low)
		t.recent429s = t.recent429s[:0]
		logger.Warnf("Sustained 429 responses from source; dropping rate limit to %.2f rps for %s.",
			float64(t.low), t.cooldown)
	}
}

// inLowRateMode reports whether the reduced budget is currently active.
func (t *throttle) inLowRateMode() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.lowRateOver.IsZero() && time.Now().Before(t.lowRateOver)
}
