package channel

import (
	"math"
	"math/rand/v2"
	"time"
)

// reconnector computes exponential backoff with jitter between redials.
// The attempt counter resets once a connection has stayed up for stableAfter.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	stableAfter time.Duration

	attempt     int
	connectedAt time.Time
	now         func() time.Time
}

func newReconnector(cfg WSConfig) *reconnector {
	return &reconnector{
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		maxAttempts: cfg.MaxAttempts,
		stableAfter: cfg.StableAfter,
		now:         time.Now,
	}
}

// shouldReconnect reports whether another attempt is allowed. Zero max
// attempts means unlimited.
func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = r.now()
}

func (r *reconnector) markDropped() {
	if !r.connectedAt.IsZero() && r.now().Sub(r.connectedAt) >= r.stableAfter {
		r.attempt = 0
	}
	r.connectedAt = time.Time{}
}

func (r *reconnector) nextDelay() time.Duration {
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}
