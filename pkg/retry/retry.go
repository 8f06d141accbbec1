// Package retry implements the exponential-backoff-with-jitter policy from
// spec.md §4.5. Hand-rolled rather than built on a pack dependency: no
// example repo's non-test source actually imports a dedicated backoff
// library (cenkalti/backoff and sethvargo/go-retry only appear as indirect
// go.mod entries in jordigilh-kubernaut, which was disqualified as teacher
// for having almost no real source), and the contract gives an exact
// formula to reproduce rather than a library's own curve. See DESIGN.md.
package retry

import (
	"math/rand"
	"time"
)

// Policy computes retry delays per attempt.
type Policy struct {
	Base    time.Duration
	MaxWait time.Duration
}

func New(base, maxWait time.Duration) Policy {
	return Policy{Base: base, MaxWait: maxWait}
}

// Delay returns delay(attempt) = min(base*2^attempt + uniform(0, 0.1*base*2^attempt), maxWait).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 32 {
		// Already far past the point backoff*2^attempt would exceed MaxWait;
		// clamp the shift so the multiplication below can't overflow int64.
		attempt = 32
	}
	backoff := p.Base * time.Duration(1<<uint(attempt))
	jitter := time.Duration(rand.Int63n(int64(backoff)/10 + 1))
	delay := backoff + jitter
	if delay > p.MaxWait {
		return p.MaxWait
	}
	return delay
}

// Eligible reports whether another attempt is allowed at all, independent of
// delay — retry_count must still be below max_retries and the failure must
// be recoverable.
func Eligible(retryCount, maxRetries int, recoverable bool) bool {
	return recoverable && retryCount < maxRetries
}
