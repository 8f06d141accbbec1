package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayGrowsExponentiallyWithinJitterBand(t *testing.T) {
	p := New(time.Second, 30*time.Second)

	for attempt := 0; attempt < 4; attempt++ {
		backoff := time.Second * time.Duration(1<<uint(attempt))
		maxJitter := backoff / 10

		for i := 0; i < 20; i++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, backoff)
			assert.LessOrEqual(t, d, backoff+maxJitter)
		}
	}
}

func TestDelayCapsAtMaxWait(t *testing.T) {
	p := New(time.Second, 5*time.Second)
	d := p.Delay(10)
	require.Equal(t, 5*time.Second, d)
}

func TestDelayClampsExtremeAttemptWithoutOverflow(t *testing.T) {
	p := New(time.Second, 30*time.Second)
	require.NotPanics(t, func() {
		d := p.Delay(1000)
		assert.Equal(t, 30*time.Second, d)
	})
}

func TestDelayNegativeAttemptTreatedAsZero(t *testing.T) {
	p := New(time.Second, 30*time.Second)
	d := p.Delay(-5)
	assert.GreaterOrEqual(t, d, time.Second)
	assert.Less(t, d, 2*time.Second)
}

func TestEligible(t *testing.T) {
	assert.True(t, Eligible(0, 2, true))
	assert.True(t, Eligible(1, 2, true))
	assert.False(t, Eligible(2, 2, true), "retry_count == max_retries exhausts retries")
	assert.False(t, Eligible(0, 2, false), "non-recoverable errors bypass retry entirely")
}
