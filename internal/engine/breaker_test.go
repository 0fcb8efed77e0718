package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// newTestBreaker returns a breaker with a controllable clock.
func newTestBreaker(config CircuitBreakerConfig) (*CircuitBreaker, *time.Time) {
	b := NewCircuitBreaker(config)
	now := time.Now().UTC()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  30 * time.Second,
	})

	for i := 0; i < 2; i++ {
		b.RecordFailure("email_send")
		assert.Equal(t, BreakerClosed, b.State("email_send"))
		assert.True(t, b.Allow("email_send"))
	}

	b.RecordFailure("email_send")
	assert.Equal(t, BreakerOpen, b.State("email_send"))
	assert.False(t, b.Allow("email_send"))
}

func TestCircuitBreakerWindowExpiry(t *testing.T) {
	t.Parallel()

	b, now := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  30 * time.Second,
	})

	b.RecordFailure("email_send")
	b.RecordFailure("email_send")

	// Failures outside the rolling window start a fresh count.
	*now = now.Add(2 * time.Minute)
	b.RecordFailure("email_send")
	assert.Equal(t, BreakerClosed, b.State("email_send"))

	b.RecordFailure("email_send")
	b.RecordFailure("email_send")
	assert.Equal(t, BreakerOpen, b.State("email_send"))
}

func TestCircuitBreakerRecovery(t *testing.T) {
	t.Parallel()

	t.Run("probe success closes", func(t *testing.T) {
		t.Parallel()

		b, now := newTestBreaker(CircuitBreakerConfig{
			FailureThreshold: 1,
			FailureWindow:    time.Minute,
			RecoveryTimeout:  30 * time.Second,
		})

		b.RecordFailure("email_send")
		assert.Equal(t, BreakerOpen, b.State("email_send"))
		assert.False(t, b.Allow("email_send"))

		*now = now.Add(31 * time.Second)
		assert.True(t, b.Allow("email_send"))
		assert.Equal(t, BreakerHalfOpen, b.State("email_send"))

		// Only one probe is admitted while the first is in flight.
		assert.False(t, b.Allow("email_send"))

		b.RecordSuccess("email_send")
		assert.Equal(t, BreakerClosed, b.State("email_send"))
		assert.True(t, b.Allow("email_send"))
	})

	t.Run("probe failure reopens", func(t *testing.T) {
		t.Parallel()

		b, now := newTestBreaker(CircuitBreakerConfig{
			FailureThreshold: 1,
			FailureWindow:    time.Minute,
			RecoveryTimeout:  30 * time.Second,
		})

		b.RecordFailure("email_send")
		*now = now.Add(31 * time.Second)
		assert.True(t, b.Allow("email_send"))

		b.RecordFailure("email_send")
		assert.Equal(t, BreakerOpen, b.State("email_send"))
		assert.False(t, b.Allow("email_send"))

		// The re-opened circuit waits a full recovery timeout again.
		*now = now.Add(29 * time.Second)
		assert.False(t, b.Allow("email_send"))
		*now = now.Add(2 * time.Second)
		assert.True(t, b.Allow("email_send"))
	})
}

func TestCircuitBreakerIsolatesTaskTypes(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  30 * time.Second,
	})

	b.RecordFailure("email_send")
	assert.Equal(t, BreakerOpen, b.State("email_send"))
	assert.Equal(t, BreakerClosed, b.State("report_build"))
	assert.True(t, b.Allow("report_build"))
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  30 * time.Second,
	})

	b.RecordFailure("email_send")
	b.RecordFailure("email_send")
	b.RecordSuccess("email_send")

	// The earlier failures no longer count toward the threshold.
	b.RecordFailure("email_send")
	b.RecordFailure("email_send")
	assert.Equal(t, BreakerClosed, b.State("email_send"))
}
