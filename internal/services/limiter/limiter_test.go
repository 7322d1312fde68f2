package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/models"
)

func TestLimiter_BurstCeiling(t *testing.T) {
	// Property: over any 1s window the number of successful acquires
	// never exceeds the burst limit.
	l := New(1.5, 3, arbor.NewLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 900*time.Millisecond)
	defer cancel()

	acquired := 0
	for {
		if err := l.Acquire(ctx); err != nil {
			break
		}
		acquired++
	}

	// Burst of 3 plus at most one token accruing at 1.5/s within 900ms.
	assert.LessOrEqual(t, acquired, 4)
	assert.GreaterOrEqual(t, acquired, 3)
}

func TestLimiter_CancelledAcquire(t *testing.T) {
	l := New(0.1, 1, arbor.NewLogger())
	require.NoError(t, l.Acquire(context.Background())) // drain burst

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, models.IsKind(err, models.ErrKindCancelled))
	case <-time.After(time.Second):
		t.Fatal("cancelled Acquire did not return")
	}
}

func TestLimiter_AdaptiveBackoff(t *testing.T) {
	l := New(2.0, 1, arbor.NewLogger())
	base := l.Delay()
	require.Equal(t, 500*time.Millisecond, base)

	l.ReportError(models.ErrKindNetworkTransient)
	afterOne := l.Delay()
	assert.Equal(t, time.Duration(float64(base)*1.6), afterOne)

	l.ReportError(models.ErrKindNetworkTransient)
	afterTwo := l.Delay()
	assert.Equal(t, time.Duration(float64(afterOne)*1.7), afterTwo)

	// Growth is capped at the ceiling.
	for i := 0; i < 20; i++ {
		l.ReportError(models.ErrKindNetworkTransient)
	}
	assert.Equal(t, backoffCeiling, l.Delay())

	// Success decays back toward the base, never below it.
	for i := 0; i < 200; i++ {
		l.ReportSuccess()
	}
	assert.Equal(t, base, l.Delay())
}
