package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/harvester/internal/models"
)

const backoffCeiling = 10 * time.Second

// Limiter is the session-wide token bucket with adaptive backoff. All
// fetchers of one session share a single instance.
type Limiter struct {
	bucket *rate.Limiter
	logger arbor.ILogger

	mu          sync.Mutex
	baseDelay   time.Duration // 1/R, the floor the delay decays back to
	delay       time.Duration // current effective interval between tokens
	consecutive int           // consecutive error count
}

// New creates a limiter with steady rate requestsPerSecond and burst capacity.
func New(requestsPerSecond float64, burst int, logger arbor.ILogger) *Limiter {
	base := time.Duration(float64(time.Second) / requestsPerSecond)
	return &Limiter{
		bucket:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		logger:    logger,
		baseDelay: base,
		delay:     base,
	}
}

// Acquire blocks until a token is available or the session is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return models.NewError(models.ErrKindCancelled, "", 0, err)
	}
	return nil
}

// ReportSuccess decays the effective interval back toward the steady rate.
func (l *Limiter) ReportSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consecutive = 0
	next := time.Duration(float64(l.delay) * 0.9)
	if next < l.baseDelay {
		next = l.baseDelay
	}
	l.setDelay(next)
}

// ReportError grows the effective interval multiplicatively. The factor
// steepens with the consecutive-error count so persistent trouble slows
// the session down faster than a one-off failure.
func (l *Limiter) ReportError(kind models.ErrorKind) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consecutive++
	factor := 1.5 + 0.1*float64(l.consecutive)
	next := time.Duration(float64(l.delay) * factor)
	if next > backoffCeiling {
		next = backoffCeiling
	}
	l.setDelay(next)

	l.logger.Debug().
		Str("kind", string(kind)).
		Int("consecutive", l.consecutive).
		Dur("delay", next).
		Msg("Rate limiter backing off")
}

// Delay returns the current effective interval between tokens.
func (l *Limiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delay
}

// setDelay applies the interval to the bucket. Caller holds l.mu.
func (l *Limiter) setDelay(d time.Duration) {
	l.delay = d
	l.bucket.SetLimit(rate.Every(d))
}
