package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell/internal/domain"
)

// retryTransient runs op, retrying transient failures with exponential
// backoff plus jitter up to cfg.MaxRetries. Non-transient failures and
// context cancellation return immediately. Each retry bumps the job's
// retry counter so the attempts stay visible.
func (p *Pipeline) retryTransient(ctx context.Context, jobID uuid.UUID, what string, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(p.cfg.BaseBackoff, attempt)
			p.logger.Warn("retrying after transient failure",
				"job_id", jobID, "op", what, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			if err := p.store.IncrementRetry(ctx, jobID); err != nil {
				p.logger.Warn("cannot bump retry count", "job_id", jobID, "error", err)
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if !domain.Transient(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", what, lastErr)
}

// backoffDelay doubles the base delay per attempt and adds up to 50%
// jitter so parallel workers fan out instead of retrying in lockstep.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}
