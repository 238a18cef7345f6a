package pipeline

import (
	"context"
	"fmt"

	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/queue"
)

// RecoverySweep walks jobs stranded in processing by a crash and
// resolves each one. Jobs of a kind listed in Config.ResumableKinds go
// back to pending and are re-enqueued when their raw input is still
// retained; jobs without raw input, and jobs of any non-resumable
// kind, are marked failed.
func (p *Pipeline) RecoverySweep(ctx context.Context) error {
	jobs, err := p.store.ListJobsByStatus(ctx, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("list stranded jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	p.logger.Info("recovering stranded jobs", "count", len(jobs))

	for _, job := range jobs {
		logger := p.logger.With("job_id", job.ID, "document_id", job.DocumentID, "kind", job.Kind)

		if !p.cfg.ResumableKinds[job.Kind] {
			reason := fmt.Sprintf("interrupted by restart, %s jobs are not resumable", job.Kind)
			if err := p.failStranded(ctx, job, reason); err != nil {
				logger.Error("cannot fail stranded job", "error", err)
			}
			continue
		}

		doc, err := p.store.Get(ctx, job.DocumentID)
		if err != nil {
			logger.Error("cannot load document for stranded job", "error", err)
			if ferr := p.failStranded(ctx, job, "interrupted by restart, document unavailable"); ferr != nil {
				logger.Error("cannot fail stranded job", "error", ferr)
			}
			continue
		}

		if len(doc.Pages) == 0 {
			if err := p.failStranded(ctx, job, "interrupted by restart, raw input no longer retained"); err != nil {
				logger.Error("cannot fail stranded job", "error", err)
			}
			continue
		}

		if err := p.store.TransitionJob(ctx, job.ID, domain.StatusProcessing, domain.StatusPending, ""); err != nil {
			logger.Error("cannot reset stranded job", "error", err)
			continue
		}
		if err := p.queue.Publish(ctx, queue.JobMessage{
			JobID:      job.ID,
			DocumentID: job.DocumentID,
			Kind:       job.Kind,
			Attempt:    job.RetryCount + 1,
		}); err != nil {
			logger.Error("cannot re-enqueue recovered job", "error", err)
			continue
		}
		logger.Info("stranded job re-enqueued")
	}

	return nil
}

func (p *Pipeline) failStranded(ctx context.Context, job *domain.ProcessingJob, reason string) error {
	return p.store.TransitionJob(ctx, job.ID, domain.StatusProcessing, domain.StatusFailed, reason)
}
