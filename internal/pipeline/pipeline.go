// Package pipeline runs the async content workers: bounded-pool
// consumption of the durable job queue, per-document chunk/embed/
// summarize processing, and the startup recovery sweep.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/inkwellhq/inkwell/internal/chunker"
	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/llm"
	"github.com/inkwellhq/inkwell/internal/log"
	"github.com/inkwellhq/inkwell/internal/queue"
)

const (
	// DefaultWorkers is the worker pool size.
	DefaultWorkers = 4

	// DefaultMaxRetries bounds automatic retries of transient failures
	// within one job execution.
	DefaultMaxRetries = 3

	// DefaultBaseBackoff is the first retry delay; it doubles per
	// attempt with jitter on top.
	DefaultBaseBackoff = 2 * time.Second

	// fetchBatch is how many queued jobs one fetch pulls.
	fetchBatch = 8

	// fetchWait bounds one empty fetch before the loop re-checks for
	// shutdown.
	fetchWait = 5 * time.Second

	// requeueDelay is the redelivery delay when a job cannot even be
	// claimed, for instance while the database is down.
	requeueDelay = 30 * time.Second

	// summaryInputLimit caps how much document text feeds the summary
	// prompt.
	summaryInputLimit = 6000
)

const summaryPrompt = "Summarize the following document in at most three sentences. " +
	"Reply with the summary only.\n\n%s"

// Store is the slice of the document store the pipeline needs.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.SourceDocument, error)
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []domain.Chunk) error
	SetSummary(ctx context.Context, id uuid.UUID, summary string) error
	DiscardRawPages(ctx context.Context, id uuid.UUID) error

	GetJob(ctx context.Context, id uuid.UUID) (*domain.ProcessingJob, error)
	TransitionJob(ctx context.Context, id uuid.UUID, from, to domain.JobStatus, jobErr string) error
	IncrementRetry(ctx context.Context, id uuid.UUID) error
	ListJobsByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.ProcessingJob, error)
}

// Embedder embeds chunk texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// JobQueue is the durable transport the workers consume.
type JobQueue interface {
	Publish(ctx context.Context, msg queue.JobMessage) error
	Fetch(ctx context.Context, max int) ([]queue.Delivery, error)
}

// Config tunes the pipeline. Zero values fall back to defaults.
type Config struct {
	Workers     int
	MaxRetries  int
	BaseBackoff time.Duration

	// RetainRawPages keeps the extracted page text after successful
	// processing, making later retries and crash recovery possible.
	// When false the raw text is discarded on completion and a job
	// interrupted afterwards can only be marked failed.
	RetainRawPages bool

	// ResumableKinds lists the job kinds a recovery sweep may reset to
	// pending and re-enqueue. Stranded jobs of any other kind are
	// marked failed. Nil defaults to content only: re-chunking is
	// idempotent, while a resumed generation would answer against
	// conversation state that has moved on.
	ResumableKinds map[domain.JobKind]bool
}

// Pipeline drives content processing. One instance runs per process;
// multiple processes may share the queue's durable consumer.
type Pipeline struct {
	store    Store
	chunker  *chunker.Chunker
	embedder Embedder
	client   llm.Client
	queue    JobQueue
	pool     *ants.Pool
	cfg      Config
	logger   log.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Pipeline with a bounded worker pool.
func New(store Store, ck *chunker.Chunker, embedder Embedder, client llm.Client, q JobQueue, cfg Config, logger log.Logger) (*Pipeline, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.ResumableKinds == nil {
		cfg.ResumableKinds = map[domain.JobKind]bool{domain.JobKindContent: true}
	}
	if logger == nil {
		logger = log.NewNop()
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Pipeline{
		store:    store,
		chunker:  ck,
		embedder: embedder,
		client:   client,
		queue:    q,
		pool:     pool,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Start runs the recovery sweep, then consumes the queue until Stop or
// context cancellation.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.RecoverySweep(ctx); err != nil {
		return fmt.Errorf("recovery sweep: %w", err)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.consume(ctx)

	p.logger.Info("pipeline started", "workers", p.cfg.Workers)
	return nil
}

// Stop halts consumption and waits for in-flight work to finish.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.pool.Release()
	p.logger.Info("pipeline stopped")
}

func (p *Pipeline) consume(ctx context.Context) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
		deliveries, err := p.queue.Fetch(fetchCtx, fetchBatch)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				// An expired wait is an empty fetch, not a failure.
				continue
			}
			p.logger.Warn("fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(requeueDelay):
			}
			continue
		}

		for _, d := range deliveries {
			d := d
			p.wg.Add(1)
			if err := p.pool.Submit(func() {
				defer p.wg.Done()
				p.handle(ctx, d)
			}); err != nil {
				p.wg.Done()
				p.logger.Warn("submit to pool failed", "error", err)
				_ = d.Retry(requeueDelay)
			}
		}
	}
}

// handle processes one delivery end to end, owning its acknowledgement.
func (p *Pipeline) handle(ctx context.Context, d queue.Delivery) {
	msg := d.Job()
	logger := p.logger.With("job_id", msg.JobID, "document_id", msg.DocumentID)

	job, err := p.store.GetJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Document deleted after enqueue; nothing to do.
			_ = d.Ack()
			return
		}
		logger.Warn("cannot load job, requeueing", "error", err)
		_ = d.Retry(requeueDelay)
		return
	}

	if job.Kind != domain.JobKindContent {
		// Generation jobs are interactive-path bookkeeping and are never
		// executed from the queue.
		logger.Error("non-content job on the queue", "kind", job.Kind)
		_ = d.Discard()
		return
	}

	// Claim via the status soft lock. Losing the claim means another
	// worker owns or already finished this job.
	if err := p.store.TransitionJob(ctx, job.ID, domain.StatusPending, domain.StatusProcessing, ""); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			logger.Debug("job already claimed by another worker")
			_ = d.Ack()
			return
		}
		logger.Warn("cannot claim job, requeueing", "error", err)
		_ = d.Retry(requeueDelay)
		return
	}

	if err := p.process(ctx, job); err != nil {
		logger.Warn("job failed", "error", err)
		if terr := p.store.TransitionJob(ctx, job.ID, domain.StatusProcessing, domain.StatusFailed, err.Error()); terr != nil {
			logger.Error("cannot record job failure", "error", terr)
		}
		_ = d.Ack()
		return
	}

	if err := p.store.TransitionJob(ctx, job.ID, domain.StatusProcessing, domain.StatusCompleted, ""); err != nil {
		logger.Error("cannot record job completion", "error", err)
		_ = d.Ack()
		return
	}

	if !p.cfg.RetainRawPages {
		if err := p.store.DiscardRawPages(ctx, job.DocumentID); err != nil {
			logger.Warn("cannot discard raw pages", "error", err)
		}
	}

	logger.Info("job completed")
	_ = d.Ack()
}

// process runs chunk → embed → store → summarize for one document.
// Transient failures are retried in place with backoff and jitter;
// anything left after that fails the job.
func (p *Pipeline) process(ctx context.Context, job *domain.ProcessingJob) error {
	doc, err := p.store.Get(ctx, job.DocumentID)
	if err != nil {
		return err
	}
	if len(doc.Pages) == 0 {
		return fmt.Errorf("%w: raw input no longer retained", domain.ErrProcessingFailed)
	}

	chunks := p.chunker.Split(doc.Pages)
	if len(chunks) == 0 {
		return fmt.Errorf("%w: document has no extractable text", domain.ErrValidation)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	var embeddings [][]float32
	err = p.retryTransient(ctx, job.ID, "embed chunks", func() error {
		var embedErr error
		embeddings, embedErr = p.embedder.Embed(ctx, texts)
		return embedErr
	})
	if err != nil {
		return err
	}
	for i := range chunks {
		chunks[i].DocumentID = doc.ID
		chunks[i].Embedding = embeddings[i]
	}

	if err := p.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return err
	}

	summary, err := p.summarize(ctx, job.ID, texts)
	if err != nil {
		return err
	}
	return p.store.SetSummary(ctx, doc.ID, summary)
}

func (p *Pipeline) summarize(ctx context.Context, jobID uuid.UUID, texts []string) (string, error) {
	input := strings.Join(texts, "\n")
	if runes := []rune(input); len(runes) > summaryInputLimit {
		input = string(runes[:summaryInputLimit])
	}

	var summary string
	err := p.retryTransient(ctx, jobID, "summarize", func() error {
		var chatErr error
		summary, chatErr = p.client.Chat(ctx,
			[]llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(summaryPrompt, input)}},
			llm.Options{MaxTokens: 256})
		return chatErr
	})
	if err != nil {
		return "", err
	}
	return summary, nil
}

// RetryJob resets a failed job to pending and re-enqueues it using the
// retained raw input. Jobs in any other state are rejected.
func (p *Pipeline) RetryJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusFailed {
		return fmt.Errorf("%w: job %s is %q, only failed jobs can be retried",
			domain.ErrValidation, jobID, job.Status)
	}

	doc, err := p.store.Get(ctx, job.DocumentID)
	if err != nil {
		return err
	}
	if len(doc.Pages) == 0 {
		return fmt.Errorf("%w: raw input no longer retained, cannot retry", domain.ErrValidation)
	}

	if err := p.store.TransitionJob(ctx, jobID, domain.StatusFailed, domain.StatusPending, ""); err != nil {
		return err
	}
	if err := p.store.IncrementRetry(ctx, jobID); err != nil {
		return err
	}

	return p.queue.Publish(ctx, queue.JobMessage{
		JobID:      job.ID,
		DocumentID: job.DocumentID,
		Kind:       job.Kind,
		Attempt:    job.RetryCount + 1,
	})
}
