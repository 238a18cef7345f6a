package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inkwellhq/inkwell/internal/domain"
)

const jobColumns = `id, document_id, kind, status, last_error, retry_count, created_at, updated_at`

// CreateJob inserts a pending job for a document. Content jobs are
// normally created together with the document in Create; this covers
// re-processing and generation tracking.
func (s *Store) CreateJob(ctx context.Context, documentID uuid.UUID, kind domain.JobKind) (*domain.ProcessingJob, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown job kind %q", domain.ErrValidation, kind)
	}

	job := &domain.ProcessingJob{
		DocumentID: documentID,
		Kind:       kind,
		Status:     domain.StatusPending,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO processing_jobs (document_id, kind)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at`,
		documentID, string(kind),
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert processing job: %w", err)
	}
	return job, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*domain.ProcessingJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// LatestJob retrieves the most recent job of a kind for a document.
func (s *Store) LatestJob(ctx context.Context, documentID uuid.UUID, kind domain.JobKind) (*domain.ProcessingJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM processing_jobs
		WHERE document_id = $1 AND kind = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		documentID, string(kind))
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no %s job for document %s", domain.ErrNotFound, kind, documentID)
		}
		return nil, fmt.Errorf("get latest job: %w", err)
	}
	return job, nil
}

// ListJobsByStatus lists jobs in the given state, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.ProcessingJob, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown job status %q", domain.ErrValidation, status)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM processing_jobs
		WHERE status = $1
		ORDER BY created_at`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// TransitionJob moves a job from one status to another, enforcing the
// legal transition table. The expected from-status is part of the
// update predicate, so concurrent workers cannot double-apply a
// transition: the loser sees the stale-status error.
func (s *Store) TransitionJob(ctx context.Context, id uuid.UUID, from, to domain.JobStatus, jobErr string) error {
	if err := domain.CheckTransition(from, to); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET status = $3, last_error = $4, updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), jobErr)
	if err != nil {
		return fmt.Errorf("transition job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		current, getErr := s.GetJob(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: job %s is %q, expected %q",
			domain.ErrValidation, id, current.Status, from)
	}

	s.logger.Debug("job transition", "job_id", id, "from", from, "to", to)
	return nil
}

// IncrementRetry bumps a job's retry counter.
func (s *Store) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("increment retry for job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return nil
}

func scanJob(row pgx.Row) (*domain.ProcessingJob, error) {
	job := &domain.ProcessingJob{}
	var kind, status string
	err := row.Scan(&job.ID, &job.DocumentID, &kind, &status,
		&job.Error, &job.RetryCount, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Kind = domain.JobKind(kind)
	job.Status = domain.JobStatus(status)
	return job, nil
}
