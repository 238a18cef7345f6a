// Package session manages conversation sessions and their append-only
// turns, plus the bounded history window fed to generation.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/log"
)

// Store manages session persistence with a PostgreSQL backend.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a session store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Create starts a new conversation session for an owner.
func (s *Store) Create(ctx context.Context, ownerID, title string) (*domain.Session, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}

	sess := &domain.Session{OwnerID: ownerID, Title: title}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (owner_id, title)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at`,
		ownerID, title,
	).Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Debug("created session", "session_id", sess.ID, "owner_id", ownerID)
	return sess, nil
}

// Get retrieves a session by ID, including its current turn count.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	sess := &domain.Session{}
	err := s.pool.QueryRow(ctx, `
		SELECT s.id, s.owner_id, s.title, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id)
		FROM sessions s
		WHERE s.id = $1`,
		id,
	).Scan(&sess.ID, &sess.OwnerID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt, &sess.TurnCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

// ListByOwner lists a caller's sessions, most recently active first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM sessions
		WHERE owner_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		sess := &domain.Session{}
		if err := rows.Scan(&sess.ID, &sess.OwnerID, &sess.Title,
			&sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SetTitle updates a session's title. Used by the orchestrator to name
// a session after its first exchange.
func (s *Store) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET title = $2, updated_at = now() WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("set session title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	return nil
}

// Delete removes a session and all its turns (CASCADE). The owner check
// is part of the delete predicate.
func (s *Store) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	return nil
}

// AppendTurn appends one turn to a session. The session row is locked
// for the duration of the transaction so concurrent writers cannot race
// on sequence numbers; readers are unaffected.
func (s *Store) AppendTurn(ctx context.Context, sessionID uuid.UUID, role, content string, sources []domain.SourceRef) (*domain.Turn, error) {
	if role != domain.RoleUser && role != domain.RoleAssistant {
		return nil, fmt.Errorf("%w: unknown turn role %q", domain.ErrValidation, role)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: empty turn content", domain.ErrValidation)
	}

	var sourcesJSON []byte
	if len(sources) > 0 {
		var err error
		sourcesJSON, err = json.Marshal(sources)
		if err != nil {
			return nil, fmt.Errorf("encode sources: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var locked uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("lock session: %w", err)
	}

	var maxSeq int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM turns WHERE session_id = $1`,
		sessionID).Scan(&maxSeq)
	if err != nil {
		return nil, fmt.Errorf("get max sequence number: %w", err)
	}

	turn := &domain.Turn{
		SessionID:      sessionID,
		Role:           role,
		Content:        content,
		Sources:        sources,
		SequenceNumber: maxSeq + 1,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO turns (session_id, role, content, sources, sequence_number)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		sessionID, role, content, sourcesJSON, turn.SequenceNumber,
	).Scan(&turn.ID, &turn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET updated_at = now() WHERE id = $1`, sessionID); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("appended turn",
		"session_id", sessionID, "role", role, "sequence", turn.SequenceNumber)
	return turn, nil
}

// ListTurns returns every turn of a session in chronological order.
func (s *Store) ListTurns(ctx context.Context, sessionID uuid.UUID) ([]domain.Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, sources, sequence_number, created_at
		FROM turns
		WHERE session_id = $1
		ORDER BY sequence_number`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// RecentTurns returns up to limit turns, newest first. This is the
// lock-free read feeding the history window: a turn committed
// concurrently may or may not appear, but never twice and never out of
// sequence order.
func (s *Store) RecentTurns(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, sources, sequence_number, created_at
		FROM turns
		WHERE session_id = $1
		ORDER BY sequence_number DESC
		LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

func scanTurns(rows pgx.Rows) ([]domain.Turn, error) {
	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var sourcesJSON []byte
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content,
			&sourcesJSON, &t.SequenceNumber, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if len(sourcesJSON) > 0 {
			if err := json.Unmarshal(sourcesJSON, &t.Sources); err != nil {
				return nil, fmt.Errorf("decode turn sources: %w", err)
			}
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
