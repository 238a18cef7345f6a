package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell/internal/document"
	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/llm"
	"github.com/inkwellhq/inkwell/internal/log"
	"github.com/inkwellhq/inkwell/internal/session"
)

// NoContextAnswer is the explicit response for questions nothing in the
// scoped documents can ground. It is persisted as a regular assistant
// turn; generation is never called with empty context.
const NoContextAnswer = "I couldn't find anything relevant to that in your documents. " +
	"Try rephrasing the question or widening the document selection."

const groundedSystemPrompt = `You are a careful assistant answering questions about the user's documents.
Answer using only the context below. If the context does not contain the answer, say so plainly instead of guessing.
Cite the document titles you drew from.

Context:
%s`

const freeSystemPrompt = "You are a helpful assistant. Answer concisely and accurately."

// titlePrompt asks for a short session title after the first exchange.
const titlePrompt = "Write a title of at most six words for a conversation that starts with this question. " +
	"Reply with the title only, no quotes: %s"

// ContextRetriever yields ranked, scope-verified chunks for a query.
type ContextRetriever interface {
	Retrieve(ctx context.Context, ownerID, query string, scope []uuid.UUID) ([]document.SearchResult, error)
}

// GenerationTracker records a bookkeeping job around each grounded
// generation, so a turn interrupted by a crash is visible to the
// recovery sweep instead of vanishing.
type GenerationTracker interface {
	CreateJob(ctx context.Context, documentID uuid.UUID, kind domain.JobKind) (*domain.ProcessingJob, error)
	TransitionJob(ctx context.Context, id uuid.UUID, from, to domain.JobStatus, jobErr string) error
}

// TurnStore is the slice of the session store the orchestrator needs.
type TurnStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	AppendTurn(ctx context.Context, sessionID uuid.UUID, role, content string, sources []domain.SourceRef) (*domain.Turn, error)
	RecentTurns(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.Turn, error)
	SetTitle(ctx context.Context, id uuid.UUID, title string) error
}

// Request is one question against a session. An empty Scope disables
// retrieval and answers from conversation alone.
type Request struct {
	OwnerID   string
	SessionID uuid.UUID
	Question  string
	Scope     []uuid.UUID

	Temperature float32
	MaxTokens   int
}

// Orchestrator drives one conversation turn through its states: record
// the user turn, retrieve context, generate, record the assistant turn.
// The user turn is never rolled back; on any failure after it the
// session simply has an unanswered question, which a retry answers.
type Orchestrator struct {
	turns     TurnStore
	retriever ContextRetriever
	client    llm.Client
	jobs      GenerationTracker
	window    session.Window
	logger    log.Logger
}

// NewOrchestrator creates an Orchestrator. jobs may be nil, which
// disables generation bookkeeping.
func NewOrchestrator(turns TurnStore, retriever ContextRetriever, client llm.Client, jobs GenerationTracker, window session.Window, logger log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{
		turns:     turns,
		retriever: retriever,
		client:    client,
		jobs:      jobs,
		window:    window,
		logger:    logger,
	}
}

// Answer runs one blocking conversation turn and returns the persisted
// assistant turn.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*domain.Turn, error) {
	return o.answer(ctx, req, nil)
}

// AnswerStream runs one conversation turn, forwarding generation
// increments to fn. The assistant turn is persisted only after the
// stream's terminal signal; a consumer that disconnects mid-stream
// leaves the session with the user turn recorded and nothing else.
func (o *Orchestrator) AnswerStream(ctx context.Context, req Request, fn llm.StreamFunc) (*domain.Turn, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil stream callback", domain.ErrValidation)
	}
	return o.answer(ctx, req, fn)
}

func (o *Orchestrator) answer(ctx context.Context, req Request, fn llm.StreamFunc) (*domain.Turn, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrValidation)
	}

	sess, err := o.turns.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != req.OwnerID {
		o.logger.Warn("session access rejected",
			"session_id", req.SessionID, "owner_id", req.OwnerID)
		return nil, fmt.Errorf("%w: session %s", domain.ErrAuthorization, req.SessionID)
	}

	userTurn, err := o.turns.AppendTurn(ctx, req.SessionID, domain.RoleUser, req.Question, nil)
	if err != nil {
		return nil, err
	}

	history, err := o.history(ctx, req.SessionID, userTurn.SequenceNumber)
	if err != nil {
		return nil, err
	}

	var assembled Context
	if len(req.Scope) > 0 {
		results, err := o.retriever.Retrieve(ctx, req.OwnerID, req.Question, req.Scope)
		switch {
		case errors.Is(err, domain.ErrNoRelevantContext):
			// Legitimate terminal state: answer explicitly instead of
			// generating against nothing.
			return o.recordAnswer(ctx, req, sess, NoContextAnswer, nil, fn)
		case err != nil:
			return nil, err
		}
		assembled = AssembleContext(results)
	}

	messages := buildMessages(assembled, history, req.Question)
	opts := llm.Options{Temperature: req.Temperature, MaxTokens: req.MaxTokens}

	jobID := o.beginGeneration(ctx, req.Scope)

	var text string
	if fn != nil {
		text, err = o.client.ChatStream(ctx, messages, opts, fn)
	} else {
		text, err = o.client.Chat(ctx, messages, opts)
	}
	if err != nil {
		o.endGeneration(ctx, jobID, err)
		return nil, err
	}

	turn, err := o.recordAnswer(ctx, req, sess, text, assembled.Sources, nil)
	o.endGeneration(ctx, jobID, err)
	return turn, err
}

// beginGeneration opens a generation job anchored on the first scoped
// document, claimed into processing. A crash before endGeneration
// leaves the job stranded there for the recovery sweep to fail.
// Best-effort: bookkeeping never blocks the answer.
func (o *Orchestrator) beginGeneration(ctx context.Context, scope []uuid.UUID) uuid.UUID {
	if o.jobs == nil || len(scope) == 0 {
		return uuid.Nil
	}

	job, err := o.jobs.CreateJob(ctx, scope[0], domain.JobKindGeneration)
	if err != nil {
		o.logger.Warn("cannot open generation job", "error", err)
		return uuid.Nil
	}
	if err := o.jobs.TransitionJob(ctx, job.ID, domain.StatusPending, domain.StatusProcessing, ""); err != nil {
		o.logger.Warn("cannot claim generation job", "job_id", job.ID, "error", err)
		return uuid.Nil
	}
	return job.ID
}

// endGeneration closes the bookkeeping job. A detached context keeps
// the close working when the caller already disconnected.
func (o *Orchestrator) endGeneration(ctx context.Context, jobID uuid.UUID, genErr error) {
	if jobID == uuid.Nil {
		return
	}

	to, msg := domain.StatusCompleted, ""
	if genErr != nil {
		to, msg = domain.StatusFailed, genErr.Error()
	}
	if err := o.jobs.TransitionJob(context.WithoutCancel(ctx), jobID, domain.StatusProcessing, to, msg); err != nil {
		o.logger.Warn("cannot close generation job", "job_id", jobID, "error", err)
	}
}

// recordAnswer persists the assistant turn and, for a session's first
// exchange, names the session. When fn is set the canned text still
// streams out so the consumer sees a response either way.
func (o *Orchestrator) recordAnswer(ctx context.Context, req Request, sess *domain.Session, text string, sources []domain.SourceRef, fn llm.StreamFunc) (*domain.Turn, error) {
	if fn != nil {
		if err := fn(ctx, text); err != nil {
			return nil, err
		}
	}

	turn, err := o.turns.AppendTurn(ctx, req.SessionID, domain.RoleAssistant, text, sources)
	if err != nil {
		return nil, err
	}

	if sess.Title == "" {
		o.nameSession(ctx, req.SessionID, req.Question)
	}

	o.logger.Info("answered",
		"session_id", req.SessionID, "grounded", len(sources) > 0, "chars", len(text))
	return turn, nil
}

// history returns the windowed turns preceding the current question.
func (o *Orchestrator) history(ctx context.Context, sessionID uuid.UUID, beforeSeq int) ([]domain.Turn, error) {
	maxTurns := o.window.MaxTurns
	if maxTurns <= 0 {
		maxTurns = session.DefaultMaxTurns
	}

	// Fetch one extra: the just-recorded user turn is excluded below.
	recent, err := o.turns.RecentTurns(ctx, sessionID, maxTurns+1)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	prior := recent[:0]
	for _, t := range recent {
		if t.SequenceNumber < beforeSeq {
			prior = append(prior, t)
		}
	}
	return o.window.Apply(prior), nil
}

// nameSession titles a fresh session after its first question.
// Best-effort: a failure here never fails the answer.
func (o *Orchestrator) nameSession(ctx context.Context, sessionID uuid.UUID, question string) {
	title, err := o.client.Chat(ctx,
		[]llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(titlePrompt, question)}},
		llm.Options{MaxTokens: 30})
	if err != nil {
		o.logger.Warn("session title generation failed", "session_id", sessionID, "error", err)
		return
	}

	title = strings.Trim(strings.TrimSpace(title), `"`)
	if runes := []rune(title); len(runes) > 80 {
		title = string(runes[:80])
	}
	if err := o.turns.SetTitle(ctx, sessionID, title); err != nil {
		o.logger.Warn("session title update failed", "session_id", sessionID, "error", err)
	}
}

func buildMessages(assembled Context, history []domain.Turn, question string) []llm.Message {
	system := freeSystemPrompt
	if !assembled.Empty() {
		system = fmt.Sprintf(groundedSystemPrompt, assembled.Text)
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == domain.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Content})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: question})
}
