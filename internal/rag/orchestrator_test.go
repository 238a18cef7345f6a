package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell/internal/document"
	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/llm"
	"github.com/inkwellhq/inkwell/internal/log"
	"github.com/inkwellhq/inkwell/internal/session"
	"github.com/inkwellhq/inkwell/internal/testutil"
)

// fakeTurnStore keeps sessions and turns in memory.
type fakeTurnStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session
	turns    map[uuid.UUID][]domain.Turn
}

func newFakeTurnStore() *fakeTurnStore {
	return &fakeTurnStore{
		sessions: map[uuid.UUID]*domain.Session{},
		turns:    map[uuid.UUID][]domain.Turn{},
	}
}

func (f *fakeTurnStore) addSession(ownerID, title string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.sessions[id] = &domain.Session{ID: id, OwnerID: ownerID, Title: title}
	return id
}

func (f *fakeTurnStore) Get(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	cp := *sess
	return &cp, nil
}

func (f *fakeTurnStore) AppendTurn(_ context.Context, sessionID uuid.UUID, role, content string, sources []domain.SourceRef) (*domain.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	turn := domain.Turn{
		ID:             uuid.New(),
		SessionID:      sessionID,
		Role:           role,
		Content:        content,
		Sources:        sources,
		SequenceNumber: len(f.turns[sessionID]) + 1,
	}
	f.turns[sessionID] = append(f.turns[sessionID], turn)
	return &turn, nil
}

func (f *fakeTurnStore) RecentTurns(_ context.Context, sessionID uuid.UUID, limit int) ([]domain.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.turns[sessionID]
	var out []domain.Turn
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (f *fakeTurnStore) SetTitle(_ context.Context, id uuid.UUID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	sess.Title = title
	return nil
}

func (f *fakeTurnStore) allTurns(sessionID uuid.UUID) []domain.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Turn(nil), f.turns[sessionID]...)
}

func (f *fakeTurnStore) title(sessionID uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[sessionID].Title
}

// fakeRetriever returns canned results or an error.
type fakeRetriever struct {
	results []document.SearchResult
	err     error
	calls   int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _, _ string, _ []uuid.UUID) ([]document.SearchResult, error) {
	f.calls++
	return f.results, f.err
}

func groundedResults() []document.SearchResult {
	docID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	return []document.SearchResult{
		{
			Chunk:      domain.Chunk{DocumentID: docID, Page: 4, Content: "Revenue grew 12% in Q3."},
			Title:      "Q3 Report",
			Similarity: 0.92,
		},
	}
}

// fakeTracker records generation bookkeeping jobs in memory.
type fakeTracker struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.ProcessingJob
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{jobs: map[uuid.UUID]*domain.ProcessingJob{}}
}

func (f *fakeTracker) CreateJob(_ context.Context, documentID uuid.UUID, kind domain.JobKind) (*domain.ProcessingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := &domain.ProcessingJob{ID: uuid.New(), DocumentID: documentID, Kind: kind, Status: domain.StatusPending}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeTracker) TransitionJob(_ context.Context, id uuid.UUID, from, to domain.JobStatus, jobErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	if job.Status != from {
		return fmt.Errorf("%w: job %s is %q, expected %q", domain.ErrValidation, id, job.Status, from)
	}
	job.Status = to
	job.Error = jobErr
	return nil
}

func (f *fakeTracker) all() []*domain.ProcessingJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.ProcessingJob, 0, len(f.jobs))
	for _, j := range f.jobs {
		cp := *j
		out = append(out, &cp)
	}
	return out
}

func newOrchestrator(store *fakeTurnStore, retriever *fakeRetriever, client llm.Client) *Orchestrator {
	return NewOrchestrator(store, retriever, client, nil, session.Window{}, log.NewNop())
}

func TestAnswer_Grounded(t *testing.T) {
	store := newFakeTurnStore()
	sessID := store.addSession("owner-1", "Existing title")
	retriever := &fakeRetriever{results: groundedResults()}
	client := testutil.NewMockChatClient("Revenue grew 12%, per the Q3 report.")

	o := newOrchestrator(store, retriever, client)
	turn, err := o.Answer(context.Background(), Request{
		OwnerID:   "owner-1",
		SessionID: sessID,
		Question:  "how did revenue do?",
		Scope:     []uuid.UUID{uuid.New()},
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if turn.Role != domain.RoleAssistant {
		t.Errorf("returned turn role = %q", turn.Role)
	}
	if len(turn.Sources) != 1 || turn.Sources[0].Title != "Q3 Report" || turn.Sources[0].Page != 4 {
		t.Errorf("wrong sources: %+v", turn.Sources)
	}

	turns := store.allTurns(sessID)
	if len(turns) != 2 {
		t.Fatalf("got %d persisted turns, want user + assistant", len(turns))
	}
	if turns[0].Role != domain.RoleUser || turns[0].Content != "how did revenue do?" {
		t.Errorf("user turn not recorded first: %+v", turns[0])
	}

	// The retrieved chunk reached the prompt.
	calls := client.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d generation calls, want 1", len(calls))
	}
	system := calls[0].Messages[0]
	if system.Role != llm.RoleSystem || !strings.Contains(system.Content, "Revenue grew 12% in Q3.") {
		t.Error("system prompt does not carry the retrieved context")
	}
	if !strings.Contains(system.Content, "Q3 Report (page 4)") {
		t.Error("system prompt does not carry the chunk header")
	}
}

func TestAnswer_NoContextPathSkipsGeneration(t *testing.T) {
	store := newFakeTurnStore()
	sessID := store.addSession("owner-1", "Existing title")
	retriever := &fakeRetriever{err: domain.ErrNoRelevantContext}
	client := testutil.NewMockChatClient("should never be used")

	o := newOrchestrator(store, retriever, client)
	turn, err := o.Answer(context.Background(), Request{
		OwnerID:   "owner-1",
		SessionID: sessID,
		Question:  "what is the meaning of life?",
		Scope:     []uuid.UUID{uuid.New()},
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if turn.Content != NoContextAnswer {
		t.Errorf("answer = %q, want the explicit no-context response", turn.Content)
	}
	if len(turn.Sources) != 0 {
		t.Error("no-context answer must not claim sources")
	}
	if calls := client.Calls(); len(calls) != 0 {
		t.Errorf("generation was called %d times on the no-context path", len(calls))
	}
	if turns := store.allTurns(sessID); len(turns) != 2 {
		t.Errorf("got %d persisted turns, want user + canned assistant", len(turns))
	}
}

func TestAnswer_GroundedTurnCompletesGenerationJob(t *testing.T) {
	store := newFakeTurnStore()
	sessID := store.addSession("owner-1", "Existing title")
	tracker := newFakeTracker()
	scoped := uuid.New()

	o := NewOrchestrator(store, &fakeRetriever{results: groundedResults()},
		testutil.NewMockChatClient("grounded answer"), tracker, session.Window{}, log.NewNop())

	_, err := o.Answer(context.Background(), Request{
		OwnerID:   "owner-1",
		SessionID: sessID,
		Question:  "how did revenue do?",
		Scope:     []uuid.UUID{scoped},
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	jobs := tracker.all()
	if len(jobs) != 1 {
		t.Fatalf("got %d generation jobs, want 1", len(jobs))
	}
	if jobs[0].Kind != domain.JobKindGeneration {
		t.Errorf("job kind = %q", jobs[0].Kind)
	}
	if jobs[0].DocumentID != scoped {
		t.Errorf("job anchored on %s, want the scoped document %s", jobs[0].DocumentID, scoped)
	}
	if jobs[0].Status != domain.StatusCompleted {
		t.Errorf("job status = %q, want completed", jobs[0].Status)
	}
}

func TestAnswer_GenerationFailureFailsGenerationJob(t *testing.T) {
	store := newFakeTurnStore()
	sessID := store.addSession("owner-1", "Existing title")
	tracker := newFakeTracker()
	client := testutil.NewMockChatClient("")
	client.Err = fmt.Errorf("%w: generation backend down", domain.ErrBackendUnavailable)

	o := NewOrchestrator(store, &fakeRetriever{results: groundedResults()},
		client, tracker, session.Window{}, log.NewNop())

	_, err := o.Answer(context.Background(), Request{
		OwnerID:   "owner-1",
		SessionID: sessID,
		Question:  "how did revenue do?",
		Scope:     []uuid.UUID{uuid.New()},
	})
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}

	jobs := tracker.all()
	if len(jobs) != 1 {
		t.Fatalf("got %d generation jobs, want 1", len(jobs))
	}
	if jobs[0].Status != domain.StatusFailed {
		t.Errorf("job status = %q, want failed", jobs[0].Status)
	}
	if !strings.Contains(jobs[0].Error, "generation backend down") {
		t.Errorf("job error %q should carry the cause", jobs[0].Error)
	}
}

func TestAnswer_UngroundedTurnCreatesNoGenerationJob(t *testing.T) {
	store := newFakeTurnStore()
	sessID := store.addSession("owner-1", "Existing title")
	tracker := newFakeTracker()

	o := NewOrchestrator(store, &fakeRetriever{}, testutil.NewMockChatClient("free answer"),
		tracker, session.Window{}, log.NewNop())

	_, err := o.Answer(context.Background(), Request{
		OwnerID:   "owner-1",
		SessionID: sessID,
		Question:  "hello there",
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if jobs := tracker.all(); len(jobs) != 0 {
		t.Errorf("got %d generation jobs for an ungrounded turn, want 0", len(jobs))
	}
}

func TestAnswer_EmptyScopeSkipsRetrieval(t *testing.T) {
	store := newFakeTurnStore()
	sessID := store.addSession("owner-1", "Existing title")
	retriever := &fakeRetriever{results: groundedResults()}
	client := testutil.NewMockChatClient("answered from conversation alone")

	o := newOrchestrator(store, retriever, client)
	turn, err := o.Answer(context.Background(), Request{
		OwnerID:   "owner-1",
		SessionID: sessID,
		Question:  "hello there",
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if retriever.calls != 0 {
		t.Error("retrieval ran despite an empty scope")
	}
	if len(turn.Sources) != 0 {
		t.Error("ungrounded answer must not claim sources")
	}
	system := client.Calls()[0].Messages[0]
	if strings.Contains(system.Content, "Context:") {
		t.Error("free generation should not use the grounded prompt")
	}
}

func TestAnswer_GenerationFailureKeepsUserTurn(t *testing.T) {
	store := newFakeTurnStore()
	sessID := store.addSession("owner-1", "Existing title")
	retriever := &fakeRetriever{results: groundedResults()}
	client := testutil.NewMockChatClient("")
	client.Err = fmt.Errorf("%w: generation backend down", domain.ErrBackendUnavailable)

	o := newOrchestrator(store, retriever, client)
	_, err := o.Answer(context.Background(), Request{
		OwnerID:   "owner-1",
		SessionID: sessID,
		Question:  "how did revenue do?",
		Scope:     []uuid.UUID{uuid.New()},
	})
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}

	turns := store.allTurns(sessID)
	if len(turns) != 1 {
		t.Fatalf("got %d persisted turns, want just the user turn", len(turns))
	}
	if turns[0].Role != domain.RoleUser {
		t.Errorf("surviving turn role = %q, want user", turns[0].Role)
	}
}

func TestAnswer_WrongOwnerIsAuthorizationError(t *testing.T) {
	store := newFakeTurnStore()
	sessID := store.addSession("owner-1", "Existing title")
	client := testutil.NewMockChatClient("nope")

	o := newOrchestrator(store, &fakeRetriever{}, client)
	_, err := o.Answer(context.Background(), Request{
		OwnerID:   "owner-2",
		SessionID: sessID,
		Question:  "someone else's session",
	})
	if !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected ErrAuthorization, got %v", err)
	}
	if turns := store.allTurns(sessID); len(turns) != 0 {
		t.Error("turns were written to a foreign session")
	}
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	store := newFakeTurnStore()
	sessID := store.addSession("owner-1", "Existing title")

	o := newOrchestrator(store, &fakeRetriever{}, testutil.NewMockChatClient("x"))
	_, err := o.Answer(context.Background(), Request{
		OwnerID:   "owner-1",
		SessionID: sessID,
		Question:  "   ",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestAnswer_HistoryReachesPromptWithoutDuplicatingQuestion(t *testing.T) {
	store := newFakeTurnStore()
	sessID := store.addSession("owner-1", "Existing title")
	ctx := context.Background()

	_, _ = store.AppendTurn(ctx, sessID, domain.RoleUser, "earlier question", nil)
	_, _ = store.AppendTurn(ctx, sessID, domain.RoleAssistant, "earlier answer", nil)

	client := testutil.NewMockChatClient("follow-up answer")
	o := newOrchestrator(store, &fakeRetriever{}, client)

	_, err := o.Answer(ctx, Request{
		OwnerID:   "owner-1",
		SessionID: sessID,
		Question:  "and after that?",
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	messages := client.Calls()[0].Messages
	// system, two history turns, current question
	if len(messages) != 4 {
		t.Fatalf("got %d messages, want 4: %+v", len(messages), messages)
	}
	if messages[1].Content != "earlier question" || messages[2].Content != "earlier answer" {
		t.Errorf("history out of order: %+v", messages[1:3])
	}
	if messages[3].Content != "and after that?" {
		t.Errorf("current question misplaced: %q", messages[3].Content)
	}
	for _, m := range messages[:3] {
		if m.Content == "and after that?" {
			t.Error("current question duplicated into history")
		}
	}
}

func TestAnswer_NamesFreshSession(t *testing.T) {
	store := newFakeTurnStore()
	sessID := store.addSession("owner-1", "")
	client := testutil.NewMockChatClient("generated answer")
	client.AddResponse("title of at most six words", "Quarterly Revenue Questions")

	o := newOrchestrator(store, &fakeRetriever{}, client)
	_, err := o.Answer(context.Background(), Request{
		OwnerID:   "owner-1",
		SessionID: sessID,
		Question:  "how did revenue do?",
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got := store.title(sessID); got != "Quarterly Revenue Questions" {
		t.Errorf("session title = %q", got)
	}
}

func TestAnswerStream_ForwardsAndPersistsAfterTerminal(t *testing.T) {
	store := newFakeTurnStore()
	sessID := store.addSession("owner-1", "Existing title")
	client := testutil.NewMockChatClient("streamed answer text")

	o := newOrchestrator(store, &fakeRetriever{}, client)

	var streamed strings.Builder
	turn, err := o.AnswerStream(context.Background(), Request{
		OwnerID:   "owner-1",
		SessionID: sessID,
		Question:  "stream me an answer",
	}, func(_ context.Context, delta string) error {
		streamed.WriteString(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("AnswerStream: %v", err)
	}

	if streamed.String() != "streamed answer text" {
		t.Errorf("streamed %q", streamed.String())
	}
	if turn.Content != "streamed answer text" {
		t.Errorf("persisted %q", turn.Content)
	}
}

func TestAnswerStream_AbortLeavesNoAssistantTurn(t *testing.T) {
	store := newFakeTurnStore()
	sessID := store.addSession("owner-1", "Existing title")
	client := testutil.NewMockChatClient("this answer never finishes cleanly")
	client.OmitTerminal = true

	o := newOrchestrator(store, &fakeRetriever{}, client)
	_, err := o.AnswerStream(context.Background(), Request{
		OwnerID:   "owner-1",
		SessionID: sessID,
		Question:  "doomed question",
	}, func(_ context.Context, _ string) error { return nil })
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}

	turns := store.allTurns(sessID)
	if len(turns) != 1 || turns[0].Role != domain.RoleUser {
		t.Errorf("expected only the user turn to survive, got %+v", turns)
	}
}

func TestAnswerStream_NilCallback(t *testing.T) {
	store := newFakeTurnStore()
	sessID := store.addSession("owner-1", "t")

	o := newOrchestrator(store, &fakeRetriever{}, testutil.NewMockChatClient("x"))
	_, err := o.AnswerStream(context.Background(), Request{
		OwnerID:   "owner-1",
		SessionID: sessID,
		Question:  "q",
	}, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
