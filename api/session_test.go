package api

import (
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell/internal/domain"
)

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/sessions", `{"title":"Quarterly review"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[SessionResponse](t, rec)
	if resp.Title != "Quarterly review" {
		t.Errorf("title = %q", resp.Title)
	}
	if resp.ID == uuid.Nil {
		t.Error("session ID not set")
	}
}

func TestCreateSessionWithEmptyTitle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/sessions", `{}`)
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, untitled sessions are allowed", rec.Code)
	}
}

func TestListSessionsOnlyOwn(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.sessions.Create(t.Context(), testOwner, "mine"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.sessions.Create(t.Context(), "someone-else", "theirs"); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/api/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["total"] != float64(1) {
		t.Errorf("total = %v, want 1", body["total"])
	}
}

func TestGetForeignSessionIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.sessions.Create(t.Context(), "someone-else", "theirs")
	if err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/api/sessions/"+sess.ID.String(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSessionTurnsTranscript(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.sessions.Create(t.Context(), testOwner, "mine")
	if err != nil {
		t.Fatal(err)
	}
	env.sessions.turns[sess.ID] = []domain.Turn{
		{ID: uuid.New(), SessionID: sess.ID, Role: "user", Content: "what changed?", SequenceNumber: 1},
		{ID: uuid.New(), SessionID: sess.ID, Role: "assistant", Content: "revenue grew", SequenceNumber: 2,
			Sources: []domain.SourceRef{{DocumentID: uuid.New(), Title: "Q3 Report", Page: 1}}},
	}

	rec := env.do(t, http.MethodGet, "/api/sessions/"+sess.ID.String()+"/turns", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[struct {
		Turns []TurnResponse `json:"turns"`
		Total int            `json:"total"`
	}](t, rec)
	if body.Total != 2 {
		t.Fatalf("total = %d, want 2", body.Total)
	}
	if body.Turns[1].Role != "assistant" || len(body.Turns[1].Sources) != 1 {
		t.Errorf("assistant turn = %+v", body.Turns[1])
	}
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.sessions.Create(t.Context(), testOwner, "mine")
	if err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodDelete, "/api/sessions/"+sess.ID.String(), "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/sessions/"+sess.ID.String(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", rec.Code)
	}
}
