package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/inkwellhq/inkwell/internal/domain"
)

func TestCreateDocumentAcceptsAndPublishes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/documents",
		`{"title":"Q3 Report","pages":[{"number":1,"text":"revenue grew"},{"number":2,"text":"costs fell"}]}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody[map[string]any](t, rec)
	doc, ok := body["document"].(map[string]any)
	if !ok {
		t.Fatal("response missing document")
	}
	if doc["title"] != "Q3 Report" {
		t.Errorf("title = %v", doc["title"])
	}
	if doc["page_count"] != float64(2) {
		t.Errorf("page_count = %v, want 2", doc["page_count"])
	}
	job, ok := body["job"].(map[string]any)
	if !ok {
		t.Fatal("response missing job")
	}
	if job["status"] != "pending" {
		t.Errorf("job status = %v, want pending", job["status"])
	}

	if len(env.pub.msgs) != 1 {
		t.Fatalf("published = %d, want 1", len(env.pub.msgs))
	}
	if env.pub.msgs[0].Kind != domain.JobKindContent {
		t.Errorf("published kind = %q", env.pub.msgs[0].Kind)
	}
}

func TestCreateDocumentValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing title", `{"pages":[{"number":1,"text":"x"}]}`},
		{"blank title", `{"title":"   ","pages":[{"number":1,"text":"x"}]}`},
		{"no pages", `{"title":"empty"}`},
		{"malformed json", `{"title":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/documents", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
	if len(env.pub.msgs) != 0 {
		t.Errorf("rejected requests published %d messages", len(env.pub.msgs))
	}
}

func TestGetDocumentHidesForeignDocuments(t *testing.T) {
	env := newTestEnv(t)
	doc, _, err := env.docs.Create(t.Context(), "someone-else", "secret", []domain.Page{{Number: 1, Text: "x"}})
	if err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/api/documents/"+doc.ID.String(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for foreign document", rec.Code)
	}
}

func TestGetDocumentIncludesJobAndChunkCount(t *testing.T) {
	env := newTestEnv(t)
	doc, _, err := env.docs.Create(t.Context(), testOwner, "mine", []domain.Page{{Number: 1, Text: "x"}})
	if err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/api/documents/"+doc.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]any](t, rec)
	d := body["document"].(map[string]any)
	if d["chunk_count"] != float64(3) {
		t.Errorf("chunk_count = %v, want 3", d["chunk_count"])
	}
	if _, ok := body["job"]; !ok {
		t.Error("response should include the latest content job")
	}
}

func TestGetDocumentInvalidID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/documents/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	env := newTestEnv(t)
	doc, _, err := env.docs.Create(t.Context(), testOwner, "mine", []domain.Page{{Number: 1, Text: "x"}})
	if err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodDelete, "/api/documents/"+doc.ID.String(), "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/documents/"+doc.ID.String(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestRetryJob(t *testing.T) {
	env := newTestEnv(t)
	_, job, err := env.docs.Create(t.Context(), testOwner, "mine", []domain.Page{{Number: 1, Text: "x"}})
	if err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodPost, "/api/jobs/"+job.ID.String()+"/retry", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.retrier.calls) != 1 || env.retrier.calls[0] != job.ID {
		t.Errorf("retrier calls = %v", env.retrier.calls)
	}
}

func TestRetryJobRejectionsMapToStatus(t *testing.T) {
	env := newTestEnv(t)
	_, job, err := env.docs.Create(t.Context(), testOwner, "mine", []domain.Page{{Number: 1, Text: "x"}})
	if err != nil {
		t.Fatal(err)
	}
	env.retrier.err = fmt.Errorf("%w: only failed jobs can be retried", domain.ErrValidation)

	rec := env.do(t, http.MethodPost, "/api/jobs/"+job.ID.String()+"/retry", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestJobStatusHiddenForForeignOwner(t *testing.T) {
	env := newTestEnv(t)
	_, job, err := env.docs.Create(t.Context(), "someone-else", "secret", []domain.Page{{Number: 1, Text: "x"}})
	if err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/api/jobs/"+job.ID.String(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for foreign job", rec.Code)
	}
}
