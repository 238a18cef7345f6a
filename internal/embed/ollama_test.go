package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/log"
)

// fakeOllama serves /api/embeddings with per-text deterministic vectors
// and optional artificial delay, recording peak concurrency.
type fakeOllama struct {
	dim      int
	jitter   bool
	inFlight atomic.Int64
	peak     atomic.Int64

	mu   sync.Mutex
	seen []string
	fail int // respond with this status code when non-zero
}

func (f *fakeOllama) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cur := f.inFlight.Add(1)
		defer f.inFlight.Add(-1)
		for {
			old := f.peak.Load()
			if cur <= old || f.peak.CompareAndSwap(old, cur) {
				break
			}
		}

		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.seen = append(f.seen, req.Prompt)
		fail := f.fail
		f.mu.Unlock()

		if fail != 0 {
			w.WriteHeader(fail)
			return
		}

		if f.jitter {
			time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
		}

		// Vector encodes the prompt so tests can check index alignment.
		vec := make([]float32, f.dim)
		vec[0] = float32(len(req.Prompt))
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: vec})
	}
}

func newFakeOllama(t *testing.T, f *fakeOllama) (*Ollama, *httptest.Server) {
	t.Helper()
	if f.dim == 0 {
		f.dim = 8
	}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	provider := NewOllama(OllamaConfig{Host: srv.URL, Model: "test-model"}, log.NewNop())
	return provider, srv
}

func TestOllamaEmbed_OrderPreserved(t *testing.T) {
	provider, _ := newFakeOllama(t, &fakeOllama{jitter: true})

	// Texts of distinct lengths; the fake encodes len(prompt) into the
	// vector so a misordered reassembly is visible.
	texts := make([]string, 20)
	for i := range texts {
		texts[i] = fmt.Sprintf("%0*d", i+1, 0) // length i+1
	}

	vectors, err := provider.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}
	for i, vec := range vectors {
		if int(vec[0]) != len(texts[i]) {
			t.Errorf("vectors[%d] corresponds to a text of length %d, want %d",
				i, int(vec[0]), len(texts[i]))
		}
	}
}

func TestOllamaEmbed_ConcurrencyCeiling(t *testing.T) {
	fake := &fakeOllama{jitter: true}
	provider, _ := newFakeOllama(t, fake)

	texts := make([]string, 40)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}

	if _, err := provider.Embed(context.Background(), texts); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if peak := fake.peak.Load(); peak > maxInFlight {
		t.Errorf("peak in-flight requests = %d, want <= %d", peak, maxInFlight)
	}
}

func TestOllamaEmbed_EmptyInputIsValidation(t *testing.T) {
	provider, _ := newFakeOllama(t, &fakeOllama{})

	_, err := provider.Embed(context.Background(), nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for empty input, got %v", err)
	}

	_, err = provider.Embed(context.Background(), []string{"ok", ""})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for empty text, got %v", err)
	}
}

func TestOllamaEmbed_ServerErrorIsBackendUnavailable(t *testing.T) {
	fake := &fakeOllama{fail: http.StatusInternalServerError}
	provider, _ := newFakeOllama(t, fake)

	_, err := provider.Embed(context.Background(), []string{"hello"})
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable for 500, got %v", err)
	}
}

func TestOllamaEmbed_ClientErrorIsValidation(t *testing.T) {
	fake := &fakeOllama{fail: http.StatusBadRequest}
	provider, _ := newFakeOllama(t, fake)

	_, err := provider.Embed(context.Background(), []string{"hello"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for 400, got %v", err)
	}
}

func TestOllamaEmbed_UnreachableHost(t *testing.T) {
	// Port 1 on localhost should refuse connections.
	provider := NewOllama(OllamaConfig{Host: "http://127.0.0.1:1", Model: "m"}, log.NewNop())

	_, err := provider.Embed(context.Background(), []string{"hello"})
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable for refused connection, got %v", err)
	}
}

func TestOllamaHealthCheck(t *testing.T) {
	provider, _ := newFakeOllama(t, &fakeOllama{dim: 16})

	h, err := provider.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if !h.Reachable {
		t.Error("expected reachable")
	}
	if h.Dimension != 16 {
		t.Errorf("observed dimension = %d, want 16", h.Dimension)
	}
}
