package embed

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/log"
	"github.com/inkwellhq/inkwell/internal/testutil"
)

func TestGeminiEmbed_BatchOrderPreserved(t *testing.T) {
	mock := &testutil.MockEmbedder{Dimension: 8}
	provider := NewGeminiWithEmbedder(mock, log.NewNop())

	texts := []string{"alpha", "beta", "gamma"}
	vectors, err := provider.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vectors))
	}

	// embed([a,b,c])[1] corresponds to b: re-embedding b alone must
	// reproduce the same deterministic vector.
	single, err := provider.Embed(context.Background(), []string{"beta"})
	if err != nil {
		t.Fatalf("Embed single: %v", err)
	}
	for i := range vectors[1] {
		if vectors[1][i] != single[0][i] {
			t.Fatalf("vectors[1] does not correspond to input %q", "beta")
		}
	}

	// The whole batch went out as one backend call.
	if got := mock.CallCount(); got != 2 {
		t.Errorf("backend call count = %d, want 2 (one per Embed)", got)
	}
}

func TestGeminiEmbed_RequestsFixedDimension(t *testing.T) {
	mock := &testutil.MockEmbedder{Dimension: VectorDimension}
	provider := NewGeminiWithEmbedder(mock, log.NewNop())

	if _, err := provider.Embed(context.Background(), []string{"hello"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	// Without an explicit output dimensionality the backend's native
	// width wins, and wide models break the vector(768) column.
	opts, ok := mock.LastOptions().(*genai.EmbedContentConfig)
	if !ok {
		t.Fatalf("request options = %T, want *genai.EmbedContentConfig", mock.LastOptions())
	}
	if opts.OutputDimensionality == nil {
		t.Fatal("request does not set OutputDimensionality")
	}
	if got := *opts.OutputDimensionality; got != VectorDimension {
		t.Errorf("OutputDimensionality = %d, want %d", got, VectorDimension)
	}
}

func TestGeminiEmbed_BackendErrorIsUnavailable(t *testing.T) {
	mock := &testutil.MockEmbedder{Err: errors.New("connection reset")}
	provider := NewGeminiWithEmbedder(mock, log.NewNop())

	_, err := provider.Embed(context.Background(), []string{"hello"})
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestGeminiEmbed_EmptyInputIsValidation(t *testing.T) {
	provider := NewGeminiWithEmbedder(&testutil.MockEmbedder{}, log.NewNop())

	_, err := provider.Embed(context.Background(), []string{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestGeminiHealthCheck_ReportsDimension(t *testing.T) {
	provider := NewGeminiWithEmbedder(&testutil.MockEmbedder{Dimension: 768}, log.NewNop())

	h, err := provider.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if !h.Reachable || h.Dimension != 768 {
		t.Errorf("health = %+v, want reachable with dimension 768", h)
	}
}
