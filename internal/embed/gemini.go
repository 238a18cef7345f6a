package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"google.golang.org/genai"

	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/log"
)

// DefaultGeminiModel is the default Gemini embedder model.
// text-embedding-004 outputs VectorDimension (768) dimensions natively.
const DefaultGeminiModel = "text-embedding-004"

// Gemini embeds text through the Genkit Google AI plugin. The backend
// accepts a native multi-item batch, so one Embed call maps to one
// network request regardless of input size.
type Gemini struct {
	embedder ai.Embedder
	logger   log.Logger
}

// NewGemini creates a Gemini-backed provider. model defaults to
// DefaultGeminiModel when empty.
func NewGemini(g *genkit.Genkit, model string, logger log.Logger) *Gemini {
	if model == "" {
		model = DefaultGeminiModel
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Gemini{
		embedder: googlegenai.GoogleAIEmbedder(g, model),
		logger:   logger,
	}
}

// NewGeminiWithEmbedder wires an explicit ai.Embedder. Used by tests to
// substitute a mock backend.
func NewGeminiWithEmbedder(embedder ai.Embedder, logger log.Logger) *Gemini {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Gemini{embedder: embedder, logger: logger}
}

// Name implements Provider.
func (*Gemini) Name() string { return "gemini" }

// Embed implements Provider using a single batch request.
func (g *Gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateInput(texts); err != nil {
		return nil, err
	}

	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	// Models like gemini-embedding-001 default to wider vectors; the
	// pgvector column is fixed at VectorDimension.
	dim := int32(VectorDimension)
	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   docs,
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: gemini embed: %v", domain.ErrBackendUnavailable, err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d texts",
			domain.ErrBackendUnavailable, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("%w: gemini returned empty embedding at index %d",
				domain.ErrBackendUnavailable, i)
		}
		vectors[i] = e.Embedding
	}

	g.logger.Debug("embedded batch", "backend", g.Name(), "count", len(texts))
	return vectors, nil
}

// HealthCheck implements Provider.
func (g *Gemini) HealthCheck(ctx context.Context) (Health, error) {
	vectors, err := g.Embed(ctx, []string{healthProbeText})
	if err != nil {
		return Health{}, err
	}
	return Health{Reachable: true, Dimension: len(vectors[0])}, nil
}
