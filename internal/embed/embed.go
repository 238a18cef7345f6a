// Package embed provides a uniform gateway over pluggable embedding
// backends.
//
// Two backend dialects are satisfiable behind the same Provider
// interface: a native multi-item batch call (Gemini via Genkit) and a
// one-item-per-request REST backend (Ollama) bounded by a hard
// concurrency ceiling, with results reassembled by original index.
//
// The embedding dimension is a fixed, globally configured constant.
// The gateway never infers it from data: a mismatch against the vector
// store's configured dimension is a configuration defect upstream.
package embed

import (
	"context"
	"fmt"

	"github.com/inkwellhq/inkwell/internal/domain"
)

// VectorDimension is the fixed embedding dimension shared by every
// backend and by the pgvector column type in the chunks table.
// Changing it requires a migration of all stored embeddings.
const VectorDimension = 768

// healthProbeText is the trivial sample used by HealthCheck.
const healthProbeText = "ping"

// Health reports backend reachability and the observed vector dimension
// from a trivial probe embedding.
type Health struct {
	Reachable bool
	Dimension int
}

// Provider is the uniform interface over embedding backends.
//
// Embed is strictly order-preserving: result i corresponds to texts[i]
// regardless of backend completion order. Network and timeout failures
// are reported as domain.ErrBackendUnavailable, distinct from
// malformed-input failures (domain.ErrValidation), so callers can
// decide retry policy.
type Provider interface {
	// Name identifies the backend dialect for logging.
	Name() string

	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// HealthCheck probes the backend with a trivial sample.
	HealthCheck(ctx context.Context) (Health, error)
}

// validateInput rejects malformed embed requests before any network I/O.
func validateInput(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts to embed", domain.ErrValidation)
	}
	for i, t := range texts {
		if t == "" {
			return fmt.Errorf("%w: empty text at index %d", domain.ErrValidation, i)
		}
	}
	return nil
}
