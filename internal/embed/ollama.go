package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/log"
)

const (
	// DefaultOllamaModel is the default Ollama embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// DefaultOllamaHost is the default Ollama server address.
	DefaultOllamaHost = "http://localhost:11434"

	// maxInFlight is the hard ceiling on simultaneously outstanding
	// embedding requests. Ollama serves one prompt per call, and a shared
	// inference host degrades badly past a handful of parallel requests.
	maxInFlight = 5

	// requestTimeout bounds a single embedding HTTP call.
	requestTimeout = 60 * time.Second
)

// Ollama embeds text through the Ollama REST API, one item per network
// call. Calls are fanned out under a hard concurrency ceiling and the
// results are reassembled by original index, never by arrival order.
type Ollama struct {
	host   string
	model  string
	client *http.Client
	logger log.Logger
}

// OllamaConfig configures the Ollama-backed provider.
type OllamaConfig struct {
	Host  string // defaults to DefaultOllamaHost
	Model string // defaults to DefaultOllamaModel

	// HTTPClient overrides the default client. Used by tests.
	HTTPClient *http.Client
}

// NewOllama creates an Ollama-backed provider.
func NewOllama(cfg OllamaConfig, logger log.Logger) *Ollama {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Ollama{
		host:   cfg.Host,
		model:  cfg.Model,
		client: client,
		logger: logger,
	}
}

// Name implements Provider.
func (*Ollama) Name() string { return "ollama" }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements Provider. Each text is one network call; at most
// maxInFlight calls are outstanding at a time.
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateInput(texts); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(maxInFlight)

	for i, text := range texts {
		grp.Go(func() error {
			vec, err := o.embedOne(grpCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			vectors[i] = vec
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, err
	}

	o.logger.Debug("embedded batch", "backend", o.Name(), "count", len(texts))
	return vectors, nil
}

// embedOne performs a single /api/embeddings call.
func (o *Ollama) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrValidation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.host+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrValidation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: ollama request: %v", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: ollama rejected request with status %d", domain.ErrValidation, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: ollama returned status %d", domain.ErrBackendUnavailable, resp.StatusCode)
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrBackendUnavailable, err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%w: ollama returned empty embedding", domain.ErrBackendUnavailable)
	}

	return out.Embedding, nil
}

// HealthCheck implements Provider.
func (o *Ollama) HealthCheck(ctx context.Context) (Health, error) {
	vec, err := o.embedOne(ctx, healthProbeText)
	if err != nil {
		return Health{}, err
	}
	return Health{Reachable: true, Dimension: len(vec)}, nil
}
