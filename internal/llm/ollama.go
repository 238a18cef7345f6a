package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/log"
)

const (
	// DefaultOllamaChatModel is the default Ollama chat model.
	DefaultOllamaChatModel = "llama3.1"

	// DefaultOllamaHost is the default Ollama server address.
	DefaultOllamaHost = "http://localhost:11434"

	// chatTimeout bounds a blocking chat call. Streaming calls are
	// bounded by the caller's context instead.
	chatTimeout = 5 * time.Minute
)

// Ollama generates text through the Ollama REST chat endpoint.
// Streaming responses arrive as newline-delimited JSON.
type Ollama struct {
	host    string
	model   string
	client  *http.Client
	limiter *rate.Limiter
	logger  log.Logger
}

// OllamaConfig configures the Ollama-backed client.
type OllamaConfig struct {
	Host  string // defaults to DefaultOllamaHost
	Model string // defaults to DefaultOllamaChatModel

	// RateLimiter proactively bounds request rate.
	// Defaults to 10 req/s sustained with a burst of 30.
	RateLimiter *rate.Limiter

	// HTTPClient overrides the default client. Used by tests.
	HTTPClient *http.Client
}

// NewOllama creates an Ollama-backed generation client.
func NewOllama(cfg OllamaConfig, logger log.Logger) *Ollama {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaChatModel
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = rate.NewLimiter(10, 30)
	}
	client := cfg.HTTPClient
	if client == nil {
		// No client-level timeout: streaming responses stay open for as
		// long as generation runs. Cancellation comes from the context.
		client = &http.Client{}
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Ollama{
		host:    cfg.Host,
		model:   cfg.Model,
		client:  client,
		limiter: cfg.RateLimiter,
		logger:  logger,
	}
}

// Name implements Client.
func (*Ollama) Name() string { return "ollama" }

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

// Chat implements Client.
func (c *Ollama) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	if err := validateMessages(messages); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	resp, err := c.send(ctx, messages, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrBackendUnavailable, err)
	}

	text := strings.TrimSpace(out.Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: ollama returned an empty response", domain.ErrBackendUnavailable)
	}

	c.logger.Debug("generated response", "backend", c.Name(), "chars", len(text))
	return text, nil
}

// ChatStream implements Client. Increments are forwarded to fn as they
// arrive; the final text is returned only after the done marker.
func (c *Ollama) ChatStream(ctx context.Context, messages []Message, opts Options, fn StreamFunc) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("%w: nil stream callback", domain.ErrValidation)
	}
	if err := validateMessages(messages); err != nil {
		return "", err
	}

	resp, err := c.send(ctx, messages, opts, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var final strings.Builder
	done := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("%w: decode stream chunk: %v", domain.ErrBackendUnavailable, err)
		}

		if chunk.Message.Content != "" {
			final.WriteString(chunk.Message.Content)
			if err := fn(ctx, chunk.Message.Content); err != nil {
				return "", err
			}
		}
		if chunk.Done {
			done = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: reading stream: %v", domain.ErrBackendUnavailable, err)
	}
	if !done {
		// Stream ended without its terminal signal; the response is not
		// trustworthy and must not be persisted.
		return "", fmt.Errorf("%w: stream ended before terminal signal", domain.ErrBackendUnavailable)
	}

	text := strings.TrimSpace(final.String())
	if text == "" {
		return "", fmt.Errorf("%w: ollama returned an empty response", domain.ErrBackendUnavailable)
	}

	c.logger.Debug("streamed response", "backend", c.Name(), "chars", len(text))
	return text, nil
}

// send issues the chat request. The caller owns the response body.
func (c *Ollama) send(ctx context.Context, messages []Message, opts Options, stream bool) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := ollamaChatRequest{
		Model:    c.model,
		Messages: make([]ollamaChatMessage, len(messages)),
		Stream:   stream,
	}
	for i, m := range messages {
		req.Messages[i] = ollamaChatMessage{Role: m.Role, Content: m.Content}
	}
	if opts.Temperature > 0 || opts.MaxTokens > 0 {
		req.Options = map[string]any{}
		if opts.Temperature > 0 {
			req.Options["temperature"] = opts.Temperature
		}
		if opts.MaxTokens > 0 {
			req.Options["num_predict"] = opts.MaxTokens
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrValidation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrValidation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: ollama request: %v", domain.ErrBackendUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: ollama rejected request with status %d", domain.ErrValidation, resp.StatusCode)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: ollama returned status %d", domain.ErrBackendUnavailable, resp.StatusCode)
	}
}

// HealthCheck implements Client.
func (c *Ollama) HealthCheck(ctx context.Context) error {
	_, err := c.Chat(ctx, []Message{{Role: RoleUser, Content: "ping"}}, Options{MaxTokens: 8})
	return err
}
