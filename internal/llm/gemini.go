package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/log"
)

// DefaultGeminiChatModel is the default provider-qualified model name.
const DefaultGeminiChatModel = "googleai/gemini-2.5-flash"

// Gemini generates text through Genkit's conversational API.
type Gemini struct {
	g       *genkit.Genkit
	model   string
	limiter *rate.Limiter
	logger  log.Logger
}

// GeminiConfig configures the Gemini-backed client.
type GeminiConfig struct {
	// Model is the provider-qualified model name.
	// Defaults to DefaultGeminiChatModel.
	Model string

	// RateLimiter proactively bounds request rate.
	// Defaults to 10 req/s sustained with a burst of 30.
	RateLimiter *rate.Limiter
}

// NewGemini creates a Gemini-backed generation client.
func NewGemini(g *genkit.Genkit, cfg GeminiConfig, logger log.Logger) *Gemini {
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiChatModel
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = rate.NewLimiter(10, 30)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Gemini{
		g:       g,
		model:   cfg.Model,
		limiter: cfg.RateLimiter,
		logger:  logger,
	}
}

// Name implements Client.
func (*Gemini) Name() string { return "gemini" }

// Chat implements Client.
func (c *Gemini) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	return c.generate(ctx, messages, opts, nil)
}

// ChatStream implements Client.
func (c *Gemini) ChatStream(ctx context.Context, messages []Message, opts Options, fn StreamFunc) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("%w: nil stream callback", domain.ErrValidation)
	}
	return c.generate(ctx, messages, opts, fn)
}

func (c *Gemini) generate(ctx context.Context, messages []Message, opts Options, fn StreamFunc) (string, error) {
	if err := validateMessages(messages); err != nil {
		return "", err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	genOpts := []ai.GenerateOption{
		ai.WithMessages(toGenkitMessages(messages)...),
		ai.WithModelName(c.model),
	}

	config := map[string]any{}
	if opts.Temperature > 0 {
		config["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		config["maxOutputTokens"] = opts.MaxTokens
	}
	if len(config) > 0 {
		genOpts = append(genOpts, ai.WithConfig(config))
	}

	if fn != nil {
		genOpts = append(genOpts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			if chunk == nil {
				return nil
			}
			for _, part := range chunk.Content {
				if part.Text != "" {
					if err := fn(ctx, part.Text); err != nil {
						return err
					}
				}
			}
			return nil
		}))
	}

	resp, err := genkit.Generate(ctx, c.g, genOpts...)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: gemini generate: %v", domain.ErrBackendUnavailable, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		// Never mask a failure with an empty string.
		return "", fmt.Errorf("%w: gemini returned an empty response", domain.ErrBackendUnavailable)
	}

	c.logger.Debug("generated response", "backend", c.Name(), "chars", len(text))
	return text, nil
}

// HealthCheck implements Client.
func (c *Gemini) HealthCheck(ctx context.Context) error {
	_, err := c.Chat(ctx, []Message{{Role: RoleUser, Content: "ping"}}, Options{MaxTokens: 8})
	return err
}

// toGenkitMessages converts the transport-neutral messages to Genkit's.
func toGenkitMessages(messages []Message) []*ai.Message {
	out := make([]*ai.Message, len(messages))
	for i, m := range messages {
		var role ai.Role
		switch m.Role {
		case RoleSystem:
			role = ai.RoleSystem
		case RoleAssistant:
			role = ai.RoleModel
		default:
			role = ai.RoleUser
		}
		out[i] = &ai.Message{
			Role:    role,
			Content: []*ai.Part{ai.NewTextPart(m.Content)},
		}
	}
	return out
}
