// Package llm provides a uniform client over text-generation backends.
//
// Two dialects sit behind the same Client interface: a native
// conversational backend (Gemini via Genkit) and a REST
// completion-style backend (Ollama). Both support blocking and
// streaming generation; streaming honors mid-stream cancellation
// through the context, and the final text is only returned once the
// stream's terminal signal has been observed.
package llm

import (
	"context"
	"fmt"

	"github.com/inkwellhq/inkwell/internal/domain"
)

// Message roles, matching domain turn roles plus the system prompt.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a conversation sent to the backend.
type Message struct {
	Role    string
	Content string
}

// Options tune a single generation call. Zero values fall back to the
// backend's defaults.
type Options struct {
	Temperature float32
	MaxTokens   int
}

// StreamFunc receives one text increment per call. Returning an error
// aborts the stream; the increment order matches generation order.
type StreamFunc func(ctx context.Context, delta string) error

// Client is the uniform interface over generation backends.
//
// Connection failures are reported as domain.ErrBackendUnavailable.
// An empty string is never returned in place of an error.
type Client interface {
	// Name identifies the backend dialect for logging.
	Name() string

	// Chat generates a complete response for the conversation.
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)

	// ChatStream generates a response, forwarding increments to fn as
	// they arrive. The accumulated final text is returned only after the
	// stream's terminal signal; a canceled context returns ctx.Err().
	ChatStream(ctx context.Context, messages []Message, opts Options, fn StreamFunc) (string, error)

	// HealthCheck probes backend reachability with a trivial request.
	HealthCheck(ctx context.Context) error
}

// validateMessages rejects malformed conversations before any network I/O.
func validateMessages(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("%w: no messages", domain.ErrValidation)
	}
	for i, m := range messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("%w: unknown role %q at index %d", domain.ErrValidation, m.Role, i)
		}
	}
	return nil
}
