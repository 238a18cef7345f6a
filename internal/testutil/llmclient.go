package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/llm"
)

// MockChatClient provides deterministic generation responses for
// testing. It matches the last user message against registered
// patterns and returns the corresponding response; streaming splits
// the response into word-sized increments.
//
// Thread-safe for concurrent use.
type MockChatClient struct {
	mu       sync.Mutex
	rules    []chatRule
	fallback string
	calls    []ChatCall

	// Err, when set, is returned by every call.
	Err error

	// OmitTerminal simulates a stream that dies before its terminal
	// signal: increments are forwarded but the call fails.
	OmitTerminal bool
}

type chatRule struct {
	pattern  string
	response string
}

// ChatCall records a single generation request.
type ChatCall struct {
	Messages []llm.Message
	Streamed bool
	Response string
}

// NewMockChatClient creates a mock client with the given fallback
// response, returned when no pattern matches.
func NewMockChatClient(fallback string) *MockChatClient {
	return &MockChatClient{fallback: fallback}
}

// AddResponse registers a pattern-response pair. When the last user
// message contains the pattern (case-insensitive), the response is
// returned. First match wins.
func (m *MockChatClient) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, chatRule{pattern: strings.ToLower(pattern), response: response})
}

// Calls returns a copy of all recorded calls.
func (m *MockChatClient) Calls() []ChatCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]ChatCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Name implements llm.Client.
func (*MockChatClient) Name() string { return "mock" }

// Chat implements llm.Client.
func (m *MockChatClient) Chat(ctx context.Context, messages []llm.Message, _ llm.Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.respond(messages, false), nil
}

// ChatStream implements llm.Client.
func (m *MockChatClient) ChatStream(ctx context.Context, messages []llm.Message, _ llm.Options, fn llm.StreamFunc) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}

	response := m.respond(messages, true)
	words := strings.SplitAfter(response, " ")
	for _, w := range words {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := fn(ctx, w); err != nil {
			return "", err
		}
	}
	if m.OmitTerminal {
		return "", fmt.Errorf("%w: stream ended before terminal signal", domain.ErrBackendUnavailable)
	}
	return response, nil
}

// HealthCheck implements llm.Client.
func (m *MockChatClient) HealthCheck(ctx context.Context) error {
	_, err := m.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: "ping"}}, llm.Options{})
	return err
}

func (m *MockChatClient) respond(messages []llm.Message, streamed bool) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastUser string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			lastUser = messages[i].Content
			break
		}
	}

	response := m.fallback
	lower := strings.ToLower(lastUser)
	for _, rule := range m.rules {
		if strings.Contains(lower, rule.pattern) {
			response = rule.response
			break
		}
	}

	m.calls = append(m.calls, ChatCall{Messages: messages, Streamed: streamed, Response: response})
	return response
}
