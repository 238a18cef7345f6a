// Package testutil provides shared test doubles for inkwell packages:
// a deterministic mock embedder and a scripted mock generation backend.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// MockEmbedder implements ai.Embedder with deterministic output derived
// from the input text, so identical text always embeds identically.
//
// Thread-safe for concurrent use.
type MockEmbedder struct {
	// Dimension of generated vectors. Defaults to 768 when zero.
	Dimension int

	// Err, when set, is returned by every Embed call.
	Err error

	mu        sync.Mutex
	callCount int
	inputs    []string
	lastOpts  any
}

// Name implements ai.Embedder.
func (*MockEmbedder) Name() string { return "mock-embedder" }

// Register implements ai.Embedder. No-op for testing.
func (*MockEmbedder) Register(api.Registry) {}

// Embed implements ai.Embedder. Each input document produces a vector
// seeded from the SHA-256 of its text.
func (m *MockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.mu.Lock()
	m.callCount++
	m.lastOpts = req.Options
	for _, doc := range req.Input {
		if len(doc.Content) > 0 {
			m.inputs = append(m.inputs, doc.Content[0].Text)
		}
	}
	err := m.Err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		text := ""
		if len(doc.Content) > 0 {
			text = doc.Content[0].Text
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{
			Embedding: DeterministicVector(text, m.dimension()),
		})
	}
	return resp, nil
}

// LastOptions returns the Options of the most recent Embed request.
func (m *MockEmbedder) LastOptions() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOpts
}

// CallCount returns how many Embed calls were made.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Inputs returns a copy of every embedded text, in call order.
func (m *MockEmbedder) Inputs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]string, len(m.inputs))
	copy(cp, m.inputs)
	return cp
}

func (m *MockEmbedder) dimension() int {
	if m.Dimension > 0 {
		return m.Dimension
	}
	return 768
}

// DeterministicVector derives a unit-scale vector from text. Equal text
// yields equal vectors; different text yields different vectors with
// overwhelming probability.
func DeterministicVector(text string, dim int) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	for i := range vec {
		word := binary.BigEndian.Uint32(sum[(i*4)%28 : (i*4)%28+4])
		// Spread into [-1, 1), perturbed by index so components differ.
		vec[i] = float32(int32(word+uint32(i)*2654435761)) / float32(1<<31)
	}
	return vec
}
