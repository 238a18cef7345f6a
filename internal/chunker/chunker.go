// Package chunker splits extracted page text into bounded, overlapping
// segments suitable for embedding and retrieval.
//
// The splitter is deterministic: the same input and parameters always
// yield the same chunk sequence. Chunk indexes are global per document
// and contiguous from 0, while each chunk remains tagged with the page
// it originated from.
package chunker

import (
	"fmt"
	"strings"

	"github.com/inkwellhq/inkwell/internal/domain"
)

// Defaults chosen for embedding models with a few-thousand-token window.
const (
	DefaultSize    = 2000
	DefaultOverlap = 200
)

// Config holds the chunking parameters.
type Config struct {
	// Size is the target window size in runes.
	Size int

	// Overlap is how many runes consecutive chunks share.
	Overlap int
}

// Chunker splits page text into overlapping chunks.
// A Chunker is immutable and safe for concurrent use.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker, applying defaults for zero values.
// An overlap greater than or equal to the window size is rejected:
// such a configuration could only loop or regress the cursor.
func New(cfg Config) (*Chunker, error) {
	size := cfg.Size
	if size == 0 {
		size = DefaultSize
	}
	overlap := cfg.Overlap
	if overlap == 0 && cfg.Size == 0 {
		overlap = DefaultOverlap
	}

	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrValidation, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must not be negative, got %d", domain.ErrValidation, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", domain.ErrValidation, overlap, size)
	}

	return &Chunker{size: size, overlap: overlap}, nil
}

// separator candidates searched backward from the window boundary, in
// priority order. An entry matches a single rune; the split point is
// placed immediately after it.
var sentenceTerminators = map[rune]bool{
	'.': true, '!': true, '?': true,
	'。': true, '！': true, '？': true, '…': true, '；': true,
}

// Split chunks the given pages into ordered chunks with a single global
// index. Empty or whitespace-only chunks are dropped after trimming.
func (c *Chunker) Split(pages []domain.Page) []domain.Chunk {
	var chunks []domain.Chunk
	index := 0

	for _, page := range pages {
		for _, content := range c.splitText(page.Text) {
			chunks = append(chunks, domain.Chunk{
				Index:   index,
				Page:    page.Number,
				Content: content,
			})
			index++
		}
	}

	return chunks
}

// splitText splits one text into overlapping windows.
func (c *Chunker) splitText(text string) []string {
	runes := []rune(text)
	var out []string

	emit := func(segment []rune) {
		trimmed := strings.TrimSpace(string(segment))
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}

	cursor := 0
	for cursor < len(runes) {
		end := cursor + c.size
		if end >= len(runes) {
			emit(runes[cursor:])
			break
		}

		split := c.findSplit(runes, cursor, end)
		emit(runes[cursor:split])

		// The next window starts overlap runes before the split point,
		// clamped so the cursor always advances.
		next := split - c.overlap
		if next <= cursor {
			next = cursor + 1
		}
		cursor = next
	}

	return out
}

// findSplit searches backward from end for the best-available separator.
// A candidate is accepted only if it lies past half the window, to avoid
// degenerate micro-chunks; otherwise the window is hard-cut at end.
func (c *Chunker) findSplit(runes []rune, cursor, end int) int {
	half := cursor + c.size/2

	// Paragraph break: a newline immediately following another newline.
	for i := end - 1; i > half; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}

	// Line break.
	for i := end - 1; i > half; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}

	// Sentence terminators, including CJK full-width forms.
	for i := end - 1; i > half; i-- {
		if sentenceTerminators[runes[i]] {
			return i + 1
		}
	}

	// Any whitespace.
	for i := end - 1; i > half; i-- {
		if runes[i] == ' ' || runes[i] == '\t' {
			return i + 1
		}
	}

	return end
}
