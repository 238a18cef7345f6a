package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell/internal/domain"
)

const (
	// DefaultMaxTurns bounds how many prior turns reach the prompt.
	DefaultMaxTurns = 20

	// DefaultMaxChars bounds the cumulative character budget.
	DefaultMaxChars = 8000

	// minTruncationBudget is the smallest leftover budget worth spending
	// on a truncated turn. Below it the turn is dropped entirely.
	minTruncationBudget = 100

	ellipsis = "…"
)

// Window bounds conversation history by turn count and character budget.
// Zero fields fall back to the defaults. Window is a pure value and
// needs no synchronization.
type Window struct {
	MaxTurns int
	MaxChars int
}

// TurnLister is the read path the window draws from.
type TurnLister interface {
	RecentTurns(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.Turn, error)
}

// History loads a session's recent turns and applies the window,
// returning them in chronological order.
func (w Window) History(ctx context.Context, store TurnLister, sessionID uuid.UUID) ([]domain.Turn, error) {
	maxTurns := w.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	recent, err := store.RecentTurns(ctx, sessionID, maxTurns)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return w.Apply(recent), nil
}

// Apply walks turns from newest to oldest, keeping each while both caps
// allow. A turn that would overflow the character budget is truncated
// with an ellipsis if enough budget remains to be useful, and scanning
// stops there either way. Input must be newest first; output is
// chronological.
func (w Window) Apply(newestFirst []domain.Turn) []domain.Turn {
	maxTurns := w.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	maxChars := w.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var kept []domain.Turn
	remaining := maxChars
	for _, turn := range newestFirst {
		if len(kept) >= maxTurns {
			break
		}

		runes := []rune(turn.Content)
		if len(runes) <= remaining {
			kept = append(kept, turn)
			remaining -= len(runes)
			continue
		}

		if remaining > minTruncationBudget {
			truncated := turn
			truncated.Content = string(runes[:remaining-1]) + ellipsis
			kept = append(kept, truncated)
		}
		break
	}

	// Reverse into chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}
