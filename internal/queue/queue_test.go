package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestFetchWaitExpired(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"nats timeout", nats.ErrTimeout, true},
		{"wrapped deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"connection closed", nats.ErrConnectionClosed, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fetchWaitExpired(tt.err); got != tt.want {
				t.Errorf("fetchWaitExpired(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
