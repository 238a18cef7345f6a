package domain

import "errors"

// Sentinel errors categorizing every failure the core can surface.
// These are part of the public API of the internal packages and should
// be checked with errors.Is().
//
// Example:
//
//	_, err := retriever.Retrieve(ctx, query, scope, k)
//	if errors.Is(err, domain.ErrAuthorization) {
//	    // hard failure, log as potential security event
//	}
var (
	// ErrValidation indicates malformed input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrAuthorization indicates a requested id fell outside the caller's
	// verified scope. Always a hard failure, never a silent filter.
	ErrAuthorization = errors.New("authorization failed")

	// ErrBackendUnavailable indicates a network or timeout failure against
	// an embedding or generation backend. The async pipeline retries this
	// category with backoff; the interactive path surfaces it immediately.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrNoRelevantContext indicates every retrieval candidate scored
	// below the similarity floor. Not a failure: it routes the
	// orchestrator onto the explicit no-context path.
	ErrNoRelevantContext = errors.New("no relevant context")

	// ErrProcessingFailed indicates a content item failed processing.
	// The captured message stays visible for manual retry.
	ErrProcessingFailed = errors.New("processing failed")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// Transient reports whether err belongs to the retryable category.
// Only backend unavailability is transient; validation, authorization
// and processing failures are permanent.
func Transient(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}
