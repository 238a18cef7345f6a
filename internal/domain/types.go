package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role constants define valid turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Page is one unit of already-extracted document text, supplied by the
// upload/validation collaborator. The core never parses file formats.
type Page struct {
	Number int    `json:"number"` // 1-based page number
	Text   string `json:"text"`
}

// SourceDocument is an ingested document. Identity and owner scope are
// immutable; derived fields (Summary) are written by the async pipeline.
type SourceDocument struct {
	ID        uuid.UUID
	OwnerID   string
	Title     string
	PageCount int
	Pages     []Page // retained raw input, used for retry and recovery
	Summary   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is a bounded slice of document text carrying its own embedding;
// the unit of retrieval. Chunks belong to exactly one SourceDocument and
// are destroyed and recreated wholesale when content changes, never
// patched in place.
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Index      int // contiguous from 0, stable within a document
	Page       int // originating page number, 0 if unknown
	Content    string
	Embedding  []float32 // present iff processing reached the embedded step
	CreatedAt  time.Time
}

// Session groups the turns of one conversation and belongs to one owner.
type Session struct {
	ID        uuid.UUID
	OwnerID   string
	Title     string
	TurnCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SourceRef points a turn back at the chunk material it was grounded on.
// Identical document+page pairs collapse to one entry.
type SourceRef struct {
	DocumentID uuid.UUID `json:"document_id"`
	Title      string    `json:"title"`
	Page       int       `json:"page"`
}

// / Turn is one message within a session. Turns are append-only: never
// edited or reordered after creation.
type Turn struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	Role           string // RoleUser or RoleAssistant
	Content        string
	Sources        []SourceRef // non-empty only for grounded assistant turns
	SequenceNumber int
	CreatedAt      time.Time
}

// JobKind distinguishes resumable content jobs from interactive
// generation jobs, which are never resumed after a crash.
type JobKind string

const (
	// JobKindContent covers chunk/embed/format/summarize processing of a
	// document. Safe to re-run as long as the raw pages are retained.
	JobKindContent JobKind = "content"

	// JobKindGeneration covers time-sensitive interactive generation.
	// Resuming one after a restart would answer against stale context,
	// so the recovery sweep only ever marks these failed.
	JobKindGeneration JobKind = "generation"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	return k == JobKindContent || k == JobKindGeneration
}

// ProcessingJob tracks the processing state of one content item.
type ProcessingJob struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Kind       JobKind
	Status     JobStatus
	Error      string
	RetryCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
