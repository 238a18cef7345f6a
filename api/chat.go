package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/llm"
	"github.com/inkwellhq/inkwell/internal/log"
	"github.com/inkwellhq/inkwell/internal/rag"
)

// MaxQuestionLength bounds a single question.
const MaxQuestionLength = 8000

// Answerer runs one question/answer turn against a session.
type Answerer interface {
	Answer(ctx context.Context, req rag.Request) (*domain.Turn, error)
	AnswerStream(ctx context.Context, req rag.Request, fn llm.StreamFunc) (*domain.Turn, error)
}

// ChatHandler handles question answering, blocking and streaming.
//
// Endpoints:
//   - POST /api/sessions/{id}/messages        synchronous (JSON)
//   - POST /api/sessions/{id}/messages/stream streaming (SSE)
type ChatHandler struct {
	answerer Answerer
	logger   log.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(answerer Answerer, logger log.Logger) *ChatHandler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &ChatHandler{answerer: answerer, logger: logger}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions/{id}/messages", h.ask)
	r.Post("/sessions/{id}/messages/stream", h.askStream)
}

// AskRequest is the request body for both chat endpoints.
// DocumentIDs scopes retrieval; an empty list means answer without
// document context.
type AskRequest struct {
	Question    string      `json:"question"`
	DocumentIDs []uuid.UUID `json:"document_ids"`
	Temperature float32     `json:"temperature,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
}

// SSEEvent payload types, one per event name.
type (
	// SSEChunkData is the data for "chunk" events.
	SSEChunkData struct {
		Text string `json:"text"`
	}

	// SSEDoneData is the data for "done" events.
	SSEDoneData struct {
		Response string             `json:"response"`
		Sources  []domain.SourceRef `json:"sources,omitempty"`
	}

	// SSEErrorData is the data for "error" events.
	SSEErrorData struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

func (h *ChatHandler) parseAsk(w http.ResponseWriter, r *http.Request) (rag.Request, bool) {
	sessionID, ok := parseUUID(w, r, "id")
	if !ok {
		return rag.Request{}, false
	}

	var body AskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return rag.Request{}, false
	}
	if body.Question == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "question is required")
		return rag.Request{}, false
	}
	if len(body.Question) > MaxQuestionLength {
		writeError(w, http.StatusBadRequest, "validation_failed", "question too long")
		return rag.Request{}, false
	}

	return rag.Request{
		OwnerID:     ownerID(r),
		SessionID:   sessionID,
		Question:    body.Question,
		Scope:       body.DocumentIDs,
		Temperature: body.Temperature,
		MaxTokens:   body.MaxTokens,
	}, true
}

// ask answers a question synchronously and returns the assistant turn.
func (h *ChatHandler) ask(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseAsk(w, r)
	if !ok {
		return
	}

	turn, err := h.answerer.Answer(r.Context(), req)
	if err != nil {
		h.logger.Error("answer failed", "session_id", req.SessionID, "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTurnResponse(*turn))
}

// askStream answers a question over Server-Sent Events.
//
// Event types:
//   - chunk: partial text {"text": "..."}
//   - done:  final response {"response": "...", "sources": [...]}
//   - error: failure {"code": "...", "message": "..."}
func (h *ChatHandler) askStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseAsk(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Long generations outlive the server write timeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	h.logger.Info("SSE stream started", "session_id", req.SessionID)

	turn, err := h.answerer.AnswerStream(r.Context(), req, func(ctx context.Context, chunk string) error {
		if chunk == "" {
			return nil
		}
		writeSSE(w, flusher, "chunk", SSEChunkData{Text: chunk})
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			h.logger.Info("client disconnected", "session_id", req.SessionID)
			return
		}
		h.logger.Error("stream failed", "session_id", req.SessionID, "error", err)
		writeSSE(w, flusher, "error", SSEErrorData{Code: errorCode(err), Message: err.Error()})
		return
	}

	writeSSE(w, flusher, "done", SSEDoneData{Response: turn.Content, Sources: turn.Sources})
	h.logger.Info("SSE stream completed",
		"session_id", req.SessionID, "response_len", len(turn.Content))
}

// writeSSE writes one named event and flushes it to the client.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}

// errorCode maps domain errors to stable SSE error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation_failed"
	case errors.Is(err, domain.ErrAuthorization):
		return "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrBackendUnavailable):
		return "backend_unavailable"
	default:
		return "internal_error"
	}
}
