// Package ingress exposes the streaming chat API over HTTP.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/harunnryd/hibiki/internal/backend"
	"github.com/harunnryd/hibiki/internal/chat"
	"github.com/harunnryd/hibiki/internal/logger"
)

const maxMessageLength = 2000

// Conversations is the backend surface the HTTP API proxies.
type Conversations interface {
	CreateConversation(ctx context.Context, title string) (*backend.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]backend.Message, error)
}

// Streamer produces the event stream for one chat turn.
type Streamer interface {
	Stream(ctx context.Context, conversationID string, userMessage string) <-chan chat.StreamEvent
}

// HTTPServer serves conversation management and the NDJSON chat stream.
type HTTPServer struct {
	conversations Conversations
	streamer      Streamer
	modelName     string
	server        *http.Server
}

type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

func NewHTTPServer(port int, conversations Conversations, streamer Streamer, modelName string, timeouts Timeouts) *HTTPServer {
	mux := http.NewServeMux()
	s := &HTTPServer{
		conversations: conversations,
		streamer:      streamer,
		modelName:     modelName,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  timeouts.Read,
			WriteTimeout: timeouts.Write,
			IdleTimeout:  timeouts.Idle,
		},
	}

	mux.HandleFunc("POST /api/v1/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/v1/conversations/{id}/messages", s.handleChat)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

// Handler exposes the route table for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server in a goroutine.
func (s *HTTPServer) Start() {
	go func() {
		slog.Info("Starting HTTP server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}()
}

// Stop stops the HTTP server gracefully.
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type createConversationRequest struct {
	Title string `json:"title"`
}

func (s *HTTPServer) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	conv, err := s.conversations.CreateConversation(r.Context(), req.Title)
	if err != nil {
		slog.Error("Failed to create conversation", "error", err)
		writeError(w, http.StatusBadGateway, "Failed to create conversation")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"conversation": conv})
}

func (s *HTTPServer) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.conversations.ListMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		slog.Error("Failed to list messages", "error", err)
		writeError(w, http.StatusBadGateway, "Failed to fetch messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" || utf8.RuneCountInString(message) > maxMessageLength {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("message must be between 1 and %d characters", maxMessageLength))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	conversationID := r.PathValue("id")
	traceID := ulid.Make().String()
	ctx := logger.WithTraceID(r.Context(), traceID)
	ctx = logger.WithConversationID(ctx, conversationID)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for ev := range s.streamer.Stream(ctx, conversationID, message) {
		if err := enc.Encode(ev); err != nil {
			// Client is gone; the request context cancels the stream.
			slog.Debug("Stream write failed", "error", err, "trace_id", traceID)
			return
		}
		flusher.Flush()
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"model":  s.modelName,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
