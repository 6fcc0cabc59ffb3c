// Package server exposes the assistant over HTTP: one chat endpoint with
// cookie-scoped conversation threads.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/assistant"
	"github.com/carebridge/carebridge/internal/session"
	"github.com/carebridge/carebridge/pkg/flow"
)

// sessionCookie carries the opaque thread identifier. It is an ID, not a
// credential.
const sessionCookie = "session"

// ChatRequest is the POST /chat body. A resume_token turns the request
// into a resume of a suspended turn; resume_value defaults to message.
type ChatRequest struct {
	Message     string `json:"message"`
	ResumeToken string `json:"resume_token,omitempty"`
	ResumeValue string `json:"resume_value,omitempty"`
}

// ChatResponse is the POST /chat reply.
type ChatResponse struct {
	Reply       string              `json:"reply"`
	Structured  json.RawMessage     `json:"structured,omitempty"`
	Agent       string              `json:"agent"`
	Suspended   bool                `json:"suspended"`
	ResumeToken string              `json:"resume_token,omitempty"`
	Messages    []assistant.Message `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server handles HTTP chat traffic on top of the session manager.
type Server struct {
	manager *session.Manager
	logger  *slog.Logger
}

// New creates a Server.
func New(manager *session.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{manager: manager, logger: logger}
}

// Router builds the chi router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/chat", s.handleChat)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.Message == "" && req.ResumeToken == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}

	threadID := s.threadID(w, r)

	var (
		result *session.TurnResult
		err    error
	)
	if req.ResumeToken != "" {
		value := req.ResumeValue
		if value == "" {
			value = req.Message
		}
		result, err = s.manager.ResumeTurn(r.Context(), threadID, req.ResumeToken, value)
	} else {
		result, err = s.manager.SubmitTurn(r.Context(), threadID, req.Message)
	}

	if err != nil {
		s.writeError(w, threadID, err)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Reply:       result.Reply,
		Structured:  result.Structured,
		Agent:       result.AgentName,
		Suspended:   result.Suspended,
		ResumeToken: result.Token,
		Messages:    result.Messages,
	})
}

// threadID reads the session cookie, issuing one on first contact.
func (s *Server) threadID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// writeError maps domain errors to HTTP statuses. The body is always
// JSON and never echoes internal error detail.
func (s *Server) writeError(w http.ResponseWriter, threadID string, err error) {
	switch {
	case errors.Is(err, session.ErrThreadBusy):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "a turn is already in progress for this conversation"})
	case errors.Is(err, flow.ErrInterruptResolved):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "this confirmation was already resolved"})
	case errors.Is(err, flow.ErrNoSuspension):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "nothing to resume for this conversation"})
	default:
		s.logger.Error("turn failed",
			slog.String("thread_id", threadID),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "processing error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
