package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/InsureGuide/internal/advisor"
	"github.com/BTreeMap/InsureGuide/internal/flow"
	"github.com/BTreeMap/InsureGuide/internal/models"
	"github.com/go-chi/chi/v5"
)

// createSessionHandler handles POST /sessions
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	turn, err := s.conv.Start(r.Context())
	if err != nil {
		slog.Error("Server.createSessionHandler: failed to start session", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}
	slog.Info("Server.createSessionHandler: session started", "sessionID", turn.SessionID)
	writeJSONResponse(w, http.StatusCreated, models.Success(turn.Reply()))
}

// messageHandler handles POST /sessions/{id}/messages
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.messageHandler: failed to decode JSON", "sessionID", sessionID, "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.messageHandler: validation failed", "sessionID", sessionID, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.MessageID != "" && s.dedup != nil {
		fresh, err := s.dedup.RecordInbound(req.MessageID, sessionID)
		if err != nil {
			slog.Error("Server.messageHandler: dedup check failed", "sessionID", sessionID, "messageID", req.MessageID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to record message")
			return
		}
		if !fresh {
			slog.Info("Server.messageHandler: duplicate message dropped", "sessionID", sessionID, "messageID", req.MessageID)
			writeJSONResponse(w, http.StatusConflict, models.Duplicate(req.MessageID))
			return
		}
	}

	turn, err := s.conv.Resume(r.Context(), sessionID, req.Message)
	if err != nil {
		s.forgetInbound(req.MessageID)
	}
	switch {
	case errors.Is(err, flow.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
		return
	case errors.Is(err, flow.ErrSessionClosed):
		writeError(w, http.StatusConflict, "Session is complete")
		return
	case err != nil:
		slog.Error("Server.messageHandler: turn failed", "sessionID", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to process message")
		return
	}

	if req.MessageID != "" && s.dedup != nil {
		if err := s.dedup.MarkProcessed(req.MessageID); err != nil {
			slog.Warn("Server.messageHandler: failed to mark message processed", "messageID", req.MessageID, "error", err)
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(turn.Reply()))
}

// forgetInbound releases a message id whose turn failed so the client can
// retry it.
func (s *Server) forgetInbound(messageID string) {
	if messageID == "" || s.dedup == nil {
		return
	}
	if err := s.dedup.ForgetInbound(messageID); err != nil {
		slog.Warn("Server.forgetInbound: failed to release message id", "messageID", messageID, "error", err)
	}
}

// getSessionHandler handles GET /sessions/{id}
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	sess, err := s.conv.Session(r.Context(), sessionID)
	if errors.Is(err, flow.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		slog.Error("Server.getSessionHandler: failed to load session", "sessionID", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sessionView(sess)))
}

func sessionView(sess *flow.Session) models.SessionView {
	view := models.SessionView{
		SessionID: sess.ID,
		Profile:   sess.Profile,
		Done:      sess.Done,
	}
	if sess.Pending != nil {
		view.PendingStep = string(sess.Pending.Step)
		view.PendingPrompt = sess.Pending.Prompt
	}
	if sess.Profile.HasMissingProfileInfo() {
		view.Missing = sess.Profile.MissingProfileInfo()
		view.NextQuestion = advisor.NextProfileQuestion(sess.Profile)
	}
	return view
}

// deleteSessionHandler handles DELETE /sessions/{id}
func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	err := s.conv.Delete(r.Context(), sessionID)
	if errors.Is(err, flow.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		slog.Error("Server.deleteSessionHandler: failed to delete session", "sessionID", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}
	slog.Info("Server.deleteSessionHandler: session deleted", "sessionID", sessionID)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}
