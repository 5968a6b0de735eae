package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/carebridge/orchestrator/internal/conversation"
	orcherrors "github.com/carebridge/orchestrator/internal/errors"
)

// handleChat decodes a ChatRequest, runs one conversation turn, and returns
// the synchronous ChatResponse (final or provisional, per the engine).
func (s *Server) handleChat(c echo.Context) error {
	var req conversation.ChatRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, orcherrors.New(orcherrors.KindValidation, errors.Wrap(err, "malformed request body")))
	}

	resp, err := s.engine.HandleChat(c.Request().Context(), req)
	if err != nil {
		return httpError(c, err)
	}
	if resp.Degraded {
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// sessionView is the JSON shape returned by GET /session/{id}: the full
// session minus internal bookkeeping the client has no use for.
type sessionView struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Language      string           `json:"language"`
	WorkflowState string           `json:"workflow_state"`
	History       []sessionMessage `json:"history"`
}

type sessionMessage struct {
	Role          string  `json:"role"`
	Content       string  `json:"content"`
	Intent        string  `json:"intent,omitempty"`
	Status        string  `json:"status,omitempty"`
	CorrelationID string  `json:"correlation_id,omitempty"`
	Confidence    float32 `json:"confidence,omitempty"`
}

func (s *Server) handleGetSession(c echo.Context) error {
	id := c.Param("id")
	sess, ok, err := s.store.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(c, orcherrors.New(orcherrors.KindStoreOutage, err))
	}
	if !ok {
		return httpError(c, orcherrors.New(orcherrors.KindSessionMissing, orcherrors.ErrSessionNotFound))
	}

	view := sessionView{
		ID:            sess.ID,
		UserID:        sess.UserID,
		Language:      sess.Language,
		WorkflowState: sess.WorkflowState,
		History:       make([]sessionMessage, 0, len(sess.History)),
	}
	for _, m := range sess.History {
		view.History = append(view.History, sessionMessage{
			Role:          string(m.Role),
			Content:       m.Content,
			Intent:        m.Metadata.Intent,
			Status:        string(m.Metadata.Status),
			CorrelationID: m.Metadata.CorrelationID,
			Confidence:    m.Metadata.Confidence,
		})
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	id := c.Param("id")
	if err := s.store.Delete(c.Request().Context(), id); err != nil {
		return httpError(c, orcherrors.New(orcherrors.KindStoreOutage, err))
	}
	if s.correlation != nil {
		s.correlation.CancelBySession(id)
	}
	return c.JSON(http.StatusOK, echo.Map{"session_id": id, "cleared": true})
}

func (s *Server) handleListSessions(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return httpError(c, orcherrors.New(orcherrors.KindValidation, errors.New("user_id query parameter is required")))
	}
	ids, err := s.store.ListByUser(c.Request().Context(), userID)
	if err != nil {
		return httpError(c, orcherrors.New(orcherrors.KindStoreOutage, err))
	}
	return c.JSON(http.StatusOK, echo.Map{"session_ids": ids})
}
