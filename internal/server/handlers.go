package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "partnerscope/internal/common/errors"
	"partnerscope/internal/evaluation"
	"partnerscope/internal/models"
	"partnerscope/internal/search"
	"partnerscope/internal/session"
)

type createSessionRequest struct {
	Profile    models.StartupProfile `json:"profile" binding:"required"`
	Candidates []models.Candidate    `json:"candidates,omitempty"`
}

type createSessionResponse struct {
	SessionID  string        `json:"session_id"`
	Phase      session.Phase `json:"phase"`
	Candidates int           `json:"candidates"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperrors.NewStrategyInvalidError("invalid session payload: "+err.Error()))
		return
	}
	if req.Profile.CompanyName == "" {
		s.writeError(c, apperrors.NewStrategyInvalidError("profile.company_name is required"))
		return
	}

	sess := s.manager.CreateSession(c.Request.Context(), req.Profile, req.Candidates)
	c.JSON(http.StatusCreated, createSessionResponse{
		SessionID:  sess.ID,
		Phase:      sess.Phase,
		Candidates: len(req.Candidates),
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	state, err := s.manager.GetState(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.manager.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDimensions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"dimensions": evaluation.Dimensions()})
}

// actionRequest is the shared body for the action endpoints. SessionID rides
// in the body so every endpoint keeps the same shape.
type actionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	session.ActionRequest
}

// dispatchHandler binds one fixed action to an endpoint.
func (s *Server) dispatchHandler(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req actionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, apperrors.NewStrategyInvalidError("invalid request body: "+err.Error()))
			return
		}
		req.Action = action

		resp, err := s.manager.Dispatch(c.Request.Context(), req.SessionID, req.ActionRequest)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

type chatRequest struct {
	SessionID  string `json:"session_id" binding:"required"`
	Message    string `json:"message"`
	ActionHint string `json:"action_hint,omitempty"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperrors.NewStrategyInvalidError("invalid request body: "+err.Error()))
		return
	}

	resp, err := s.manager.ChatDispatch(c.Request.Context(), req.SessionID, req.Message, req.ActionHint)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleSearchStream serves the discovery pipeline as server-sent events.
// Each pipeline event becomes one SSE message; the stream ends after the
// terminal complete or error event.
func (s *Server) handleSearchStream(c *gin.Context) {
	sessionID := c.Query("session_id")
	query := c.Query("query")
	if sessionID == "" {
		s.writeError(c, apperrors.NewStrategyInvalidError("session_id query parameter is required"))
		return
	}

	events, err := s.manager.StreamSearch(c.Request.Context(), sessionID, query)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		blob, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		c.SSEvent(string(ev.Type), string(blob))
		return ev.Type != search.EventComplete && ev.Type != search.EventError
	})
}

// handleCostStream serves the session's cost ledger as server-sent events, one
// message per recorded LLM operation, until the client disconnects.
func (s *Server) handleCostStream(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		s.writeError(c, apperrors.NewStrategyInvalidError("session_id query parameter is required"))
		return
	}

	events, cancel, err := s.manager.StreamCosts(sessionID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	done := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			blob, err := json.Marshal(ev)
			if err != nil {
				return false
			}
			c.SSEvent("cost", string(blob))
			return true
		case <-done:
			return false
		}
	})
}
