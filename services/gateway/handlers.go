// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/chairside/services/backends"
	"github.com/AleutianAI/chairside/services/format"
)

// ChatRequest is the POST /v1/chat body.
type ChatRequest struct {
	Question string `json:"question"`
	UserID   string `json:"user_id"`
}

// ChatResponse is the successful POST /v1/chat reply.
type ChatResponse struct {
	Success   bool              `json:"success"`
	Answer    string            `json:"answer"`
	System    string            `json:"system"`
	SessionID string            `json:"session_id"`
	Chart     *format.ChartData `json:"chart,omitempty"`
}

// ErrorResponse is the 4xx validation error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// FailureResponse is the 5xx body: FriendlyError is the human-readable
// message, Error preserves the technical detail for diagnostics.
type FailureResponse struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	FriendlyError string `json:"friendly_error"`
}

// Handlers holds the HTTP handlers for the chat gateway.
//
// Thread Safety: Handlers is safe for concurrent use.
type Handlers struct {
	orchestrator *Orchestrator
	sessions     SessionStore
}

// NewHandlers creates the gateway handlers.
func NewHandlers(orchestrator *Orchestrator, sessions SessionStore) *Handlers {
	return &Handlers{orchestrator: orchestrator, sessions: sessions}
}

// getOrCreateRequestID returns the inbound X-Request-ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleChat handles POST /v1/chat.
//
// Description:
//
//	Validates the body, runs the question through the orchestrator, and
//	writes the answer. Validation failures are 400s; backend failures are
//	500s carrying both the technical error and a friendly message.
//
// Response:
//
//	200 OK: ChatResponse
//	400 Bad Request: Missing question
//	500 Internal Server Error: FailureResponse
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleChat(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleChat")

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid JSON body: " + err.Error(),
			Code:  "INVALID_BODY",
		})
		return
	}
	if req.Question == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "question is required",
			Code:  "MISSING_QUESTION",
		})
		return
	}

	reply, err := h.orchestrator.HandleQuestion(c.Request.Context(), req.Question, req.UserID)
	if err != nil {
		logger.Error("Question handling failed", slog.String("error", err.Error()))
		if backends.ClassOf(err) == backends.ClassValidation {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "VALIDATION_FAILED",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, FailureResponse{
			Success:       false,
			Error:         err.Error(),
			FriendlyError: friendlyMessage(err),
		})
		return
	}

	logger.Debug("Chat handled", slog.String("system", reply.System))
	c.JSON(http.StatusOK, ChatResponse{
		Success:   true,
		Answer:    reply.Answer,
		System:    reply.System,
		SessionID: reply.SessionID,
		Chart:     reply.Chart,
	})
}

// HandleHealth handles GET /v1/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// HandleReady handles GET /v1/ready. The gateway holds no connections at
// rest, so readiness follows liveness.
func (h *Handlers) HandleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// HandleGetSession handles GET /v1/sessions/:id, where :id is the user key
// a session belongs to (the chat endpoint's user_id, default "anonymous").
//
// Response:
//
//	200 OK: Session snapshot with conversation history
//	404 Not Found: No session for that user
func (h *Handlers) HandleGetSession(c *gin.Context) {
	sess, ok := h.sessions.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "no session for that id",
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// HandleDeleteSession handles DELETE /v1/sessions/:id.
//
// Response:
//
//	200 OK: Deletion confirmation
//	404 Not Found: No session for that user
func (h *Handlers) HandleDeleteSession(c *gin.Context) {
	userID := c.Param("id")
	if !h.sessions.Delete(userID) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "no session for that id",
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}
	slog.Info("Deleted session", slog.String("user_id", userID))
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// friendlyMessage maps a backend failure to the actionable, non-technical
// message shown to the user next to the raw diagnostic.
func friendlyMessage(err error) string {
	switch backends.ClassOf(err) {
	case backends.ClassTimeout:
		return "The data service took too long to respond. Please try again in a moment."
	case backends.ClassUnavailable:
		return "A data service is currently unreachable. Please try again shortly."
	case backends.ClassRejected:
		return "The data service could not process this question. Try rephrasing it."
	case backends.ClassMalformed:
		return "The data service returned something unexpected. Try rephrasing the question."
	default:
		return "Something went wrong while answering. Please try again."
	}
}
