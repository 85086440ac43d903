package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentimeter/backend/internal/metrics"
	"github.com/sentimeter/backend/internal/session"
)

// Error messages returned to clients.
const (
	msgPayloadRequired = "payload is required"
	msgInvalidBody     = "request body must be a JSON object"
	msgPayloadTooLarge = "payload too large"
	msgRateLimited     = "too many sessions created, try again later"
	msgNotFound        = "session not found or expired"
	msgStoreFailed     = "failed to store session"
	msgFetchFailed     = "failed to fetch session"
)

type createRequest struct {
	Payload json.RawMessage `json:"payload"`
}

type createResponse struct {
	SessionID string `json:"session_id"`
	ExpiresIn int    `json:"expires_in"`
}

type fetchResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: msg})
}

// createSession handles POST /session.
func (h *Handler) createSession(c *gin.Context) {
	ctx := c.Request.Context()

	if h.limiter != nil {
		ok, _ := h.limiter.Allow(ctx, c.ClientIP(), h.opts.CreateRule)
		if !ok {
			abortWithError(c, http.StatusTooManyRequests, msgRateLimited)
			return
		}
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxPayloadBytes)

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, http.StatusRequestEntityTooLarge, msgPayloadTooLarge)
			return
		}
		abortWithError(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	if len(req.Payload) == 0 || bytes.Equal(req.Payload, []byte("null")) {
		abortWithError(c, http.StatusBadRequest, msgPayloadRequired)
		return
	}

	id, err := h.manager.Create(ctx, req.Payload)
	if err != nil {
		log.Printf("[api] create session failed rid=%s: %v", c.GetString(requestIDKey), err)
		abortWithError(c, http.StatusInternalServerError, msgStoreFailed)
		return
	}

	c.JSON(http.StatusOK, createResponse{
		SessionID: id,
		ExpiresIn: int(h.manager.TTL() / time.Second),
	})
}

// getSession handles GET /session/:sid. Every read consumes the session
// when single-use mode is on.
func (h *Handler) getSession(c *gin.Context) {
	sid := c.Param("sid")
	if !session.ValidID(sid) {
		metrics.FetchMiss()
		abortWithError(c, http.StatusNotFound, msgNotFound)
		return
	}

	data, err := h.manager.Fetch(c.Request.Context(), sid, true)
	switch {
	case errors.Is(err, session.ErrNotFound):
		metrics.FetchMiss()
		abortWithError(c, http.StatusNotFound, msgNotFound)
		return
	case err != nil:
		metrics.FetchError()
		log.Printf("[api] fetch session failed rid=%s: %v", c.GetString(requestIDKey), err)
		abortWithError(c, http.StatusInternalServerError, msgFetchFailed)
		return
	}

	c.JSON(http.StatusOK, fetchResponse{Data: data})
}

// health responds with the service status, the active backend and uptime.
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"backend":     h.manager.Backend().Kind(),
		"single_use":  h.manager.SingleUse(),
		"ttl_seconds": int(h.manager.TTL() / time.Second),
		"uptime":      time.Since(h.startedAt).Round(time.Second).String(),
	})
}
