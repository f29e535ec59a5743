package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
	"github.com/akinalp/gradehub/pkg/ratelimit"
	"github.com/akinalp/gradehub/services"
)

// MessageHandler serves a room's message log.
type MessageHandler struct {
	messageService services.MessageService
	limiter        *ratelimit.MessageRateLimiter
}

// NewMessageHandler creates the handler.
func NewMessageHandler(messageService services.MessageService, limiter *ratelimit.MessageRateLimiter) *MessageHandler {
	return &MessageHandler{messageService: messageService, limiter: limiter}
}

// Post godoc
// POST /api/rooms/{id}/messages
// Body: {"content": "hello", "kind": "text"}; kind defaults to text.
func (h *MessageHandler) Post(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if !h.limiter.Allow(user.ID) {
		retryAfter := h.limiter.CooldownSeconds(user.ID)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		pkg.ErrorWithMessage(w, http.StatusTooManyRequests,
			fmt.Sprintf("too many messages, try again in %s", ratelimit.FormatRetryMessage(retryAfter)))
		return
	}

	var req models.PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.messageService.Append(r.Context(), r.PathValue("id"), user.ID, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, msg)
}

// List godoc
// GET /api/rooms/{id}/messages?after=<cursor>&limit=50
// Safe to repeat: clients resume from the next_cursor they last received.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	after, err := models.ParseCursor(r.URL.Query().Get("after"))
	if err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	page, err := h.messageService.Page(r.Context(), r.PathValue("id"), user.ID, after, limit)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, page)
}
