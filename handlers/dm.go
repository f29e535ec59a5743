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

// DMHandler serves private message channels. Sends share the per-user
// message limiter with room posts.
type DMHandler struct {
	dmService services.DMService
	limiter   *ratelimit.MessageRateLimiter
}

// NewDMHandler creates the handler.
func NewDMHandler(dmService services.DMService, limiter *ratelimit.MessageRateLimiter) *DMHandler {
	return &DMHandler{dmService: dmService, limiter: limiter}
}

// ListChannels godoc
// GET /api/dms
func (h *DMHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	channels, err := h.dmService.ListChannels(r.Context(), user.ID)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, channels)
}

// OpenChannel godoc
// POST /api/dms
// Body: {"user_id": "..."}; returns the existing channel when there is one.
func (h *DMHandler) OpenChannel(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req models.OpenDMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	channel, err := h.dmService.OpenChannel(r.Context(), user, req.UserID)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, channel)
}

// Send godoc
// POST /api/dms/{id}/messages
// Body: {"content": "hello", "kind": "text"}
func (h *DMHandler) Send(w http.ResponseWriter, r *http.Request) {
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

	msg, err := h.dmService.Send(r.Context(), r.PathValue("id"), user.ID, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, msg)
}

// Messages godoc
// GET /api/dms/{id}/messages?after=<cursor>&limit=50
func (h *DMHandler) Messages(w http.ResponseWriter, r *http.Request) {
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

	page, err := h.dmService.Page(r.Context(), r.PathValue("id"), user.ID, after, limit)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, page)
}
