package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
	"github.com/akinalp/gradehub/services"
)

// MemberHandler serves a room's roster. The actor always comes from the
// verified identity, never from the body.
type MemberHandler struct {
	rosterService services.RosterService
}

// NewMemberHandler creates the handler.
func NewMemberHandler(rosterService services.RosterService) *MemberHandler {
	return &MemberHandler{rosterService: rosterService}
}

// List godoc
// GET /api/rooms/{id}/members
func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	members, err := h.rosterService.ListMembers(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, members)
}

// Candidates godoc
// GET /api/rooms/{id}/candidates
// Students of the owner's class who are not members yet.
func (h *MemberHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	candidates, err := h.rosterService.ListEligibleCandidates(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, candidates)
}

// Add godoc
// POST /api/rooms/{id}/members
// Body: {"user_id": "..."}
func (h *MemberHandler) Add(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req models.AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	roomID := r.PathValue("id")
	if err := h.rosterService.AddMember(r.Context(), roomID, user.ID, req.UserID); err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, map[string]string{"room_id": roomID, "user_id": req.UserID})
}

// Remove godoc
// DELETE /api/rooms/{id}/members/{userId}
func (h *MemberHandler) Remove(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	roomID := r.PathValue("id")
	targetID := r.PathValue("userId")
	if err := h.rosterService.RemoveMember(r.Context(), roomID, user.ID, targetID); err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, map[string]string{"room_id": roomID, "user_id": targetID})
}
