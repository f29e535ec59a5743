package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
	"github.com/akinalp/gradehub/services"
)

// RoomHandler serves room creation and lookup.
type RoomHandler struct {
	rosterService services.RosterService
}

// NewRoomHandler creates the handler.
func NewRoomHandler(rosterService services.RosterService) *RoomHandler {
	return &RoomHandler{rosterService: rosterService}
}

// Create godoc
// POST /api/rooms
// Body: {"name": "Math 9B", "kind": "chat"}
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req models.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	room, err := h.rosterService.CreateRoom(r.Context(), user, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, room)
}

// List godoc
// GET /api/rooms?kind=chat|study-group
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	kind := models.RoomKind(r.URL.Query().Get("kind"))
	rooms, err := h.rosterService.ListRooms(r.Context(), user.ID, kind)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, rooms)
}

// Get godoc
// GET /api/rooms/{id}
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	room, err := h.rosterService.GetRoom(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, room)
}
