package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
	"github.com/akinalp/gradehub/services"
)

// EventsHandler lets trusted collaborators (grades, assignments, profiles)
// publish their own events. The route sits behind the events key middleware.
type EventsHandler struct {
	bus services.EventBus
}

// NewEventsHandler creates the handler.
func NewEventsHandler(bus services.EventBus) *EventsHandler {
	return &EventsHandler{bus: bus}
}

// Publish godoc
// POST /api/events
// Body: {"id": "grade:123", "type": "grade_posted", "content": "...", "targets": ["u1"]}
// Re-posting the same id creates nothing new for targets that already have it.
func (h *EventsHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req models.PublishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.bus.Publish(r.Context(), req.ToEvent(), req.Targets)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusAccepted, map[string]any{
		"event_id": req.ID,
		"created":  len(created),
	})
}
