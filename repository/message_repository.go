package repository

import (
	"context"

	"github.com/akinalp/gradehub/models"
)

// MessageRepository is the append-only message log.
//
// ListAfter is the only read path: it returns at most limit messages of a
// room strictly after the cursor, in (created_at, id) order. Callers page by
// feeding back the cursor of the last message they received.
type MessageRepository interface {
	// Create assigns CreatedAt so that it is strictly greater than every
	// earlier message of the same room.
	Create(ctx context.Context, message *models.Message) error
	ListAfter(ctx context.Context, roomID string, after models.Cursor, limit int) ([]models.Message, error)
}
