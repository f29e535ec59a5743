package repository

import (
	"context"

	"github.com/akinalp/gradehub/models"
)

// RoomRepository stores rooms. Rooms are never re-owned or deleted here.
type RoomRepository interface {
	Create(ctx context.Context, room *models.Room) error
	GetByID(ctx context.Context, id string) (*models.Room, error)
	// ListForUser returns the rooms userID owns or belongs to, newest first.
	// An empty kind matches every kind.
	ListForUser(ctx context.Context, userID string, kind models.RoomKind) ([]models.Room, error)
}
