package repository

import (
	"context"

	"github.com/akinalp/gradehub/models"
)

// NotificationRepository stores per-user notifications.
//
// (user_id, event_id) is unique: CreateBatch silently skips targets that
// already hold a notification for the event and returns only the rows it
// created, which is what makes redelivery of an event idempotent.
type NotificationRepository interface {
	CreateBatch(ctx context.Context, notifications []models.Notification) ([]models.Notification, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	UnreadIDs(ctx context.Context, userID string) ([]string, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	// MarkAllRead flips every notification that is unread at the moment of
	// the call and returns the flipped ids.
	MarkAllRead(ctx context.Context, userID string) ([]string, error)
	// MarkRead flips one notification. It reports false if the notification
	// was already read; pkg.ErrNotFound if it does not belong to userID.
	MarkRead(ctx context.Context, userID, id string) (bool, error)
}
