package repository

import (
	"context"

	"github.com/akinalp/gradehub/models"
)

// DMRepository stores private message channels and their logs.
type DMRepository interface {
	// GetOrCreateChannel returns the channel of the sorted pair (user1ID <
	// user2ID), creating it on first use. Concurrent callers get the same row.
	GetOrCreateChannel(ctx context.Context, user1ID, user2ID string) (*models.DMChannel, error)
	GetChannelByID(ctx context.Context, id string) (*models.DMChannel, error)
	// ListChannels returns userID's channels with the other participant,
	// most recently active first.
	ListChannels(ctx context.Context, userID string) ([]models.DMChannelWithUser, error)
	// CreateMessage assigns CreatedAt strictly after the channel's newest
	// message and bumps the channel's last_message_at.
	CreateMessage(ctx context.Context, message *models.DMMessage) error
	ListMessagesAfter(ctx context.Context, channelID string, after models.Cursor, limit int) ([]models.DMMessage, error)
}
