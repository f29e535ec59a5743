package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/akinalp/gradehub/database"
	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
)

type sqliteMessageRepo struct {
	db database.TxQuerier
}

// NewSQLiteMessageRepo returns the SQLite MessageRepository.
func NewSQLiteMessageRepo(db database.TxQuerier) MessageRepository {
	return &sqliteMessageRepo{db: db}
}

// Create computes the timestamp inside the INSERT: the wall clock, bumped to
// one past the room's newest message when the clock has not moved on. SQLite
// serializes writers, so the sub-select and the insert see the same log.
func (r *sqliteMessageRepo) Create(ctx context.Context, message *models.Message) error {
	query := `
		INSERT INTO messages (id, room_id, author_id, content, kind, created_at)
		VALUES (?, ?, ?, ?, ?,
			MAX(?, COALESCE((SELECT MAX(created_at) + 1 FROM messages WHERE room_id = ?), 0)))
		RETURNING created_at`

	var createdAt int64
	err := r.db.QueryRowContext(ctx, query,
		message.ID,
		message.RoomID,
		message.AuthorID,
		message.Content,
		message.Kind,
		toMillis(time.Now()),
		message.RoomID,
	).Scan(&createdAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: room %s", pkg.ErrNotFound, message.RoomID)
		}
		return fmt.Errorf("failed to create message: %w", err)
	}

	message.CreatedAt = fromMillis(createdAt)
	return nil
}

func (r *sqliteMessageRepo) ListAfter(ctx context.Context, roomID string, after models.Cursor, limit int) ([]models.Message, error) {
	query := `
		SELECT id, room_id, author_id, content, kind, created_at
		FROM messages
		WHERE room_id = ?
		  AND (created_at > ? OR (created_at = ? AND id > ?))
		ORDER BY created_at ASC, id ASC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, roomID, after.At, after.At, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var (
			msg       models.Message
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.AuthorID, &msg.Content, &msg.Kind, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.CreatedAt = fromMillis(createdAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}
