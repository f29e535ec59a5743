package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/akinalp/gradehub/database"
	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
)

type sqliteDMRepo struct {
	db *sql.DB
}

// NewSQLiteDMRepo returns the SQLite DMRepository. Like the notification repo
// it needs the pool, since CreateMessage opens a transaction.
func NewSQLiteDMRepo(db *sql.DB) DMRepository {
	return &sqliteDMRepo{db: db}
}

// GetOrCreateChannel inserts with ON CONFLICT DO NOTHING and reads the pair
// back, so a lost race returns the winner's row instead of an error.
func (r *sqliteDMRepo) GetOrCreateChannel(ctx context.Context, user1ID, user2ID string) (*models.DMChannel, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dm_channels (id, user1_id, user2_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user1_id, user2_id) DO NOTHING`,
		uuid.NewString(), user1ID, user2ID, toMillis(time.Now()),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: user", pkg.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to create dm channel: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, user1_id, user2_id, created_at, last_message_at
		FROM dm_channels
		WHERE user1_id = ? AND user2_id = ?`,
		user1ID, user2ID,
	)
	channel, err := scanDMChannel(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get dm channel by users: %w", err)
	}
	return channel, nil
}

func (r *sqliteDMRepo) GetChannelByID(ctx context.Context, id string) (*models.DMChannel, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user1_id, user2_id, created_at, last_message_at
		FROM dm_channels
		WHERE id = ?`, id)

	channel, err := scanDMChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: dm channel", pkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dm channel: %w", err)
	}
	return channel, nil
}

func (r *sqliteDMRepo) ListChannels(ctx context.Context, userID string) ([]models.DMChannelWithUser, error) {
	query := `
		SELECT c.id, c.created_at, c.last_message_at,
		       u.id, u.name, u.role, u.teacher_id, u.created_at
		FROM dm_channels c
		JOIN users u ON u.id = CASE WHEN c.user1_id = ? THEN c.user2_id ELSE c.user1_id END
		WHERE c.user1_id = ? OR c.user2_id = ?
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id`

	rows, err := r.db.QueryContext(ctx, query, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dm channels: %w", err)
	}
	defer rows.Close()

	channels := []models.DMChannelWithUser{}
	for rows.Next() {
		var (
			ch        models.DMChannelWithUser
			other     models.User
			teacherID sql.NullString
			createdAt int64
			lastAt    sql.NullInt64
			userAt    int64
		)
		if err := rows.Scan(&ch.ID, &createdAt, &lastAt,
			&other.ID, &other.Name, &other.Role, &teacherID, &userAt); err != nil {
			return nil, fmt.Errorf("failed to scan dm channel row: %w", err)
		}
		if teacherID.Valid {
			other.TeacherID = &teacherID.String
		}
		other.CreatedAt = fromMillis(userAt)
		ch.OtherUser = &other
		ch.CreatedAt = fromMillis(createdAt)
		ch.LastMessageAt = nullableMillis(lastAt)
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dm channel rows: %w", err)
	}
	return channels, nil
}

// CreateMessage runs the insert and the last_message_at bump in one
// transaction.
func (r *sqliteDMRepo) CreateMessage(ctx context.Context, message *models.DMMessage) error {
	return database.WithTx(ctx, r.db, func(q *sql.Tx) error {
		var createdAt int64
		err := q.QueryRowContext(ctx, `
			INSERT INTO dm_messages (id, dm_channel_id, sender_id, receiver_id, content, kind, created_at)
			VALUES (?, ?, ?, ?, ?, ?,
				MAX(?, COALESCE((SELECT MAX(created_at) + 1 FROM dm_messages WHERE dm_channel_id = ?), 0)))
			RETURNING created_at`,
			message.ID,
			message.DMChannelID,
			message.SenderID,
			message.ReceiverID,
			message.Content,
			message.Kind,
			toMillis(time.Now()),
			message.DMChannelID,
		).Scan(&createdAt)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: dm channel %s", pkg.ErrNotFound, message.DMChannelID)
			}
			return fmt.Errorf("failed to create dm message: %w", err)
		}

		if _, err := q.ExecContext(ctx,
			`UPDATE dm_channels SET last_message_at = ? WHERE id = ?`,
			createdAt, message.DMChannelID,
		); err != nil {
			return fmt.Errorf("failed to update dm channel last_message_at: %w", err)
		}

		message.CreatedAt = fromMillis(createdAt)
		return nil
	})
}

func (r *sqliteDMRepo) ListMessagesAfter(ctx context.Context, channelID string, after models.Cursor, limit int) ([]models.DMMessage, error) {
	query := `
		SELECT id, dm_channel_id, sender_id, receiver_id, content, kind, created_at
		FROM dm_messages
		WHERE dm_channel_id = ?
		  AND (created_at > ? OR (created_at = ? AND id > ?))
		ORDER BY created_at ASC, id ASC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, channelID, after.At, after.At, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dm messages: %w", err)
	}
	defer rows.Close()

	messages := []models.DMMessage{}
	for rows.Next() {
		var (
			msg       models.DMMessage
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.DMChannelID, &msg.SenderID, &msg.ReceiverID,
			&msg.Content, &msg.Kind, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan dm message row: %w", err)
		}
		msg.CreatedAt = fromMillis(createdAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dm message rows: %w", err)
	}
	return messages, nil
}

func scanDMChannel(row rowScanner) (*models.DMChannel, error) {
	var (
		ch        models.DMChannel
		createdAt int64
		lastAt    sql.NullInt64
	)
	if err := row.Scan(&ch.ID, &ch.User1ID, &ch.User2ID, &createdAt, &lastAt); err != nil {
		return nil, err
	}
	ch.CreatedAt = fromMillis(createdAt)
	ch.LastMessageAt = nullableMillis(lastAt)
	return &ch, nil
}

func nullableMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
