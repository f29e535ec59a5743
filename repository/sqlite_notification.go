package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/akinalp/gradehub/database"
	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
)

type sqliteNotificationRepo struct {
	db *sql.DB
}

// NewSQLiteNotificationRepo returns the SQLite NotificationRepository. It
// takes the pool rather than a TxQuerier because CreateBatch opens its own
// transaction.
func NewSQLiteNotificationRepo(db *sql.DB) NotificationRepository {
	return &sqliteNotificationRepo{db: db}
}

func (r *sqliteNotificationRepo) CreateBatch(ctx context.Context, notifications []models.Notification) ([]models.Notification, error) {
	if len(notifications) == 0 {
		return []models.Notification{}, nil
	}

	query := `
		INSERT INTO notifications (id, user_id, event_id, event_type, room_id, content, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (user_id, event_id) DO NOTHING`

	created := make([]models.Notification, 0, len(notifications))
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare notification insert: %w", err)
		}
		defer stmt.Close()

		for _, n := range notifications {
			if n.CreatedAt.IsZero() {
				n.CreatedAt = time.Now().UTC()
			}
			result, err := stmt.ExecContext(ctx,
				n.ID, n.UserID, n.EventID, n.EventType, n.RoomID, n.Content, toMillis(n.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("failed to insert notification for %s: %w", n.UserID, err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to check rows affected: %w", err)
			}
			if affected == 1 {
				n.IsRead = false
				n.ReadAt = nil
				n.CreatedAt = fromMillis(toMillis(n.CreatedAt))
				created = append(created, n)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *sqliteNotificationRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	query := `
		SELECT id, user_id, event_id, event_type, room_id, content, is_read, read_at, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		notifications = append(notifications, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification rows: %w", err)
	}
	return notifications, nil
}

func (r *sqliteNotificationRepo) UnreadIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM notifications WHERE user_id = ? AND is_read = 0`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread notifications: %w", err)
	}
	defer rows.Close()

	return collectIDs(rows)
}

func (r *sqliteNotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkAllRead is a single statement, so a notification inserted concurrently
// is either flipped by it or stays unread; it is never half-applied.
func (r *sqliteNotificationRepo) MarkAllRead(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE notifications
		SET is_read = 1, read_at = ?
		WHERE user_id = ? AND is_read = 0
		RETURNING id`,
		toMillis(time.Now()), userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	defer rows.Close()

	return collectIDs(rows)
}

func (r *sqliteNotificationRepo) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET is_read = 1, read_at = ?
		WHERE id = ? AND user_id = ? AND is_read = 0`,
		toMillis(time.Now()), id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM notifications WHERE id = ? AND user_id = ?)`, id, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check notification: %w", err)
	}
	if exists == 0 {
		return false, fmt.Errorf("%w: notification %s", pkg.ErrNotFound, id)
	}
	return false, nil
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n         models.Notification
		roomID    sql.NullString
		isRead    int
		readAt    sql.NullInt64
		createdAt int64
	)
	err := row.Scan(&n.ID, &n.UserID, &n.EventID, &n.EventType, &roomID, &n.Content, &isRead, &readAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkg.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if roomID.Valid {
		n.RoomID = &roomID.String
	}
	n.IsRead = isRead == 1
	if readAt.Valid {
		t := fromMillis(readAt.Int64)
		n.ReadAt = &t
	}
	n.CreatedAt = fromMillis(createdAt)
	return &n, nil
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating id rows: %w", err)
	}
	return ids, nil
}
