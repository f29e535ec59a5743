package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/akinalp/gradehub/database"
	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
)

type sqliteRoomRepo struct {
	db database.TxQuerier
}

// NewSQLiteRoomRepo returns the SQLite RoomRepository.
func NewSQLiteRoomRepo(db database.TxQuerier) RoomRepository {
	return &sqliteRoomRepo{db: db}
}

func (r *sqliteRoomRepo) Create(ctx context.Context, room *models.Room) error {
	query := `INSERT INTO rooms (id, kind, owner_id, name, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		room.ID, room.Kind, room.OwnerID, room.Name, toMillis(room.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: room %s", pkg.ErrAlreadyExists, room.ID)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: owner %s", pkg.ErrNotFound, room.OwnerID)
		}
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

func (r *sqliteRoomRepo) GetByID(ctx context.Context, id string) (*models.Room, error) {
	query := `SELECT id, kind, owner_id, name, created_at FROM rooms WHERE id = ?`

	room, err := scanRoom(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: room %s", pkg.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room by id: %w", err)
	}
	return room, nil
}

func (r *sqliteRoomRepo) ListForUser(ctx context.Context, userID string, kind models.RoomKind) ([]models.Room, error) {
	query := `
		SELECT r.id, r.kind, r.owner_id, r.name, r.created_at
		FROM rooms r
		WHERE (r.owner_id = ?
		       OR EXISTS (SELECT 1 FROM room_members m WHERE m.room_id = r.id AND m.user_id = ?))
		  AND (? = '' OR r.kind = ?)
		ORDER BY r.created_at DESC, r.id DESC`

	rows, err := r.db.QueryContext(ctx, query, userID, userID, kind, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	rooms := []models.Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		rooms = append(rooms, *room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room rows: %w", err)
	}
	return rooms, nil
}

func scanRoom(row rowScanner) (*models.Room, error) {
	var (
		room      models.Room
		createdAt int64
	)
	if err := row.Scan(&room.ID, &room.Kind, &room.OwnerID, &room.Name, &createdAt); err != nil {
		return nil, err
	}
	room.CreatedAt = fromMillis(createdAt)
	return &room, nil
}
