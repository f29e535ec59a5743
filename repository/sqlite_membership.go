package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/akinalp/gradehub/database"
	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
)

type sqliteMembershipRepo struct {
	db database.TxQuerier
}

// NewSQLiteMembershipRepo returns the SQLite MembershipRepository.
func NewSQLiteMembershipRepo(db database.TxQuerier) MembershipRepository {
	return &sqliteMembershipRepo{db: db}
}

// Add relies on the (room_id, user_id) primary key: of two concurrent inserts
// exactly one wins and the other gets ErrAlreadyMember.
func (r *sqliteMembershipRepo) Add(ctx context.Context, roomID, userID string) error {
	query := `INSERT INTO room_members (room_id, user_id, added_at) VALUES (?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, query, roomID, userID, toMillis(time.Now())); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s in room %s", pkg.ErrAlreadyMember, userID, roomID)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: room %s or user %s", pkg.ErrNotFound, roomID, userID)
		}
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func (r *sqliteMembershipRepo) Remove(ctx context.Context, roomID, userID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM room_members WHERE room_id = ? AND user_id = ?`, roomID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s in room %s", pkg.ErrNotAMember, userID, roomID)
	}
	return nil
}

func (r *sqliteMembershipRepo) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?)`,
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists == 1, nil
}

func (r *sqliteMembershipRepo) ListMembers(ctx context.Context, roomID string) ([]models.User, error) {
	query := `
		SELECT u.id, u.name, u.role, u.teacher_id, u.created_at
		FROM room_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY u.name, u.id`

	rows, err := r.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

func (r *sqliteMembershipRepo) ListCandidates(ctx context.Context, roomID, teacherID string) ([]models.User, error) {
	query := `
		SELECT u.id, u.name, u.role, u.teacher_id, u.created_at
		FROM users u
		WHERE u.role = 'student' AND u.teacher_id = ?
		  AND NOT EXISTS (SELECT 1 FROM room_members m WHERE m.room_id = ? AND m.user_id = u.id)
		ORDER BY u.name, u.id`

	rows, err := r.db.QueryContext(ctx, query, teacherID, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}
