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

type sqliteUserRepo struct {
	db database.TxQuerier
}

// NewSQLiteUserRepo returns the SQLite UserRepository.
func NewSQLiteUserRepo(db database.TxQuerier) UserRepository {
	return &sqliteUserRepo{db: db}
}

func (r *sqliteUserRepo) Upsert(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (id, name, role, teacher_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			teacher_id = excluded.teacher_id
		RETURNING created_at`

	var createdAt int64
	err := r.db.QueryRowContext(ctx, query,
		user.ID, user.Name, user.Role, user.TeacherID, toMillis(user.CreatedAt),
	).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	user.CreatedAt = fromMillis(createdAt)
	return nil
}

func (r *sqliteUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT id, name, role, teacher_id, created_at FROM users WHERE id = ?`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", pkg.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

func (r *sqliteUserRepo) ListStudentsByTeacher(ctx context.Context, teacherID string) ([]models.User, error) {
	query := `
		SELECT id, name, role, teacher_id, created_at
		FROM users
		WHERE role = 'student' AND teacher_id = ?
		ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query, teacherID)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user      models.User
		teacherID sql.NullString
		createdAt int64
	)
	if err := row.Scan(&user.ID, &user.Name, &user.Role, &teacherID, &createdAt); err != nil {
		return nil, err
	}
	if teacherID.Valid {
		user.TeacherID = &teacherID.String
	}
	user.CreatedAt = fromMillis(createdAt)
	return &user, nil
}

func collectUsers(rows *sql.Rows) ([]models.User, error) {
	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}
