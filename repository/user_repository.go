// Package repository is the data access layer. Each store is an interface in
// xxx_repository.go with its SQLite implementation in sqlite_xxx.go; services
// depend only on the interfaces.
package repository

import (
	"context"

	"github.com/akinalp/gradehub/models"
)

// UserRepository mirrors identities issued by the auth service.
type UserRepository interface {
	// Upsert inserts the user or refreshes name, role and teacher link.
	Upsert(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	// ListStudentsByTeacher returns the students in teacherID's class, by name.
	ListStudentsByTeacher(ctx context.Context, teacherID string) ([]models.User, error)
}
