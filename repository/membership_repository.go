package repository

import (
	"context"

	"github.com/akinalp/gradehub/models"
)

// MembershipRepository stores (room, user) pairs with set semantics.
type MembershipRepository interface {
	// Add inserts the pair; pkg.ErrAlreadyMember if it already exists.
	Add(ctx context.Context, roomID, userID string) error
	// Remove deletes the pair; pkg.ErrNotAMember if it does not exist.
	Remove(ctx context.Context, roomID, userID string) error
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	// ListMembers returns the members of roomID, by name. Each user appears once.
	ListMembers(ctx context.Context, roomID string) ([]models.User, error)
	// ListCandidates returns the students of teacherID that are not members
	// of roomID, by name.
	ListCandidates(ctx context.Context, roomID, teacherID string) ([]models.User, error)
}
