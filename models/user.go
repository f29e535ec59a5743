// Package models defines the domain types shared by every layer: users, rooms,
// memberships, messages and notifications, plus the request bodies that create
// them.
//
// JSON tags shape both the REST responses and the websocket payloads.
package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the user's role on the platform.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// User is an identity as issued by the external auth service. The core only
// keeps what it needs for roster checks; profile fields live elsewhere.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	TeacherID *string   `json:"teacher_id,omitempty"` // students only: the teacher whose class they are in
	CreatedAt time.Time `json:"created_at"`
}

// IsTeacher reports whether the user holds the teacher role.
func (u *User) IsTeacher() bool {
	return u.Role == RoleTeacher
}

// TokenClaims is the payload of the access token minted by the auth service.
// The core verifies the signature and trusts the (user_id, role) pair as is.
type TokenClaims struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	TeacherID string `json:"teacher_id,omitempty"`
	jwt.RegisteredClaims
}

// ToUser converts verified claims into the identity the core stores.
func (c *TokenClaims) ToUser() *User {
	user := &User{
		ID:   c.UserID,
		Name: c.Name,
		Role: c.Role,
	}
	if c.TeacherID != "" {
		teacherID := c.TeacherID
		user.TeacherID = &teacherID
	}
	return user
}
