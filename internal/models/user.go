package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents user role in the platform.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleFaculty   Role = "faculty"
	RoleStaff     Role = "staff"
	RoleAssistant Role = "assistant"
	RoleMember    Role = "member"
)

// ValidRole reports whether s is a known role.
func ValidRole(s string) bool {
	switch Role(s) {
	case RoleAdmin, RoleFaculty, RoleStaff, RoleAssistant, RoleMember:
		return true
	}
	return false
}

// HostEligible reports whether a role may control live activities.
// Admins and lab-affiliated roles (faculty, staff, assistants) qualify;
// regular members and anonymous connections do not.
func HostEligible(role string) bool {
	switch Role(role) {
	case RoleAdmin, RoleFaculty, RoleStaff, RoleAssistant:
		return true
	}
	return false
}

// User represents a platform user.
type User struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	Password   string    `json:"-"`
	FullName   string    `json:"full_name"`
	Role       Role      `json:"role"`
	Department string    `json:"department,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	Role       Role      `json:"role"`
	Department string    `json:"department,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:         u.ID,
		Email:      u.Email,
		FullName:   u.FullName,
		Role:       u.Role,
		Department: u.Department,
		CreatedAt:  u.CreatedAt,
	}
}
