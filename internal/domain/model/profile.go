package model

import (
	"errors"
	"strings"
)

// UserRole represents the subscription tier of a user.
type UserRole string

const (
	// RoleFreeUser is the free tier; results are archived after the grace period.
	RoleFreeUser UserRole = "free_user"
	// RolePremiumUser is the paid tier; results stay in hot storage.
	RolePremiumUser UserRole = "premium_user"
)

// Valid returns true if the UserRole is a known tier.
func (r UserRole) Valid() bool {
	return r == RoleFreeUser || r == RolePremiumUser
}

// UserProfile is the subset of the user record the pipeline cares about.
type UserProfile struct {
	UserID string   `json:"user_id" db:"user_id"`
	Name   string   `json:"name"    db:"name"`
	Email  string   `json:"email"   db:"email"`
	Role   UserRole `json:"role"    db:"role"`
}

// FreeTier reports whether the user's results are subject to cold migration.
func (p *UserProfile) FreeTier() bool {
	return p.Role == RoleFreeUser
}

// ProfileUpdate carries a partial update to a user profile.
type ProfileUpdate struct {
	Name  *string
	Email *string
	Role  *UserRole
}

// Validate rejects updates that would write an unknown role.
func (u ProfileUpdate) Validate() error {
	if u.Role != nil && !u.Role.Valid() {
		return errors.New("invalid user role")
	}
	if u.Email != nil && !strings.Contains(*u.Email, "@") {
		return errors.New("invalid email")
	}
	return nil
}
