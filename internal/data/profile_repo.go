package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/arcovabio/annex/internal/errors"

	"github.com/arcovabio/annex/internal/core"
	"github.com/arcovabio/annex/internal/domain/model"
)

// ProfileRepo provides Postgres-backed storage for user profiles.
type ProfileRepo struct {
	DB *sql.DB
}

var _ core.ProfileService = (*ProfileRepo)(nil)

// NewProfileRepo creates a ProfileRepo on the given connection.
func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{DB: db}
}

// GetProfile fetches a user profile by user id.
func (r *ProfileRepo) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.Validation("user id is required")
	}

	var p model.UserProfile
	err := r.DB.QueryRowContext(ctx,
		`SELECT user_id, name, email, role FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.Name, &p.Email, &p.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundf("profile %s not found", userID)
		}
		return nil, apperrors.MapDBError(fmt.Errorf("get profile: %w", err))
	}
	return &p, nil
}

// UpdateProfile merges the non-nil fields of upd into the profile.
func (r *ProfileRepo) UpdateProfile(ctx context.Context, userID string, upd model.ProfileUpdate) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.Validation("user id is required")
	}
	if err := upd.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid profile update")
	}

	var (
		set  []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, column+" = $"+strconv.Itoa(len(args)))
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Email != nil {
		add("email", *upd.Email)
	}
	if upd.Role != nil {
		add("role", string(*upd.Role))
	}
	if len(set) == 0 {
		return nil
	}

	args = append(args, userID)
	query := fmt.Sprintf(
		`UPDATE profiles SET %s, updated_at = now() WHERE user_id = $%d`,
		strings.Join(set, ", "), len(args),
	)

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("update profile: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update profile rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFoundf("profile %s not found", userID)
	}
	return nil
}
