package data_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcovabio/annex/internal/data"
	"github.com/arcovabio/annex/internal/domain/model"
	apperrors "github.com/arcovabio/annex/internal/errors"
	"github.com/arcovabio/annex/internal/testutil"
)

func seedProfile(ctx context.Context, db *sql.DB, p *model.UserProfile) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, name, email, role) VALUES ($1, $2, $3, $4)`,
		p.UserID, p.Name, p.Email, string(p.Role),
	)
	return err
}

func TestProfileRepo_GetProfile(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := data.NewProfileRepo(db)

		profile := testutil.NewProfile().Build()
		require.NoError(t, seedProfile(ctx, db, profile))

		got, err := repo.GetProfile(ctx, profile.UserID)
		require.NoError(t, err)
		assert.Equal(t, profile.UserID, got.UserID)
		assert.Equal(t, profile.Name, got.Name)
		assert.Equal(t, profile.Email, got.Email)
		assert.Equal(t, model.RoleFreeUser, got.Role)
		assert.True(t, got.FreeTier())

		_, err = repo.GetProfile(ctx, "no-such-user")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestProfileRepo_UpdateProfile(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := data.NewProfileRepo(db)

		profile := testutil.NewProfile().Build()
		require.NoError(t, seedProfile(ctx, db, profile))

		premium := model.RolePremiumUser
		require.NoError(t, repo.UpdateProfile(ctx, profile.UserID, model.ProfileUpdate{Role: &premium}))

		got, err := repo.GetProfile(ctx, profile.UserID)
		require.NoError(t, err)
		assert.Equal(t, model.RolePremiumUser, got.Role)
		assert.False(t, got.FreeTier())

		// Partial update leaves the other fields alone.
		require.NoError(t, repo.UpdateProfile(ctx, profile.UserID, model.ProfileUpdate{
			Name: testutil.StringPtr("Renamed"),
		}))
		got, err = repo.GetProfile(ctx, profile.UserID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.Equal(t, profile.Email, got.Email)

		// Unknown roles never reach the database.
		bogus := model.UserRole("root")
		err = repo.UpdateProfile(ctx, profile.UserID, model.ProfileUpdate{Role: &bogus})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))

		err = repo.UpdateProfile(ctx, "no-such-user", model.ProfileUpdate{Role: &premium})
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}
