package repository

import (
	"context"
	"testing"
	"time"

	"im-sync/internal/model"
	"im-sync/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	ctx := context.Background()

	u := &model.User{Username: "alice", PasswordHash: "x"}
	require.NoError(t, repo.Create(ctx, u))
	assert.ErrorIs(t, repo.Create(ctx, &model.User{Username: "alice", PasswordHash: "y"}), errs.ErrConflictInvariant)

	got, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = repo.GetByID(ctx, 999)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	n, err := repo.CountExisting(ctx, []uint{u.ID, 999})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	seen := time.Now().Truncate(time.Second)
	require.NoError(t, repo.UpdatePresence(ctx, u.ID, "online", seen))
	got, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "online", got.Status)
}

func TestUpdateProfile(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	ctx := context.Background()

	u := &model.User{Username: "alice", PasswordHash: "x"}
	require.NoError(t, repo.Create(ctx, u))

	require.NoError(t, repo.UpdateProfile(ctx, u.ID, map[string]interface{}{"display_name": "Alice"}))
	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, "Alice", got.Name())

	assert.ErrorIs(t, repo.UpdateProfile(ctx, 999, map[string]interface{}{"display_name": "x"}), errs.ErrNotFound)
}
