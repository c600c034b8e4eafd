package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/database/dbtest"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/repo"
)

func TestCanAccess(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	users := repo.NewUserRepo(db)
	canvases := repo.NewCanvasRepo(db)

	owner := &model.User{Email: "owner@example.com"}
	collab := &model.User{Email: "collab@example.com"}
	stranger := &model.User{Email: "stranger@example.com"}
	for _, u := range []*model.User{owner, collab, stranger} {
		require.NoError(t, users.Create(ctx, u))
	}

	id, err := canvases.Create(ctx, owner.ID)
	require.NoError(t, err)
	require.NoError(t, canvases.AddCollaborator(ctx, id, collab.ID))

	gate := NewAccessService(canvases)
	assert.NoError(t, gate.CanAccess(ctx, id, owner.ID))
	assert.NoError(t, gate.CanAccess(ctx, id, collab.ID))
	assert.ErrorIs(t, gate.CanAccess(ctx, id, stranger.ID), model.ErrUnauthorized)
	assert.ErrorIs(t, gate.CanAccess(ctx, id, 0), model.ErrUnauthorized)
	assert.ErrorIs(t, gate.CanAccess(ctx, uuid.New(), owner.ID), model.ErrNotFound)

	m, err := gate.Membership(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, m.OwnerID)
}

func TestCanAccessReevaluatesAfterRevoke(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	users := repo.NewUserRepo(db)
	canvases := repo.NewCanvasRepo(db)

	owner := &model.User{Email: "owner@example.com"}
	collab := &model.User{Email: "collab@example.com"}
	require.NoError(t, users.Create(ctx, owner))
	require.NoError(t, users.Create(ctx, collab))

	id, err := canvases.Create(ctx, owner.ID)
	require.NoError(t, err)
	require.NoError(t, canvases.AddCollaborator(ctx, id, collab.ID))

	gate := NewAccessService(canvases)
	require.NoError(t, gate.CanAccess(ctx, id, collab.ID))

	require.NoError(t, canvases.RemoveCollaborator(ctx, id, collab.ID))
	assert.ErrorIs(t, gate.CanAccess(ctx, id, collab.ID), model.ErrUnauthorized)
}
