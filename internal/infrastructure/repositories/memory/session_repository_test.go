package memory

import (
	"context"
	"testing"
	"time"

	"camlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(id, owner string) *domain.Session {
	now := time.Now()
	return &domain.Session{
		ID:            domain.SessionID(id),
		Name:          "Red_Eagle_123",
		Owner:         domain.EndpointID(owner),
		StartedAt:     now,
		LastHeartbeat: now,
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSession("abc123def456", "ep-1")))

	got, err := repo.GetByID(ctx, "abc123def456")
	require.NoError(t, err)
	assert.Equal(t, "Red_Eagle_123", got.Name)

	byOwner, err := repo.GetByOwner(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, got.ID, byOwner.ID)
}

func TestCreate_DuplicateOwnerRejected(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSession("aaaaaaaaaaaa", "ep-1")))
	err := repo.Create(ctx, newSession("bbbbbbbbbbbb", "ep-1"))
	assert.ErrorIs(t, err, domain.ErrAlreadyBroadcasting)
}

func TestGet_NotFound(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = repo.GetByOwner(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestUpdate(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	sess := newSession("abc123def456", "ep-1")
	require.NoError(t, repo.Create(ctx, sess))

	sess.ViewerCount = 3
	require.NoError(t, repo.Update(ctx, sess))

	got, err := repo.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ViewerCount)
}

func TestDelete_ReleasesOwner(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSession("abc123def456", "ep-1")))
	require.NoError(t, repo.Delete(ctx, "abc123def456"))

	_, err := repo.GetByID(ctx, "abc123def456")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// Owner can start a new broadcast after deletion
	assert.NoError(t, repo.Create(ctx, newSession("bbbbbbbbbbbb", "ep-1")))
}

func TestReturnsCopies(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSession("abc123def456", "ep-1")))

	got, err := repo.GetByID(ctx, "abc123def456")
	require.NoError(t, err)
	got.ViewerCount = 99

	again, err := repo.GetByID(ctx, "abc123def456")
	require.NoError(t, err)
	assert.Equal(t, 0, again.ViewerCount)
}

func TestListActive(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSession("aaaaaaaaaaaa", "ep-1")))
	require.NoError(t, repo.Create(ctx, newSession("bbbbbbbbbbbb", "ep-2")))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}
