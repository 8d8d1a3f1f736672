package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/snapcase/internal/store"
	"github.com/thebtf/snapcase/pkg/models"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	st, err := store.New(store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func testSession(id string, createdAt time.Time) *models.CaptureSession {
	return &models.CaptureSession{
		SessionID: id,
		CaseID:    "case-1",
		SourceURL: "https://example.com/page",
		TabID:     "tab-1",
		BaseFrame: []byte("png"),
		CreatedAt: createdAt,
	}
}

func TestCreateAndGet(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, testSession("s1", time.Now())))

	got, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "case-1", got.CaseID)
	assert.Equal(t, "tab-1", got.TabID)
	assert.Equal(t, []byte("png"), got.BaseFrame)
}

func TestCreateRequiresSessionID(t *testing.T) {
	r := testRegistry(t)
	err := r.Create(context.Background(), testSession("", time.Now()))
	assert.Error(t, err)
}

func TestGetMissingSession(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestGetExpiredSessionIsGone(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()

	stale := testSession("s1", time.Now().Add(-models.SessionTimeout-time.Second))
	require.NoError(t, r.Create(ctx, stale))

	_, err := r.Get(ctx, "s1")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	// Expiry on read also removed the stored entry.
	sessions, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestDeleteIsIdempotent(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, testSession("s1", time.Now())))
	require.NoError(t, r.Delete(ctx, "s1"))
	require.NoError(t, r.Delete(ctx, "s1"))

	_, err := r.Get(ctx, "s1")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestSweepExpiresOnlyStaleSessions(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, r.Create(ctx, testSession("fresh", now)))
	require.NoError(t, r.Create(ctx, testSession("stale", now.Add(-models.SessionTimeout))))

	expired, err := r.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, expired)

	_, err = r.Get(ctx, "fresh")
	assert.NoError(t, err)
}

func TestSweepAtExactTimeout(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, r.Create(ctx, testSession("s1", now.Add(-models.SessionTimeout))))

	// The inactivity window is inclusive at the boundary.
	expired, err := r.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Len(t, expired, 1)
}
