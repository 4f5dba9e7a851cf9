package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "session.db")
	st, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, path
}

func TestLoadEmpty(t *testing.T) {
	st, _ := openStore(t)

	got, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, State{}, got)
}

func TestSaveAndReopen(t *testing.T) {
	ctx := context.Background()
	st, path := openStore(t)

	refreshed := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	want := State{
		LastRefresh:      &refreshed,
		ProfilePath:      "/data/profile",
		DriverActive:     true,
		SessionPreserved: true,
	}
	require.NoError(t, st.Save(ctx, want))
	require.NoError(t, st.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got.LastRefresh)
	assert.True(t, refreshed.Equal(*got.LastRefresh))
	assert.Equal(t, want.ProfilePath, got.ProfilePath)
	assert.True(t, got.DriverActive)
	assert.True(t, got.SessionPreserved)
}

func TestSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	st, _ := openStore(t)

	now := time.Now()
	require.NoError(t, st.Save(ctx, State{LastRefresh: &now, DriverActive: true}))
	require.NoError(t, st.Save(ctx, State{ProfilePath: "p"}))

	got, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got.LastRefresh)
	assert.False(t, got.DriverActive)
	assert.Equal(t, "p", got.ProfilePath)
}
