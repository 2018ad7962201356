package selfupdate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandoffLifecycle(t *testing.T) {
	store := NewHandoffStore(t.TempDir())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_, ok := store.Active()
	assert.False(t, ok)

	h, err := store.Begin("abc", "dockwarden:2", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, h.Generation)
	assert.Equal(t, now.Add(time.Minute), h.ExpiresAt)

	active, ok := store.Active()
	require.True(t, ok)
	assert.Equal(t, h.Generation, active.Generation)
	assert.Equal(t, "dockwarden:2", active.Image)

	now = now.Add(2 * time.Minute)
	_, ok = store.Active()
	assert.False(t, ok, "an expired handoff is no longer owned")

	_, ok = store.Current()
	assert.True(t, ok, "expired markers stay until cleared")
}

func TestHandoffClearChecksGeneration(t *testing.T) {
	store := NewHandoffStore(t.TempDir())

	first, err := store.Begin("abc", "dockwarden:2", time.Minute)
	require.NoError(t, err)
	second, err := store.Begin("abc", "dockwarden:3", time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, first.Generation, second.Generation)

	require.NoError(t, store.Clear(first.Generation))
	current, ok := store.Active()
	require.True(t, ok, "a stale worker does not clear a newer handoff")
	assert.Equal(t, second.Generation, current.Generation)

	require.NoError(t, store.Clear(second.Generation))
	_, ok = store.Current()
	assert.False(t, ok)

	assert.NoError(t, store.Clear(""), "clearing a missing marker is not an error")
}

func TestHandoffBeginLeavesOnlyMarker(t *testing.T) {
	dir := t.TempDir()
	store := NewHandoffStore(dir)

	for i := 0; i < 3; i++ {
		_, err := store.Begin("abc", "dockwarden:2", time.Minute)
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files stay behind")
	assert.Equal(t, handoffFile, entries[0].Name())

	info, err := os.Stat(filepath.Join(dir, handoffFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestHandoffBeginFailsWithoutDataDir(t *testing.T) {
	store := NewHandoffStore(filepath.Join(t.TempDir(), "missing"))

	_, err := store.Begin("abc", "dockwarden:2", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handoff yazılamadı")

	_, ok := store.Current()
	assert.False(t, ok)
}
