package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndRestoreRoundTrip(t *testing.T) {
	store := t.TempDir()
	data := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(data, "Default"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(data, "Default", "Cookies"), []byte("cookie-db"), 0644))

	m, err := NewManager(store)
	require.NoError(t, err)

	assert.False(t, m.HasSaved())
	require.NoError(t, m.Save(data))
	assert.True(t, m.HasSaved())

	restored, err := m.Restore()
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(restored, "Default", "Cookies"))
	require.NoError(t, err)
	assert.Equal(t, "cookie-db", string(content))
}

func TestRestoreWithoutSave(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	_, err = m.Restore()
	assert.Error(t, err)
}
