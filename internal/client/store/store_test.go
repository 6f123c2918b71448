package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "client.yaml")

	s, err := Open(path)
	require.NoError(t, err)
	_, ok := s.Get("userId")
	assert.False(t, ok)

	require.NoError(t, s.Set("userId", "user_abc"))
	require.NoError(t, s.Set("session", `{"roomId":"ABC123"}`))

	s2, err := Open(path)
	require.NoError(t, err)
	v, ok := s2.Get("userId")
	require.True(t, ok)
	assert.Equal(t, "user_abc", v)
	v, ok = s2.Get("session")
	require.True(t, ok)
	assert.JSONEq(t, `{"roomId":"ABC123"}`, v)
}

func TestFileStore_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("b", "2"))

	require.NoError(t, s.Remove("a"))
	require.NoError(t, s.Remove("missing"))

	s2, err := Open(path)
	require.NoError(t, err)
	_, ok := s2.Get("a")
	assert.False(t, ok)
	v, _ := s2.Get("b")
	assert.Equal(t, "2", v)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: [unclosed"), 0o600))
	_, err := Open(path)
	assert.Error(t, err)
}

func TestMemory(t *testing.T) {
	var s Store = NewMemory()
	require.NoError(t, s.Set("UserID", "x"))
	v, ok := s.Get("userid")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
	require.NoError(t, s.Remove("userId"))
	_, ok = s.Get("userId")
	assert.False(t, ok)
}

func TestFileStore_FileIsPrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("userid: user_abc\n"), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("session", `{"apiKey":"k"}`))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}
