// ABOUTME: Tests for the memory and sqlite KV backends.
// ABOUTME: Absent keys are not errors; sqlite persists across reopen.

package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kvContract runs the behavior shared by every backend.
func kvContract(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "k", []byte("v1")))
	val, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), val)

	// Overwrite
	require.NoError(t, kv.Set(ctx, "k", []byte("v2")))
	val, ok, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), val)

	require.NoError(t, kv.Delete(ctx, "k"))
	_, ok, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is a no-op
	require.NoError(t, kv.Delete(ctx, "k"))
}

func TestMemoryKV(t *testing.T) {
	kv := NewMemory()
	defer kv.Close()
	kvContract(t, kv)
}

func TestMemoryKVCopiesValues(t *testing.T) {
	kv := NewMemory()
	defer kv.Close()
	ctx := context.Background()

	src := []byte("original")
	require.NoError(t, kv.Set(ctx, "k", src))
	src[0] = 'X'

	val, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("original"), val)
}

func TestSQLiteKV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	kv, err := NewSQLite(path, nil)
	require.NoError(t, err)
	defer kv.Close()
	kvContract(t, kv)
}

func TestSQLiteKVSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	kv, err := NewSQLite(path, nil)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "k", []byte("persisted")))
	require.NoError(t, kv.Close())

	kv2, err := NewSQLite(path, nil)
	require.NoError(t, err)
	defer kv2.Close()

	val, ok, err := kv2.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("persisted"), val)
}

func TestOpenDispatch(t *testing.T) {
	kv, err := Open(Options{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, kv)

	kv, err = Open(Options{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "c.db")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, kv)
	kv.Close()

	_, err = Open(Options{Backend: "bogus"}, nil)
	assert.Error(t, err)
}
