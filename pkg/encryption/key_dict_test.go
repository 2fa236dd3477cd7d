// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDict(t *testing.T) *keyDictionary {
	t.Helper()
	dict := newKeyDictionary()
	dict.Keys["k1"] = &DataKey{
		ID:           "k1",
		Key:          newTestKey(t),
		Method:       MethodAes256Gcm,
		CreationTime: time.Now().UTC().Truncate(time.Second),
	}
	dict.CurrentKeyID = "k1"
	return dict
}

func TestKeyDict_SaveLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fileBackend, err := NewFileBackend(writeKeyFile(t, newTestKey(t)))
	require.NoError(t, err)

	backends := []struct {
		name   string
		master Backend
	}{
		{name: "plaintext", master: PlaintextBackend{}},
		{name: "file", master: fileBackend},
	}

	for _, tc := range backends {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			dict := testDict(t)
			require.NoError(t, saveKeyDict(ctx, tc.master, dir, dict))

			loaded, exists, err := loadKeyDict(ctx, tc.master, dir)
			require.NoError(t, err)
			assert.True(t, exists)
			require.NotNil(t, loaded)
			assert.Equal(t, dict.CurrentKeyID, loaded.CurrentKeyID)
			require.Empty(t, cmp.Diff(dict.Keys, loaded.Keys), "dictionary changed across save/load")
			assert.Equal(t, dict.Keys["k1"], loaded.currentKey())
		})
	}
}

func TestKeyDict_Missing(t *testing.T) {
	t.Parallel()

	dict, exists, err := loadKeyDict(context.Background(), PlaintextBackend{}, t.TempDir())
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Nil(t, dict)
}

func TestKeyDict_WrongMasterKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	writeMaster, err := NewFileBackend(writeKeyFile(t, newTestKey(t)))
	require.NoError(t, err)
	require.NoError(t, saveKeyDict(ctx, writeMaster, dir, testDict(t)))

	readMaster, err := NewFileBackend(writeKeyFile(t, newTestKey(t)))
	require.NoError(t, err)

	_, exists, err := loadKeyDict(ctx, readMaster, dir)
	require.Error(t, err)
	assert.True(t, exists)
}

func TestKeyDict_Corrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, KeyDictFileName), []byte("garbage"), 0600))

	_, exists, err := loadKeyDict(context.Background(), PlaintextBackend{}, dir)
	require.Error(t, err)
	assert.True(t, exists)
	assert.True(t, IsOtherError(err))
}

func TestKeyDict_FileMode(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}

	dir := t.TempDir()
	require.NoError(t, saveKeyDict(context.Background(), PlaintextBackend{}, dir, testDict(t)))

	info, err := os.Stat(filepath.Join(dir, KeyDictFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestKeyDict_SaveOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	first := testDict(t)
	require.NoError(t, saveKeyDict(ctx, PlaintextBackend{}, dir, first))

	second := testDict(t)
	second.Keys["k2"] = &DataKey{ID: "k2", Key: newTestKey(t), Method: MethodAes256Gcm, CreationTime: time.Now().UTC()}
	second.CurrentKeyID = "k2"
	require.NoError(t, saveKeyDict(ctx, PlaintextBackend{}, dir, second))

	loaded, _, err := loadKeyDict(ctx, PlaintextBackend{}, dir)
	require.NoError(t, err)
	assert.Equal(t, "k2", loaded.CurrentKeyID)
	assert.Len(t, loaded.Keys, 2)

	// No temp files may survive the rename dance.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KeyDictFileName, entries[0].Name())
}

func TestKeyDict_CurrentKeyEmpty(t *testing.T) {
	t.Parallel()

	dict := newKeyDictionary()
	assert.Nil(t, dict.currentKey())
}
