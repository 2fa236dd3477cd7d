// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileMaster(t *testing.T, keyPath string) Backend {
	t.Helper()
	backend, err := NewFileBackend(keyPath)
	require.NoError(t, err)
	return backend
}

func testManagerArgs(dictPath string) DataKeyManagerArgs {
	return DataKeyManagerArgs{
		Method:         MethodAes256Gcm,
		RotationPeriod: DefaultDataKeyRotationPeriod,
		DictPath:       dictPath,
	}
}

func TestNewDataKeyManager_Disabled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	args := testManagerArgs(dir)
	args.Method = MethodPlaintext

	m, err := NewDataKeyManager(context.Background(), PlaintextBackend{}, nil, 0, args)
	require.NoError(t, err)
	assert.Nil(t, m)

	// Disabled encryption must not leave a dictionary behind.
	assert.NoFileExists(t, filepath.Join(dir, KeyDictFileName))
}

func TestNewDataKeyManager_InsecureMaster(t *testing.T) {
	t.Parallel()

	_, err := NewDataKeyManager(context.Background(), PlaintextBackend{}, nil, 0, testManagerArgs(t.TempDir()))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "requires a secure master key")
}

func TestNewDataKeyManager_PlaintextKeepsExistingDict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	keyPath := writeKeyFile(t, newTestKey(t))

	m1, err := NewDataKeyManager(ctx, newFileMaster(t, keyPath), nil, 0, testManagerArgs(dir))
	require.NoError(t, err)
	require.NotNil(t, m1)
	info, err := m1.NewFile(ctx, "000001.sst")
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	// Turning encryption off later must still open the dictionary so the
	// files written under it stay readable.
	args := testManagerArgs(dir)
	args.Method = MethodPlaintext
	m2, err := NewDataKeyManager(ctx, newFileMaster(t, keyPath), nil, 0, args)
	require.NoError(t, err)
	require.NotNil(t, m2)
	defer m2.Close()

	key, err := m2.DataKey(info.KeyID)
	require.NoError(t, err)
	assert.Equal(t, MethodAes256Gcm, key.Method)

	// New files are written in the clear and untracked.
	newInfo, err := m2.NewFile(ctx, "000002.sst")
	require.NoError(t, err)
	assert.Equal(t, MethodPlaintext, newInfo.Method)
	assert.Empty(t, newInfo.KeyID)
}

func TestDataKeyManager_FileLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, err := NewDataKeyManager(ctx, newFileMaster(t, writeKeyFile(t, newTestKey(t))), nil, 0, testManagerArgs(t.TempDir()))
	require.NoError(t, err)
	require.NotNil(t, m)
	defer m.Close()

	assert.True(t, m.IsSecure())
	assert.EqualValues(t, 0, m.KeyspaceID())

	info, err := m.NewFile(ctx, "000001.sst")
	require.NoError(t, err)
	assert.NotEmpty(t, info.KeyID)
	assert.Len(t, info.Iv, IVSize)
	assert.Equal(t, MethodAes256Gcm, info.Method)

	got, err := m.GetFile("000001.sst")
	require.NoError(t, err)
	assert.Equal(t, info, got)

	key, err := m.DataKey(info.KeyID)
	require.NoError(t, err)
	assert.Len(t, key.Key, 32)

	// Unknown files predate encryption and read back as plaintext.
	unknown, err := m.GetFile("other.sst")
	require.NoError(t, err)
	assert.Equal(t, &FileInfo{Method: MethodPlaintext}, unknown)

	require.NoError(t, m.DeleteFile("000001.sst"))
	gone, err := m.GetFile("000001.sst")
	require.NoError(t, err)
	assert.Equal(t, MethodPlaintext, gone.Method)

	// Deleting an untracked file is a no-op.
	require.NoError(t, m.DeleteFile("never-seen.sst"))
}

func TestDataKeyManager_LinkFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, err := NewDataKeyManager(ctx, newFileMaster(t, writeKeyFile(t, newTestKey(t))), nil, 0, testManagerArgs(t.TempDir()))
	require.NoError(t, err)
	require.NotNil(t, m)
	defer m.Close()

	info, err := m.NewFile(ctx, "src.sst")
	require.NoError(t, err)

	require.NoError(t, m.LinkFile("src.sst", "dst.sst"))
	got, err := m.GetFile("dst.sst")
	require.NoError(t, err)
	assert.Equal(t, info, got)

	// Linking an untracked source needs no entry for the destination.
	require.NoError(t, m.LinkFile("absent.sst", "copy.sst"))
	got, err = m.GetFile("copy.sst")
	require.NoError(t, err)
	assert.Equal(t, MethodPlaintext, got.Method)
}

func TestDataKeyManager_ReopenPersists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	keyPath := writeKeyFile(t, newTestKey(t))

	m1, err := NewDataKeyManager(ctx, newFileMaster(t, keyPath), nil, 7, testManagerArgs(dir))
	require.NoError(t, err)
	info, err := m1.NewFile(ctx, "000001.sst")
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	m2, err := NewDataKeyManager(ctx, newFileMaster(t, keyPath), nil, 7, testManagerArgs(dir))
	require.NoError(t, err)
	defer m2.Close()

	assert.EqualValues(t, 7, m2.KeyspaceID())
	got, err := m2.GetFile("000001.sst")
	require.NoError(t, err)
	assert.Equal(t, info, got)

	key, err := m2.DataKey(info.KeyID)
	require.NoError(t, err)
	assert.Len(t, key.Key, 32)

	infos := m2.KeyInfos()
	require.Len(t, infos, 1)
	assert.Equal(t, info.KeyID, infos[0].ID)
	assert.True(t, infos[0].Current)
}

func TestDataKeyManager_RotationPeriodElapsed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	args := testManagerArgs(t.TempDir())
	args.RotationPeriod = time.Nanosecond

	m, err := NewDataKeyManager(ctx, newFileMaster(t, writeKeyFile(t, newTestKey(t))), nil, 0, args)
	require.NoError(t, err)
	require.NotNil(t, m)
	defer m.Close()

	first, err := m.NewFile(ctx, "000001.sst")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := m.NewFile(ctx, "000002.sst")
	require.NoError(t, err)
	assert.NotEqual(t, first.KeyID, second.KeyID)

	// Files written under the retired key must stay decryptable.
	for _, id := range []string{first.KeyID, second.KeyID} {
		_, err := m.DataKey(id)
		require.NoError(t, err)
	}

	infos := m.KeyInfos()
	require.Len(t, infos, 2)
	assert.Equal(t, second.KeyID, infos[0].ID)
	assert.True(t, infos[0].Current)
	assert.False(t, infos[1].Current)
}

func TestDataKeyManager_MethodChangeRotates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	keyPath := writeKeyFile(t, newTestKey(t))

	args := testManagerArgs(dir)
	args.Method = MethodAes128Gcm
	m1, err := NewDataKeyManager(ctx, newFileMaster(t, keyPath), nil, 0, args)
	require.NoError(t, err)
	old, err := m1.NewFile(ctx, "000001.sst")
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	m2, err := NewDataKeyManager(ctx, newFileMaster(t, keyPath), nil, 0, testManagerArgs(dir))
	require.NoError(t, err)
	defer m2.Close()

	fresh, err := m2.NewFile(ctx, "000002.sst")
	require.NoError(t, err)
	assert.NotEqual(t, old.KeyID, fresh.KeyID)
	assert.Equal(t, MethodAes256Gcm, fresh.Method)

	// The old key keeps its original method for reading back old files.
	oldKey, err := m2.DataKey(old.KeyID)
	require.NoError(t, err)
	assert.Equal(t, MethodAes128Gcm, oldKey.Method)
}

func TestDataKeyManager_DataKeyNotFound(t *testing.T) {
	t.Parallel()

	m, err := NewDataKeyManager(context.Background(), newFileMaster(t, writeKeyFile(t, newTestKey(t))), nil, 0, testManagerArgs(t.TempDir()))
	require.NoError(t, err)
	require.NotNil(t, m)
	defer m.Close()

	_, err = m.DataKey("00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	assert.True(t, IsOtherError(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestDataKeyManager_PreviousKeyNotResolvedOnCleanOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var calls atomic.Int64
	previous := func(ctx context.Context) (Backend, error) {
		calls.Add(1)
		return PlaintextBackend{}, nil
	}

	m, err := NewDataKeyManager(ctx, newFileMaster(t, writeKeyFile(t, newTestKey(t))), previous, 0, testManagerArgs(t.TempDir()))
	require.NoError(t, err)
	require.NotNil(t, m)

	_, err = m.NewFile(ctx, "000001.sst")
	require.NoError(t, err)
	require.NoError(t, m.Close())

	assert.EqualValues(t, 0, calls.Load())
}

func TestDataKeyManager_MasterKeyRotation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	oldKeyPath := writeKeyFile(t, newTestKey(t))
	newKeyPath := writeKeyFile(t, newTestKey(t))

	m1, err := NewDataKeyManager(ctx, newFileMaster(t, oldKeyPath), nil, 0, testManagerArgs(dir))
	require.NoError(t, err)
	info, err := m1.NewFile(ctx, "000001.sst")
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	// The dictionary was wrapped under the old key. Opening under the new
	// key must fall back to the previous backend, exactly once, and rewrap.
	var calls atomic.Int64
	previous := func(ctx context.Context) (Backend, error) {
		calls.Add(1)
		return NewFileBackend(oldKeyPath)
	}

	m2, err := NewDataKeyManager(ctx, newFileMaster(t, newKeyPath), previous, 0, testManagerArgs(dir))
	require.NoError(t, err)
	require.NotNil(t, m2)
	assert.EqualValues(t, 1, calls.Load())

	got, err := m2.GetFile("000001.sst")
	require.NoError(t, err)
	assert.Equal(t, info, got)
	_, err = m2.DataKey(info.KeyID)
	require.NoError(t, err)
	require.NoError(t, m2.Close())

	// Rewrapping completed the rotation: the next open succeeds under the
	// new key alone.
	failing := func(ctx context.Context) (Backend, error) {
		calls.Add(100)
		return nil, otherErr(assert.AnError)
	}
	m3, err := NewDataKeyManager(ctx, newFileMaster(t, newKeyPath), failing, 0, testManagerArgs(dir))
	require.NoError(t, err)
	require.NotNil(t, m3)
	assert.EqualValues(t, 1, calls.Load())
	require.NoError(t, m3.Close())
}

func TestDataKeyManager_MasterKeyRotationFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	oldKeyPath := writeKeyFile(t, newTestKey(t))
	newKeyPath := writeKeyFile(t, newTestKey(t))
	wrongKeyPath := writeKeyFile(t, newTestKey(t))

	m1, err := NewDataKeyManager(ctx, newFileMaster(t, oldKeyPath), nil, 0, testManagerArgs(dir))
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	tests := []struct {
		name     string
		previous PreviousBackendFunc
	}{
		{name: "no previous key", previous: nil},
		{
			name: "previous key fails to build",
			previous: func(ctx context.Context) (Backend, error) {
				return nil, cloudErr("unwrap", assert.AnError)
			},
		},
		{
			name: "previous key cannot decrypt either",
			previous: func(ctx context.Context) (Backend, error) {
				return NewFileBackend(wrongKeyPath)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDataKeyManager(ctx, newFileMaster(t, newKeyPath), tc.previous, 0, testManagerArgs(dir))
			require.Error(t, err)
			// The original unwrap failure is reported, not the fallback's.
			assert.True(t, IsOtherError(err))
		})
	}

	// The dictionary still opens under the key that wrote it.
	m2, err := NewDataKeyManager(ctx, newFileMaster(t, oldKeyPath), nil, 0, testManagerArgs(dir))
	require.NoError(t, err)
	require.NotNil(t, m2)
	require.NoError(t, m2.Close())
}
