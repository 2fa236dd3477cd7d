// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FirelightWorks/emberfs/pkg/logger"
	"github.com/FirelightWorks/emberfs/pkg/storage/index"
)

// fileIndexDirName is the per-keyspace leveldb directory mapping data file
// names to their key id and IV.
const fileIndexDirName = "file_index"

// DataKeyManagerArgs carries the construction parameters derived from the
// encryption configuration.
type DataKeyManagerArgs struct {
	Method         EncryptionMethod
	RotationPeriod time.Duration
	DictPath       string
}

// FileInfo records how one data file is encrypted: which data key and IV,
// under which method. A zero KeyID with the plaintext method marks files
// written before encryption was enabled.
type FileInfo struct {
	KeyID  string
	Iv     []byte
	Method EncryptionMethod
}

// DataKeyInfo is the metadata view of a data key, safe to expose to admin
// tooling. It never carries key material.
type DataKeyInfo struct {
	ID           string
	Method       EncryptionMethod
	CreationTime time.Time
	Current      bool
}

// PreviousBackendFunc lazily constructs the previous-generation master key
// backend. It is invoked at most once, and only when the dictionary cannot
// be unwrapped with the current master key.
type PreviousBackendFunc func(ctx context.Context) (Backend, error)

// DataKeyManager owns the data keys of one keyspace: a wrapped dictionary of
// key material plus a per-file index binding data files to keys. All writes
// to the dictionary are serialized internally; managers of distinct
// keyspaces share nothing.
type DataKeyManager struct {
	keyspaceID uint32
	args       DataKeyManagerArgs
	master     Backend

	previous     PreviousBackendFunc
	previousOnce sync.Once
	previousB    Backend
	previousErr  error

	mu    sync.Mutex
	dict  *keyDictionary
	files index.Indexer[string, FileInfo]
}

// NewDataKeyManager opens the manager for one keyspace. It returns
// (nil, nil) when encryption was never enabled: plaintext data encryption
// method and no dictionary on disk. A dictionary left behind by an earlier
// encrypted run always opens, so files written back then stay readable after
// encryption is turned off.
func NewDataKeyManager(ctx context.Context, master Backend, previous PreviousBackendFunc, keyspaceID uint32, args DataKeyManagerArgs) (*DataKeyManager, error) {
	if args.Method == MethodPlaintext {
		if _, err := os.Stat(filepath.Join(args.DictPath, KeyDictFileName)); os.IsNotExist(err) {
			_ = master.Close()
			return nil, nil
		}
	}
	return newDataKeyManager(ctx, master, previous, keyspaceID, args)
}

// newDataKeyManager unconditionally opens a manager, creating the dictionary
// directory and an empty dictionary as needed.
func newDataKeyManager(ctx context.Context, master Backend, previous PreviousBackendFunc, keyspaceID uint32, args DataKeyManagerArgs) (*DataKeyManager, error) {
	if args.Method != MethodPlaintext && !master.IsSecure() {
		return nil, configErrf("data encryption method %q requires a secure master key", string(args.Method))
	}
	if args.RotationPeriod <= 0 {
		args.RotationPeriod = DefaultDataKeyRotationPeriod
	}
	if err := os.MkdirAll(args.DictPath, 0700); err != nil {
		return nil, ioErr(err)
	}

	m := &DataKeyManager{
		keyspaceID: keyspaceID,
		args:       args,
		master:     master,
		previous:   previous,
	}

	dict, exists, err := loadKeyDict(ctx, master, args.DictPath)
	if err != nil && exists {
		dict, err = m.recoverKeyDict(ctx, err)
	}
	if err != nil {
		m.closeBackends()
		return nil, err
	}
	if dict == nil {
		dict = newKeyDictionary()
		if err := saveKeyDict(ctx, master, args.DictPath, dict); err != nil {
			m.closeBackends()
			return nil, err
		}
	}
	m.dict = dict

	files, err := index.NewLevelDBIndexer[string, FileInfo](
		filepath.Join(args.DictPath, fileIndexDirName),
		nil,
		func(k string) []byte { return []byte(k) },
		func(b []byte) (string, error) { return string(b), nil },
	)
	if err != nil {
		m.closeBackends()
		return nil, ioErr(err)
	}
	m.files = files

	logger.Info().
		Uint32("keyspace_id", keyspaceID).
		Str("dict_path", args.DictPath).
		Str("method", string(args.Method)).
		Bool("secure", master.IsSecure()).
		Int("data_keys", len(dict.Keys)).
		Msg("Data key manager opened")
	return m, nil
}

// recoverKeyDict retries the dictionary under the previous master key after
// the current one failed with cause. On success the dictionary is rewritten
// under the current master key, completing the rotation. If the previous
// generation cannot decrypt it either, the original error stands.
func (m *DataKeyManager) recoverKeyDict(ctx context.Context, cause error) (*keyDictionary, error) {
	prev, err := m.previousBackend(ctx)
	if err != nil {
		return nil, cause
	}
	raw, err := os.ReadFile(filepath.Join(m.args.DictPath, KeyDictFileName))
	if err != nil {
		return nil, ioErr(err)
	}
	dict, err := decodeKeyDict(ctx, prev, raw)
	if err != nil {
		return nil, cause
	}
	if err := saveKeyDict(ctx, m.master, m.args.DictPath, dict); err != nil {
		return nil, err
	}
	logger.Info().
		Uint32("keyspace_id", m.keyspaceID).
		Msg("Key dictionary rewrapped under rotated master key")
	return dict, nil
}

// previousBackend resolves the previous master key backend at most once.
func (m *DataKeyManager) previousBackend(ctx context.Context) (Backend, error) {
	m.previousOnce.Do(func() {
		if m.previous == nil {
			m.previousErr = otherErr(errors.New("no previous master key configured"))
			return
		}
		m.previousB, m.previousErr = m.previous(ctx)
	})
	return m.previousB, m.previousErr
}

// NewFile registers a data file and returns its encryption parameters,
// rotating the current data key first when the rotation period has elapsed.
// With the plaintext method the file is not tracked.
func (m *DataKeyManager) NewFile(ctx context.Context, name string) (*FileInfo, error) {
	if m.args.Method == MethodPlaintext {
		return &FileInfo{Method: MethodPlaintext}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.maybeRotateKeyLocked(ctx); err != nil {
		return nil, err
	}
	iv, err := NewIV()
	if err != nil {
		return nil, otherErr(err)
	}
	info := FileInfo{
		KeyID:  m.dict.CurrentKeyID,
		Iv:     iv,
		Method: m.args.Method,
	}
	if err := m.files.PutSync(name, info); err != nil {
		return nil, ioErr(err)
	}
	return &info, nil
}

// GetFile returns the stored encryption parameters of a data file. Unknown
// files report the plaintext method: they predate encryption.
func (m *DataKeyManager) GetFile(name string) (*FileInfo, error) {
	info, err := m.files.Get(name)
	if errors.Is(err, index.ErrNotFound) {
		return &FileInfo{Method: MethodPlaintext}, nil
	}
	if err != nil {
		return nil, ioErr(err)
	}
	return &info, nil
}

// DeleteFile drops the key binding of a data file. Deleting an untracked
// file is not an error.
func (m *DataKeyManager) DeleteFile(name string) error {
	if err := m.files.DeleteSync(name); err != nil {
		return ioErr(err)
	}
	return nil
}

// LinkFile copies the key binding of src to dst, mirroring a hard link of
// the underlying data file. An untracked (plaintext) source needs no entry.
func (m *DataKeyManager) LinkFile(src, dst string) error {
	info, err := m.files.Get(src)
	if errors.Is(err, index.ErrNotFound) {
		return nil
	}
	if err != nil {
		return ioErr(err)
	}
	if err := m.files.PutSync(dst, info); err != nil {
		return ioErr(err)
	}
	return nil
}

// DataKey returns the key material for id so the engine can decrypt a file
// written under it.
func (m *DataKeyManager) DataKey(id string) (*DataKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.dict.Keys[id]
	if !ok {
		return nil, otherErr(errors.New("data key " + id + " not found"))
	}
	return key, nil
}

// KeyInfos lists the metadata of every data key, newest first.
func (m *DataKeyManager) KeyInfos() []DataKeyInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]DataKeyInfo, 0, len(m.dict.Keys))
	for _, key := range m.dict.Keys {
		infos = append(infos, DataKeyInfo{
			ID:           key.ID,
			Method:       key.Method,
			CreationTime: key.CreationTime,
			Current:      key.ID == m.dict.CurrentKeyID,
		})
	}
	sortKeyInfos(infos)
	return infos
}

func sortKeyInfos(infos []DataKeyInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreationTime.Equal(infos[j].CreationTime) {
			return infos[i].CreationTime.After(infos[j].CreationTime)
		}
		return infos[i].ID < infos[j].ID
	})
}

// maybeRotateKeyLocked mints a new current data key when there is none yet,
// the method changed, or the rotation period elapsed. The dictionary is
// persisted before the new key is used.
func (m *DataKeyManager) maybeRotateKeyLocked(ctx context.Context) error {
	current := m.dict.currentKey()
	if current != nil && current.Method == m.args.Method &&
		time.Since(current.CreationTime) < m.args.RotationPeriod {
		return nil
	}

	material, err := GenerateKey(m.args.Method)
	if err != nil {
		return err
	}
	key := &DataKey{
		ID:           uuid.NewString(),
		Key:          material,
		Method:       m.args.Method,
		CreationTime: time.Now().UTC(),
	}

	prevCurrent := m.dict.CurrentKeyID
	m.dict.Keys[key.ID] = key
	m.dict.CurrentKeyID = key.ID
	if err := saveKeyDict(ctx, m.master, m.args.DictPath, m.dict); err != nil {
		delete(m.dict.Keys, key.ID)
		m.dict.CurrentKeyID = prevCurrent
		return err
	}

	DataKeyRotations.Inc()
	logger.Info().
		Uint32("keyspace_id", m.keyspaceID).
		Str("key_id", key.ID).
		Str("method", string(key.Method)).
		Msg("Rotated data key")
	return nil
}

// KeyspaceID returns the keyspace this manager serves.
func (m *DataKeyManager) KeyspaceID() uint32 {
	return m.keyspaceID
}

// IsSecure reports whether the master key backend provides real protection.
func (m *DataKeyManager) IsSecure() bool {
	return m.master.IsSecure()
}

// DictPath returns the dictionary directory of this keyspace.
func (m *DataKeyManager) DictPath() string {
	return m.args.DictPath
}

func (m *DataKeyManager) closeBackends() {
	_ = m.master.Close()
	if m.previousB != nil {
		_ = m.previousB.Close()
	}
}

// Close releases the file index and the master key backends.
func (m *DataKeyManager) Close() error {
	var errs []error
	if m.files != nil {
		errs = append(errs, m.files.Close())
	}
	errs = append(errs, m.master.Close())
	if m.previousB != nil {
		errs = append(errs, m.previousB.Close())
	}
	return errors.Join(errs...)
}
