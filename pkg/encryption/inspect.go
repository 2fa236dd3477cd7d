// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/FirelightWorks/emberfs/pkg/storage/index"
)

// Inspection is a read-only view of one keyspace's encryption state, for
// admin tooling. Nothing is created or rewritten: a missing dictionary is an
// error, a dictionary wrapped under a rotated-away master key is reported
// rather than rewrapped, and the file index is opened read-only.
type Inspection struct {
	keyspaceID uint32
	dictPath   string
	secure     bool
	dict       *keyDictionary
	files      index.Indexer[string, FileInfo]
}

// Inspect opens the keyspace state rooted at dictPath with the master key
// from cfg. The master key backend is released before returning; the caller
// closes the inspection when done.
func Inspect(ctx context.Context, cfg *MasterKeyConfig, keyspaceID uint32, dictPath string) (*Inspection, error) {
	master, err := NewBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer master.Close()

	dict, exists, err := loadKeyDict(ctx, master, dictPath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ioErr(fmt.Errorf("no key dictionary at %s", dictPath))
	}

	files, err := index.NewLevelDBIndexer[string, FileInfo](
		filepath.Join(dictPath, fileIndexDirName),
		&opt.Options{ReadOnly: true, ErrorIfMissing: true},
		func(k string) []byte { return []byte(k) },
		func(b []byte) (string, error) { return string(b), nil },
	)
	if err != nil {
		return nil, ioErr(err)
	}

	return &Inspection{
		keyspaceID: keyspaceID,
		dictPath:   dictPath,
		secure:     master.IsSecure(),
		dict:       dict,
		files:      files,
	}, nil
}

// KeyspaceID returns the keyspace this inspection was opened for.
func (i *Inspection) KeyspaceID() uint32 {
	return i.keyspaceID
}

// IsSecure reports whether the master key that unwrapped the dictionary
// provides real protection.
func (i *Inspection) IsSecure() bool {
	return i.secure
}

// DictPath returns the inspected dictionary directory.
func (i *Inspection) DictPath() string {
	return i.dictPath
}

// KeyInfos lists the metadata of every data key, newest first. Key material
// is never exposed.
func (i *Inspection) KeyInfos() []DataKeyInfo {
	infos := make([]DataKeyInfo, 0, len(i.dict.Keys))
	for _, key := range i.dict.Keys {
		infos = append(infos, DataKeyInfo{
			ID:           key.ID,
			Method:       key.Method,
			CreationTime: key.CreationTime,
			Current:      key.ID == i.dict.CurrentKeyID,
		})
	}
	sortKeyInfos(infos)
	return infos
}

// File returns the stored encryption parameters of a data file. Unknown
// files report the plaintext method, same as the live manager.
func (i *Inspection) File(name string) (*FileInfo, error) {
	info, err := i.files.Get(name)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return &FileInfo{Method: MethodPlaintext}, nil
		}
		return nil, ioErr(err)
	}
	return &info, nil
}

// Close releases the file index.
func (i *Inspection) Close() error {
	return i.files.Close()
}
