// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// KeyDictFileName is the dictionary file kept in each keyspace directory,
// exported for admin tooling that reports on dictionaries in place.
const KeyDictFileName = "key.dict"

// DataKey is a symmetric key minted by a manager and used to encrypt data
// files. Key material only ever hits disk wrapped by the master key backend.
type DataKey struct {
	ID           string           `json:"id"`
	Key          []byte           `json:"key"`
	Method       EncryptionMethod `json:"method"`
	CreationTime time.Time        `json:"creation_time"`
}

// keyDictionary is the persisted key set of one keyspace. The JSON body is
// wrapped by the master key backend before it is written out.
type keyDictionary struct {
	CurrentKeyID string              `json:"current"`
	Keys         map[string]*DataKey `json:"keys"`
}

func newKeyDictionary() *keyDictionary {
	return &keyDictionary{Keys: make(map[string]*DataKey)}
}

// currentKey returns the active data key, or nil before the first rotation.
func (d *keyDictionary) currentKey() *DataKey {
	if d.CurrentKeyID == "" {
		return nil
	}
	return d.Keys[d.CurrentKeyID]
}

// loadKeyDict reads and unwraps the dictionary at dir with master. The bool
// reports whether a dictionary file existed at all. Unwrap and decode
// failures are both returned as the unwrap error so callers can fall back to
// the previous master key.
func loadKeyDict(ctx context.Context, master Backend, dir string) (*keyDictionary, bool, error) {
	raw, err := os.ReadFile(filepath.Join(dir, KeyDictFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, true, ioErr(err)
	}
	dict, err := decodeKeyDict(ctx, master, raw)
	if err != nil {
		return nil, true, err
	}
	return dict, true, nil
}

func decodeKeyDict(ctx context.Context, master Backend, raw []byte) (*keyDictionary, error) {
	plaintext, err := master.Decrypt(ctx, raw)
	if err != nil {
		return nil, err
	}
	var dict keyDictionary
	if err := json.Unmarshal(plaintext, &dict); err != nil {
		return nil, otherErr(err)
	}
	if dict.Keys == nil {
		dict.Keys = make(map[string]*DataKey)
	}
	return &dict, nil
}

// saveKeyDict wraps the dictionary with master and writes it to dir via
// tmp+rename so a crash never leaves a torn dictionary behind.
func saveKeyDict(ctx context.Context, master Backend, dir string, dict *keyDictionary) error {
	plaintext, err := json.Marshal(dict)
	if err != nil {
		return otherErr(err)
	}
	wrapped, err := master.Encrypt(ctx, plaintext)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(dir, KeyDictFileName), wrapped); err != nil {
		return ioErr(err)
	}
	return nil
}

// writeFileAtomic writes data to path through a temp file in the same
// directory, fsyncing both the file and the directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
