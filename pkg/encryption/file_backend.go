// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
)

// fileKeySize is the master key size a key file must hold, hex encoded.
const fileKeySize = 32

// FileBackend wraps key material with AES-256-GCM under a master key read
// from a local file. The file holds the key as 64 hex digits, optionally
// followed by a single trailing newline.
type FileBackend struct {
	key []byte
}

// NewFileBackend loads the master key at path. A missing or unreadable file
// is an IO error; malformed content is a config error.
func NewFileBackend(path string) (*FileBackend, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ioErr(err)
	}
	raw = bytes.TrimSuffix(raw, []byte("\n"))
	if len(raw) != fileKeySize*2 {
		return nil, configErrf("master key file %s must contain %d hex digits, got %d bytes", path, fileKeySize*2, len(raw))
	}
	key, err := hex.DecodeString(string(raw))
	if err != nil {
		return nil, configErrf("master key file %s is not valid hex: %v", path, err)
	}
	return &FileBackend{key: key}, nil
}

func (b *FileBackend) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	ciphertext, err := EncryptContent(b.key, plaintext)
	if err != nil {
		return nil, otherErr(err)
	}
	return ciphertext, nil
}

func (b *FileBackend) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	plaintext, err := DecryptContent(b.key, ciphertext)
	if err != nil {
		return nil, otherErr(err)
	}
	return plaintext, nil
}

func (b *FileBackend) IsSecure() bool {
	return true
}

func (b *FileBackend) Close() error {
	return nil
}

var _ Backend = (*FileBackend)(nil)
