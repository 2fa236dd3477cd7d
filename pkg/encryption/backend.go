// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package encryption manages the master keys and data keys used to encrypt
// engine data files at rest.
//
// A master key backend (local key file or cloud KMS) wraps a per-keyspace
// data key dictionary; per-file data keys from that dictionary encrypt the
// actual data. Keyspaces are isolated: each one owns its dictionary
// directory and its own master key pair, aggregated into a KeyspaceRegistry
// at startup.
package encryption

import "context"

// Backend wraps and unwraps key material with a master key. Implementations
// either hold the key locally (file) or delegate to a cloud KMS.
type Backend interface {
	// Encrypt wraps plaintext under the master key
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)

	// Decrypt unwraps ciphertext produced by Encrypt
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)

	// IsSecure reports whether the backend provides real protection.
	// The plaintext backend returns false.
	IsSecure() bool

	// Close releases any resources held by the backend
	Close() error
}

// PlaintextBackend is the identity backend used when no master key is
// configured. Data keys pass through unprotected.
type PlaintextBackend struct{}

func (PlaintextBackend) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return plaintext, nil
}

func (PlaintextBackend) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}

func (PlaintextBackend) IsSecure() bool {
	return false
}

func (PlaintextBackend) Close() error {
	return nil
}

var _ Backend = PlaintextBackend{}
