// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"errors"
	"io"
)

// ErrNotFound is returned by Get when the key has no entry.
var ErrNotFound = errors.New("index: key not found")

type Indexer[K comparable, V any] interface {
	io.Closer
	Put(key K, value V) error
	Get(key K) (V, error)
	Delete(key K) error
	Iterate(func(key K, value V) error) error

	// Destroy removes the underlying index storage
	Destroy() error

	// Sync forces buffered writes to disk
	Sync() error

	// PutSync writes with immediate fsync (slower but durable).
	// Use for entries whose loss would orphan encrypted data.
	PutSync(key K, value V) error

	// DeleteSync deletes with immediate fsync (slower but durable)
	DeleteSync(key K) error
}
