// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"errors"
	"sort"
)

// DefaultKeyspaceID is the implicit keyspace every deployment has, present
// in the registry whether or not keyspace keys are configured.
const DefaultKeyspaceID uint32 = 0

// KeyspaceRegistry maps keyspace ids to their data key managers. It is
// built once during provisioning and never mutated afterwards, so lookups
// need no locking. Managers are shared by pointer with the rest of the
// storage engine; whoever holds a reference keeps the manager alive.
type KeyspaceRegistry struct {
	managers map[uint32]*DataKeyManager
}

func newKeyspaceRegistry(managers map[uint32]*DataKeyManager) *KeyspaceRegistry {
	return &KeyspaceRegistry{managers: managers}
}

// Get returns the manager for a keyspace, or nil when the id was never
// provisioned. The registry never synthesizes managers: asking for an
// unknown id other than the default keyspace is a caller error.
func (r *KeyspaceRegistry) Get(id uint32) *DataKeyManager {
	return r.managers[id]
}

// Default returns the manager of the default keyspace (id 0), which is
// always present.
func (r *KeyspaceRegistry) Default() *DataKeyManager {
	return r.managers[DefaultKeyspaceID]
}

// Keyspaces returns the provisioned keyspace ids in ascending order.
func (r *KeyspaceRegistry) Keyspaces() []uint32 {
	ids := make([]uint32, 0, len(r.managers))
	for id := range r.managers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of provisioned keyspaces.
func (r *KeyspaceRegistry) Len() int {
	return len(r.managers)
}

// Close closes every manager in the registry.
func (r *KeyspaceRegistry) Close() error {
	var errs []error
	for _, m := range r.managers {
		errs = append(errs, m.Close())
	}
	return errors.Join(errs...)
}
