// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/FirelightWorks/emberfs/pkg/logger"
)

// NewDataKeyManagerFromConfig builds the single data key manager of a
// deployment without keyspaces, rooted directly at dictPath with the default
// keyspace id. It returns (nil, nil) when encryption is disabled.
func NewDataKeyManagerFromConfig(ctx context.Context, cfg *EncryptionConfig, dictPath string) (*DataKeyManager, error) {
	logger.Info().Str("dict_path", dictPath).Msg("Loading data key manager")

	master, err := NewBackend(ctx, &cfg.MasterKey)
	if err != nil {
		ProvisionFailures.WithLabelValues("master_key").Inc()
		return nil, err
	}
	return NewDataKeyManager(ctx, master, previousBackendFunc(cfg.PreviousMasterKey), DefaultKeyspaceID, cfg.ManagerArgs(dictPath))
}

// NewKeyspaceRegistryFromConfig provisions one data key manager per
// configured keyspace plus the implicit default keyspace, each rooted at
// {dictPath}/{keyspace id}, and aggregates them into a registry.
//
// Any key resolution or manager failure aborts the whole operation:
// already-built managers are closed and no partial registry is returned.
// When encryption is disabled the result is (nil, nil) and no keyspace
// managers are built.
func NewKeyspaceRegistryFromConfig(ctx context.Context, cfg *EncryptionConfig, dictPath string) (*KeyspaceRegistry, error) {
	logger.Info().
		Str("dict_path", dictPath).
		Int("keyspace_keys", len(cfg.KeyspaceKeys)).
		Msg("Loading keyspace data key managers")

	master, err := NewBackend(ctx, &cfg.MasterKey)
	if err != nil {
		ProvisionFailures.WithLabelValues("master_key").Inc()
		return nil, err
	}

	defaultDir, err := keyspaceDir(dictPath, DefaultKeyspaceID)
	if err != nil {
		_ = master.Close()
		ProvisionFailures.WithLabelValues("mkdir").Inc()
		return nil, err
	}
	defaultManager, err := NewDataKeyManager(ctx, master, previousBackendFunc(cfg.PreviousMasterKey), DefaultKeyspaceID, cfg.ManagerArgs(defaultDir))
	if err != nil {
		ProvisionFailures.WithLabelValues("manager").Inc()
		return nil, err
	}
	if defaultManager == nil {
		logger.Info().Msg("Encryption is disabled; no keyspace managers built")
		return nil, nil
	}

	managers := map[uint32]*DataKeyManager{DefaultKeyspaceID: defaultManager}
	abort := func() {
		for _, m := range managers {
			_ = m.Close()
		}
	}

	for _, ks := range cfg.KeyspaceKeys {
		backend, err := NewBackend(ctx, &ks.MasterKey)
		if err != nil {
			abort()
			ProvisionFailures.WithLabelValues("master_key").Inc()
			return nil, err
		}
		dir, err := keyspaceDir(dictPath, ks.KeyspaceID)
		if err != nil {
			_ = backend.Close()
			abort()
			ProvisionFailures.WithLabelValues("mkdir").Inc()
			return nil, err
		}
		manager, err := newDataKeyManager(ctx, backend, previousBackendFunc(ks.PreviousMasterKey), ks.KeyspaceID, cfg.ManagerArgs(dir))
		if err != nil {
			abort()
			ProvisionFailures.WithLabelValues("manager").Inc()
			return nil, err
		}
		managers[ks.KeyspaceID] = manager
	}

	KeyspaceManagers.Set(float64(len(managers)))
	logger.Info().Int("keyspaces", len(managers)).Msg("Keyspace data key managers loaded")
	return newKeyspaceRegistry(managers), nil
}

// previousBackendFunc defers resolution of a previous master key: only the
// closure is stored, and any error surfaces when (and only when) a
// rotation-era unwrap first needs the backend.
func previousBackendFunc(cfg MasterKeyConfig) PreviousBackendFunc {
	return func(ctx context.Context) (Backend, error) {
		return NewBackend(ctx, &cfg)
	}
}

// keyspaceDir creates {base}/{id} if needed. A pre-existing directory is
// not an error.
func keyspaceDir(base string, id uint32) (string, error) {
	dir := filepath.Join(base, strconv.FormatUint(uint64(id), 10))
	logger.Info().Str("dir", dir).Msg("Creating keyspace directory if needed")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", ioErr(err)
	}
	return dir, nil
}
