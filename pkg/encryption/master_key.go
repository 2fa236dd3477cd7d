// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"context"
	"errors"

	"github.com/FirelightWorks/emberfs/pkg/encryption/kms"
	"github.com/FirelightWorks/emberfs/pkg/logger"
)

// NewBackend resolves a master key configuration to a backend. Failures are
// logged here exactly once; callers propagate the error without re-logging.
func NewBackend(ctx context.Context, config *MasterKeyConfig) (Backend, error) {
	backend, err := newBackendInner(ctx, config)
	if err != nil {
		logger.Error().Err(err).Str("type", string(config.Type)).Msg("failed to access master key")
		return nil, err
	}
	return backend, nil
}

func newBackendInner(ctx context.Context, config *MasterKeyConfig) (Backend, error) {
	switch config.Type {
	case "", MasterKeyPlaintext:
		return PlaintextBackend{}, nil
	case MasterKeyFile:
		return NewFileBackend(config.Path)
	case MasterKeyKms:
		return NewCloudBackend(ctx, &config.Kms)
	default:
		return nil, configErrf("unknown master key type %q", string(config.Type))
	}
}

// NewCloudBackend constructs a backend from a cloud KMS configuration. The
// vendor name selects a registered provider; the empty name is an alias for
// aws. A vendor missing from the registry fails with a "provider not found"
// error rather than a compile-time branch at call sites.
func NewCloudBackend(ctx context.Context, config *kms.Config) (Backend, error) {
	logger.Info().
		Str("vendor", config.Vendor).
		Str("region", config.Region).
		Str("endpoint", config.Endpoint).
		Str("key_id", config.KeyID).
		Msg("Initializing cloud KMS backend")

	factory, display, err := kms.Lookup(config.Vendor)
	if err != nil {
		return nil, otherErr(err)
	}

	provider, err := factory(ctx, *config)
	if err != nil {
		if errors.Is(err, kms.ErrInvalidConfig) {
			return nil, configErr(err)
		}
		return nil, cloudErr("new "+display+" KMS", err)
	}
	return NewKmsBackend(provider, display), nil
}
