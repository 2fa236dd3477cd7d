// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"errors"
	"time"

	"github.com/FirelightWorks/emberfs/pkg/encryption/kms"
)

// EncryptionMethod selects the cipher used for data files and for data keys
// at rest.
type EncryptionMethod string

const (
	MethodPlaintext EncryptionMethod = "plaintext"
	MethodAes128Gcm EncryptionMethod = "aes128-gcm"
	MethodAes192Gcm EncryptionMethod = "aes192-gcm"
	MethodAes256Gcm EncryptionMethod = "aes256-gcm"
)

// KeyLength returns the data key size in bytes for the method.
func (m EncryptionMethod) KeyLength() (int, error) {
	switch m {
	case MethodPlaintext:
		return 0, nil
	case MethodAes128Gcm:
		return 16, nil
	case MethodAes192Gcm:
		return 24, nil
	case MethodAes256Gcm:
		return 32, nil
	default:
		return 0, configErrf("unknown encryption method %q", string(m))
	}
}

// MasterKeyType tags the master key configuration variant.
type MasterKeyType string

const (
	MasterKeyPlaintext MasterKeyType = "plaintext"
	MasterKeyFile      MasterKeyType = "file"
	MasterKeyKms       MasterKeyType = "kms"
)

// MasterKeyConfig selects where the master key lives. The zero value is the
// plaintext variant.
type MasterKeyConfig struct {
	Type MasterKeyType `json:"type" mapstructure:"type"`

	// File variant: path to a local key file holding 64 hex digits
	Path string `json:"path,omitempty" mapstructure:"path"`

	// Kms variant
	Kms kms.Config `json:"kms,omitempty" mapstructure:"kms"`
}

// IsPlaintext reports whether the configuration names no real master key.
func (c *MasterKeyConfig) IsPlaintext() bool {
	return c.Type == "" || c.Type == MasterKeyPlaintext
}

// Validate checks the variant shape without resolving a backend.
func (c *MasterKeyConfig) Validate() error {
	switch c.Type {
	case "", MasterKeyPlaintext:
		return nil
	case MasterKeyFile:
		if c.Path == "" {
			return configErrf("master key file path is empty")
		}
		return nil
	case MasterKeyKms:
		if c.Kms.KeyID == "" {
			return configErr(errors.New("KMS key id can not be empty"))
		}
		return nil
	default:
		return configErrf("unknown master key type %q", string(c.Type))
	}
}

// KeyspaceKeyConfig binds a keyspace to its own master key pair.
type KeyspaceKeyConfig struct {
	KeyspaceID        uint32          `json:"keyspace_id" mapstructure:"keyspace-id"`
	MasterKey         MasterKeyConfig `json:"master_key" mapstructure:"master-key"`
	PreviousMasterKey MasterKeyConfig `json:"previous_master_key" mapstructure:"previous-master-key"`
}

// DefaultDataKeyRotationPeriod rotates data keys weekly.
const DefaultDataKeyRotationPeriod = 7 * 24 * time.Hour

// EncryptionConfig is the encryption-at-rest section of the engine
// configuration. Immutable once loaded.
type EncryptionConfig struct {
	Method                EncryptionMethod    `json:"data_encryption_method" mapstructure:"data-encryption-method"`
	DataKeyRotationPeriod time.Duration       `json:"data_key_rotation_period" mapstructure:"data-key-rotation-period"`
	MasterKey             MasterKeyConfig     `json:"master_key" mapstructure:"master-key"`
	PreviousMasterKey     MasterKeyConfig     `json:"previous_master_key" mapstructure:"previous-master-key"`
	KeyspaceKeys          []KeyspaceKeyConfig `json:"keyspace_keys,omitempty" mapstructure:"keyspace-keys"`
}

// DefaultConfig returns the encryption defaults: AES-256-GCM with weekly
// data key rotation and a plaintext master key (encryption effectively off
// until a real master key is configured).
func DefaultConfig() EncryptionConfig {
	return EncryptionConfig{
		Method:                MethodAes256Gcm,
		DataKeyRotationPeriod: DefaultDataKeyRotationPeriod,
		MasterKey:             MasterKeyConfig{Type: MasterKeyPlaintext},
		PreviousMasterKey:     MasterKeyConfig{Type: MasterKeyPlaintext},
	}
}

// Validate checks the whole section. Keyspace id 0 is the implicit default
// keyspace and cannot be configured explicitly.
func (c *EncryptionConfig) Validate() error {
	if _, err := c.Method.KeyLength(); err != nil {
		return err
	}
	if c.DataKeyRotationPeriod < 0 {
		return configErrf("data key rotation period must not be negative")
	}
	if err := c.MasterKey.Validate(); err != nil {
		return err
	}
	if err := c.PreviousMasterKey.Validate(); err != nil {
		return err
	}
	seen := make(map[uint32]struct{}, len(c.KeyspaceKeys))
	for _, ks := range c.KeyspaceKeys {
		if ks.KeyspaceID == 0 {
			return configErrf("keyspace id 0 is reserved for the default keyspace")
		}
		if _, dup := seen[ks.KeyspaceID]; dup {
			return configErrf("duplicate keyspace id %d", ks.KeyspaceID)
		}
		seen[ks.KeyspaceID] = struct{}{}
		if err := ks.MasterKey.Validate(); err != nil {
			return err
		}
		if err := ks.PreviousMasterKey.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ManagerArgs derives per-manager construction arguments rooted at dictPath.
func (c *EncryptionConfig) ManagerArgs(dictPath string) DataKeyManagerArgs {
	return DataKeyManagerArgs{
		Method:         c.Method,
		RotationPeriod: c.DataKeyRotationPeriod,
		DictPath:       dictPath,
	}
}
