// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/FirelightWorks/emberfs/pkg/encryption/kms"
)

// kmsEnvelope is the serialized form a KmsBackend produces: the payload is
// encrypted locally under an envelope key, and only that key ever travels to
// the KMS for wrapping.
type kmsEnvelope struct {
	WrappedKey []byte `json:"wrapped_key"`
	Ciphertext []byte `json:"ciphertext"`
}

// KmsBackend adapts a cloud KMS provider to the Backend interface. The
// envelope key is created on first use and its wrapped form cached, so
// repeated decrypts under the same generation cost one unwrap call total.
type KmsBackend struct {
	provider kms.Provider
	display  string

	mu         sync.Mutex
	key        []byte // plaintext envelope key
	wrappedKey []byte // provider-wrapped envelope key
}

// NewKmsBackend wraps provider. display is the vendor label used in
// operation tags ("AWS", "Azure", "Vault").
func NewKmsBackend(provider kms.Provider, display string) *KmsBackend {
	return &KmsBackend{provider: provider, display: display}
}

func (b *KmsBackend) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureKeyLocked(ctx); err != nil {
		return nil, err
	}

	ciphertext, err := EncryptContent(b.key, plaintext)
	if err != nil {
		return nil, otherErr(err)
	}
	out, err := json.Marshal(kmsEnvelope{WrappedKey: b.wrappedKey, Ciphertext: ciphertext})
	if err != nil {
		return nil, otherErr(err)
	}
	return out, nil
}

func (b *KmsBackend) Decrypt(ctx context.Context, data []byte) ([]byte, error) {
	var envelope kmsEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, otherErr(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.key == nil || !bytes.Equal(envelope.WrappedKey, b.wrappedKey) {
		op := b.display + " unwrap key"
		start := time.Now()
		key, err := b.provider.UnwrapKey(ctx, envelope.WrappedKey)
		observeBackendOp(op, start, err)
		if err != nil {
			return nil, cloudErr(op, err)
		}
		b.key = key
		b.wrappedKey = envelope.WrappedKey
	}

	plaintext, err := DecryptContent(b.key, envelope.Ciphertext)
	if err != nil {
		return nil, otherErr(err)
	}
	return plaintext, nil
}

// ensureKeyLocked establishes the envelope key, preferring server-side data
// key generation when the provider supports it.
func (b *KmsBackend) ensureKeyLocked(ctx context.Context) error {
	if b.key != nil {
		return nil
	}

	if gen, ok := b.provider.(kms.DataKeyGenerator); ok {
		op := b.display + " generate data key"
		start := time.Now()
		key, wrapped, err := gen.GenerateDataKey(ctx)
		observeBackendOp(op, start, err)
		if err != nil {
			return cloudErr(op, err)
		}
		b.key, b.wrappedKey = key, wrapped
		return nil
	}

	key, err := GenerateKey(MethodAes256Gcm)
	if err != nil {
		return otherErr(err)
	}
	op := b.display + " wrap key"
	start := time.Now()
	wrapped, err := b.provider.WrapKey(ctx, key)
	observeBackendOp(op, start, err)
	if err != nil {
		return cloudErr(op, err)
	}
	b.key, b.wrappedKey = key, wrapped
	return nil
}

func (b *KmsBackend) IsSecure() bool {
	return true
}

func (b *KmsBackend) Close() error {
	return b.provider.Close()
}

var _ Backend = (*KmsBackend)(nil)
