// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FirelightWorks/emberfs/pkg/encryption/kms"
)

// fakeProvider wraps keys with a XOR cipher. Good enough to verify envelope
// plumbing without a cloud endpoint.
type fakeProvider struct {
	wrapCalls   atomic.Int64
	unwrapCalls atomic.Int64
	failUnwrap  bool
	closed      bool
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) WrapKey(_ context.Context, plaintext []byte) ([]byte, error) {
	p.wrapCalls.Add(1)
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ 0x42
	}
	return out, nil
}

func (p *fakeProvider) UnwrapKey(ctx context.Context, ciphertext []byte) ([]byte, error) {
	p.unwrapCalls.Add(1)
	if p.failUnwrap {
		return nil, errors.New("kms unavailable")
	}
	return p.WrapKey(ctx, ciphertext)
}

func (p *fakeProvider) Close() error {
	p.closed = true
	return nil
}

var _ kms.Provider = (*fakeProvider)(nil)

// fakeGeneratorProvider additionally mints data keys server-side.
type fakeGeneratorProvider struct {
	fakeProvider
	generateCalls atomic.Int64
}

func (p *fakeGeneratorProvider) GenerateDataKey(ctx context.Context) ([]byte, []byte, error) {
	p.generateCalls.Add(1)
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	wrapped, err := p.WrapKey(ctx, key)
	return key, wrapped, err
}

var _ kms.DataKeyGenerator = (*fakeGeneratorProvider)(nil)

func TestKmsBackend_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	provider := &fakeProvider{}
	backend := NewKmsBackend(provider, "Fake")
	defer backend.Close()

	assert.True(t, backend.IsSecure())

	plaintext := []byte("key dictionary body")
	ciphertext, err := backend.Encrypt(ctx, plaintext)
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "key dictionary body")
	assert.EqualValues(t, 1, provider.wrapCalls.Load())

	decrypted, err := backend.Decrypt(ctx, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestKmsBackend_UnwrapCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// Writer backend produces the envelope; a fresh reader backend must
	// unwrap once, then serve subsequent decrypts from the cached key.
	writer := NewKmsBackend(&fakeProvider{}, "Fake")
	defer writer.Close()
	ciphertext, err := writer.Encrypt(ctx, []byte("payload"))
	require.NoError(t, err)

	reader := &fakeProvider{}
	backend := NewKmsBackend(reader, "Fake")
	defer backend.Close()

	for i := 0; i < 3; i++ {
		out, err := backend.Decrypt(ctx, ciphertext)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), out)
	}
	assert.EqualValues(t, 1, reader.unwrapCalls.Load())
}

func TestKmsBackend_ServerSideDataKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	provider := &fakeGeneratorProvider{}
	backend := NewKmsBackend(provider, "Fake")
	defer backend.Close()

	ciphertext, err := backend.Encrypt(ctx, []byte("payload"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, provider.generateCalls.Load())

	out, err := backend.Decrypt(ctx, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), out)
}

func TestKmsBackend_UnwrapFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	writer := NewKmsBackend(&fakeProvider{}, "Fake")
	defer writer.Close()
	ciphertext, err := writer.Encrypt(ctx, []byte("payload"))
	require.NoError(t, err)

	backend := NewKmsBackend(&fakeProvider{failUnwrap: true}, "Fake")
	defer backend.Close()

	_, err = backend.Decrypt(ctx, ciphertext)
	require.Error(t, err)
	assert.True(t, IsCloudError(err))
	assert.Contains(t, err.Error(), "Fake unwrap key")
}

func TestKmsBackend_GarbageCiphertext(t *testing.T) {
	t.Parallel()

	backend := NewKmsBackend(&fakeProvider{}, "Fake")
	defer backend.Close()

	_, err := backend.Decrypt(context.Background(), []byte("not an envelope"))
	require.Error(t, err)
	assert.True(t, IsOtherError(err))
}

func TestKmsBackend_CloseClosesProvider(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	backend := NewKmsBackend(provider, "Fake")
	require.NoError(t, backend.Close())
	assert.True(t, provider.closed)
}
