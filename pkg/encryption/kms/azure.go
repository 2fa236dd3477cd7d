// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package kms

import (
	"context"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
)

func init() {
	Register(VendorAzure, "Azure", newAzureProvider)
}

// azureProvider wraps data keys with an RSA key held in Azure Key Vault or
// Managed HSM. Key Vault has no server-side data key generation, so data
// keys are generated locally and wrapped via WrapKey.
type azureProvider struct {
	client  *azkeys.Client
	keyName string
}

func newAzureProvider(ctx context.Context, cfg Config) (Provider, error) {
	a := cfg.Azure
	if a == nil {
		return nil, fmt.Errorf("%w: azure sub-configuration required", ErrInvalidConfig)
	}
	if a.TenantID == "" || a.ClientID == "" {
		return nil, fmt.Errorf("%w: azure tenant id and client id required", ErrInvalidConfig)
	}
	vaultURL := a.KeyVaultURL
	if a.HsmURL != "" {
		vaultURL = a.HsmURL
	}
	if vaultURL == "" {
		return nil, fmt.Errorf("%w: azure keyvault url required", ErrInvalidConfig)
	}

	cred, err := azureCredential(a)
	if err != nil {
		return nil, err
	}

	client, err := azkeys.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Key Vault client: %w", err)
	}

	return &azureProvider{
		client:  client,
		keyName: cfg.KeyID,
	}, nil
}

func azureCredential(a *AzureConfig) (azcore.TokenCredential, error) {
	switch {
	case a.ClientSecret != "":
		cred, err := azidentity.NewClientSecretCredential(a.TenantID, a.ClientID, a.ClientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client secret credential: %w", err)
		}
		return cred, nil
	case a.ClientCertPath != "":
		data, err := os.ReadFile(a.ClientCertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read Azure client certificate: %w", err)
		}
		certs, key, err := azidentity.ParseCertificates(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Azure client certificate: %w", err)
		}
		cred, err := azidentity.NewClientCertificateCredential(a.TenantID, a.ClientID, certs, key, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client certificate credential: %w", err)
		}
		return cred, nil
	default:
		return nil, fmt.Errorf("%w: azure client secret or client certificate required", ErrInvalidConfig)
	}
}

func (p *azureProvider) Name() string {
	return VendorAzure
}

func (p *azureProvider) WrapKey(ctx context.Context, plaintext []byte) ([]byte, error) {
	params := azkeys.KeyOperationParameters{
		Algorithm: to.Ptr(azkeys.EncryptionAlgorithmRSAOAEP256),
		Value:     plaintext,
	}
	// Empty version selects the latest key version
	resp, err := p.client.WrapKey(ctx, p.keyName, "", params, nil)
	if err != nil {
		return nil, fmt.Errorf("Azure Key Vault wrap key failed: %w", err)
	}
	return resp.Result, nil
}

func (p *azureProvider) UnwrapKey(ctx context.Context, ciphertext []byte) ([]byte, error) {
	params := azkeys.KeyOperationParameters{
		Algorithm: to.Ptr(azkeys.EncryptionAlgorithmRSAOAEP256),
		Value:     ciphertext,
	}
	resp, err := p.client.UnwrapKey(ctx, p.keyName, "", params, nil)
	if err != nil {
		return nil, fmt.Errorf("Azure Key Vault unwrap key failed: %w", err)
	}
	return resp.Result, nil
}

// Close releases resources (no-op for Azure)
func (p *azureProvider) Close() error {
	return nil
}

var _ Provider = (*azureProvider)(nil)
