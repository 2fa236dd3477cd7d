// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package kms

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"

	vault "github.com/hashicorp/vault/api"
)

func init() {
	Register(VendorVault, "Vault", newVaultProvider)
}

// vaultProvider wraps data keys with a HashiCorp Vault Transit key.
type vaultProvider struct {
	client    *vault.Client
	mountPath string
	keyName   string
}

func newVaultProvider(ctx context.Context, cfg Config) (Provider, error) {
	v := cfg.Vault
	if v == nil {
		return nil, fmt.Errorf("%w: vault sub-configuration required", ErrInvalidConfig)
	}
	if v.Address == "" {
		return nil, fmt.Errorf("%w: vault address required", ErrInvalidConfig)
	}

	mountPath := v.MountPath
	if mountPath == "" {
		mountPath = "transit"
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = v.Address

	// Configure TLS
	if v.TLSInsecure {
		vaultCfg.HttpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	} else if v.TLSCACert != "" {
		if err := vaultCfg.ConfigureTLS(&vault.TLSConfig{
			CACert: v.TLSCACert,
		}); err != nil {
			return nil, fmt.Errorf("failed to configure Vault TLS: %w", err)
		}
	}

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	// Set token (from config or environment)
	token := v.Token
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}
	if token != "" {
		client.SetToken(token)
	}

	// Set namespace if specified (Vault Enterprise)
	if v.Namespace != "" {
		client.SetNamespace(v.Namespace)
	}

	// Verify connection
	if _, err := client.Sys().HealthWithContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Vault: %w", err)
	}

	return &vaultProvider{
		client:    client,
		mountPath: mountPath,
		keyName:   cfg.KeyID,
	}, nil
}

func (p *vaultProvider) Name() string {
	return VendorVault
}

// transitPath returns the full path for a transit operation
func (p *vaultProvider) transitPath(op string) string {
	return fmt.Sprintf("%s/%s/%s", p.mountPath, op, p.keyName)
}

func (p *vaultProvider) WrapKey(ctx context.Context, plaintext []byte) ([]byte, error) {
	secret, err := p.client.Logical().WriteWithContext(ctx, p.transitPath("encrypt"), map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	})
	if err != nil {
		return nil, fmt.Errorf("Vault Transit encrypt failed: %w", err)
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, fmt.Errorf("Vault Transit encrypt: invalid response")
	}

	// Vault format: vault:v1:base64...
	return []byte(ciphertext), nil
}

func (p *vaultProvider) UnwrapKey(ctx context.Context, ciphertext []byte) ([]byte, error) {
	secret, err := p.client.Logical().WriteWithContext(ctx, p.transitPath("decrypt"), map[string]interface{}{
		"ciphertext": string(ciphertext),
	})
	if err != nil {
		return nil, fmt.Errorf("Vault Transit decrypt failed: %w", err)
	}

	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("Vault Transit decrypt: invalid response")
	}

	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("Vault Transit decrypt: failed to decode plaintext: %w", err)
	}

	return plaintext, nil
}

// GenerateDataKey asks Transit to mint a 256-bit data key wrapped by the
// transit key.
func (p *vaultProvider) GenerateDataKey(ctx context.Context) ([]byte, []byte, error) {
	secret, err := p.client.Logical().WriteWithContext(ctx, p.transitPath("datakey/plaintext"), map[string]interface{}{
		"bits": 256,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("Vault Transit generate data key failed: %w", err)
	}

	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, nil, fmt.Errorf("Vault Transit datakey: invalid plaintext response")
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, nil, fmt.Errorf("Vault Transit datakey: invalid ciphertext response")
	}

	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, nil, fmt.Errorf("Vault Transit datakey: failed to decode plaintext: %w", err)
	}

	return plaintext, []byte(ciphertext), nil
}

// Close releases resources (no-op for Vault)
func (p *vaultProvider) Close() error {
	return nil
}

// Ensure vaultProvider implements all interfaces
var (
	_ Provider         = (*vaultProvider)(nil)
	_ DataKeyGenerator = (*vaultProvider)(nil)
)
