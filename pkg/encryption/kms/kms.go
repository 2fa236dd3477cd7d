// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package kms integrates external Key Management Services used to protect
// the master key of encryption-at-rest.
//
// Supported vendors:
// - AWS KMS
// - Azure Key Vault
// - HashiCorp Vault Transit
//
// Vendors register themselves in init(); resolution happens by name at
// runtime, so an unknown vendor is a lookup failure rather than a compile
// error.
package kms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Vendor names accepted in configuration.
const (
	VendorAws   = "aws"
	VendorAzure = "azure"
	VendorVault = "vault"
)

var (
	// ErrProviderNotFound is returned when no vendor is registered under the
	// requested name.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrInvalidConfig marks vendor configuration errors detected before any
	// network or SDK call.
	ErrInvalidConfig = errors.New("invalid KMS configuration")
)

// Provider is a handle to a vendor master key. The key itself never leaves
// the service; the provider only wraps and unwraps data keys with it.
type Provider interface {
	// Name returns the vendor name (aws, azure, vault)
	Name() string

	// WrapKey encrypts a data key under the vendor master key
	WrapKey(ctx context.Context, plaintext []byte) ([]byte, error)

	// UnwrapKey decrypts a wrapped data key under the vendor master key
	UnwrapKey(ctx context.Context, ciphertext []byte) ([]byte, error)

	// Close releases any resources held by the provider
	Close() error
}

// DataKeyGenerator is an optional interface for providers whose service can
// mint a wrapped data key server-side. Returns (plaintext key, wrapped key).
// Providers without it get a locally generated key wrapped via WrapKey.
type DataKeyGenerator interface {
	GenerateDataKey(ctx context.Context) ([]byte, []byte, error)
}

// Config holds configuration for a vendor master key.
type Config struct {
	// Vendor name: aws, azure, vault. Empty selects aws.
	Vendor string `json:"vendor" mapstructure:"vendor"`

	// KeyID names the master key within the vendor service
	KeyID string `json:"key_id" mapstructure:"key-id"`

	Region   string `json:"region,omitempty" mapstructure:"region"`
	Endpoint string `json:"endpoint,omitempty" mapstructure:"endpoint"`

	// Vendor sub-configurations
	Aws   *AwsConfig   `json:"aws,omitempty" mapstructure:"aws"`
	Azure *AzureConfig `json:"azure,omitempty" mapstructure:"azure"`
	Vault *VaultConfig `json:"vault,omitempty" mapstructure:"vault"`
}

// AwsConfig holds optional AWS credentials. When absent the SDK default
// chain (environment, shared config, instance profile) applies.
type AwsConfig struct {
	AccessKeyID     string `json:"access_key_id,omitempty" mapstructure:"access-key-id"`
	SecretAccessKey string `json:"secret_access_key,omitempty" mapstructure:"secret-access-key"`
	RoleARN         string `json:"role_arn,omitempty" mapstructure:"role-arn"` // For cross-account access
}

// AzureConfig holds Azure Key Vault configuration. Required for the azure
// vendor.
type AzureConfig struct {
	TenantID    string `json:"tenant_id" mapstructure:"tenant-id"`
	ClientID    string `json:"client_id" mapstructure:"client-id"`
	KeyVaultURL string `json:"keyvault_url" mapstructure:"keyvault-url"`

	// Exactly one credential source: client secret or client certificate
	ClientSecret   string `json:"client_secret,omitempty" mapstructure:"client-secret"`
	ClientCertPath string `json:"client_cert_path,omitempty" mapstructure:"client-cert-path"`

	// Managed HSM endpoint, used instead of KeyVaultURL when set
	HsmURL  string `json:"hsm_url,omitempty" mapstructure:"hsm-url"`
	HsmName string `json:"hsm_name,omitempty" mapstructure:"hsm-name"`
}

// VaultConfig holds HashiCorp Vault Transit configuration. Required for the
// vault vendor.
type VaultConfig struct {
	Address     string `json:"address" mapstructure:"address"`
	Token       string `json:"token,omitempty" mapstructure:"token"`           // or VAULT_TOKEN env
	MountPath   string `json:"mount_path,omitempty" mapstructure:"mount-path"` // default: transit
	Namespace   string `json:"namespace,omitempty" mapstructure:"namespace"`
	TLSCACert   string `json:"tls_ca_cert,omitempty" mapstructure:"tls-ca-cert"`
	TLSInsecure bool   `json:"tls_insecure,omitempty" mapstructure:"tls-insecure"`
}

// Factory constructs a Provider from configuration. Construction may block
// on the network; no timeout or retry is applied at this layer.
type Factory func(ctx context.Context, cfg Config) (Provider, error)

type vendorEntry struct {
	factory Factory
	display string
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]vendorEntry)
)

// Register installs a vendor factory under name. display is the label used
// in operation tags ("new AWS KMS"). Called from vendor init functions;
// duplicate registration is a programming error.
func Register(name, display string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if name == "" || factory == nil {
		panic("kms: Register with empty name or nil factory")
	}
	if _, dup := registry[name]; dup {
		panic("kms: Register called twice for vendor " + name)
	}
	registry[name] = vendorEntry{factory: factory, display: display}
}

// Lookup resolves a vendor name to its factory and display label. The empty
// name is an alias for aws, kept for configs that predate multi-vendor
// support.
func Lookup(name string) (Factory, string, error) {
	if name == "" {
		name = VendorAws
	}
	registryMu.RLock()
	entry, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("%w %q", ErrProviderNotFound, name)
	}
	return entry.factory, entry.display, nil
}

// Vendors returns the registered vendor names, sorted.
func Vendors() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
