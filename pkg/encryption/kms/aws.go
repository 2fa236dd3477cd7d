// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package kms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

func init() {
	Register(VendorAws, "AWS", newAwsProvider)
}

// awsProvider wraps data keys with a customer master key in AWS KMS.
type awsProvider struct {
	client *kms.Client
	keyID  string
}

func newAwsProvider(ctx context.Context, cfg Config) (Provider, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	// Use explicit credentials if provided
	if a := cfg.Aws; a != nil && a.AccessKeyID != "" && a.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				a.AccessKeyID,
				a.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Assume role if specified
	if a := cfg.Aws; a != nil && a.RoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		creds := stscreds.NewAssumeRoleProvider(stsClient, a.RoleARN)
		awsCfg.Credentials = aws.NewCredentialsCache(creds)
	}

	// Custom endpoint (for LocalStack/testing)
	var kmsOpts []func(*kms.Options)
	if cfg.Endpoint != "" {
		kmsOpts = append(kmsOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &awsProvider{
		client: kms.NewFromConfig(awsCfg, kmsOpts...),
		keyID:  cfg.KeyID,
	}, nil
}

func (p *awsProvider) Name() string {
	return VendorAws
}

func (p *awsProvider) WrapKey(ctx context.Context, plaintext []byte) ([]byte, error) {
	output, err := p.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(p.keyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS encrypt failed: %w", err)
	}
	return output.CiphertextBlob, nil
}

func (p *awsProvider) UnwrapKey(ctx context.Context, ciphertext []byte) ([]byte, error) {
	output, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(p.keyID),
		CiphertextBlob: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS decrypt failed: %w", err)
	}
	return output.Plaintext, nil
}

// GenerateDataKey asks AWS KMS to mint a 256-bit data key wrapped by the
// master key.
func (p *awsProvider) GenerateDataKey(ctx context.Context) ([]byte, []byte, error) {
	output, err := p.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(p.keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("AWS KMS generate data key failed: %w", err)
	}
	return output.Plaintext, output.CiphertextBlob, nil
}

// Close releases resources (no-op for AWS)
func (p *awsProvider) Close() error {
	return nil
}

// Ensure awsProvider implements all interfaces
var (
	_ Provider         = (*awsProvider)(nil)
	_ DataKeyGenerator = (*awsProvider)(nil)
)
