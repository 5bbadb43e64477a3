// Package secrets resolves KMS-encrypted credential material at startup, so
// the refresh token and client secret never have to sit in the environment
// in plaintext.
package secrets

import (
	"context"
	"encoding/base64"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/spectra-media/lead-bridge/internal/config"
)

// KMSClient defines the AWS API surface required for credential decryption.
type KMSClient interface {
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// NewKMSClient creates a KMS client from the ambient AWS configuration.
func NewKMSClient(ctx context.Context) (KMSClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not load AWS configuration: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

// NeedsResolution reports whether any credential was supplied as ciphertext.
func NeedsResolution(cfg config.CRMConfig) bool {
	return cfg.ClientSecretCiphertext != "" || cfg.RefreshTokenCiphertext != ""
}

// ResolveCRMCredentials decrypts ciphertext-supplied credentials in place.
// Ciphertext takes precedence over any plaintext value also present. A
// failure here is fatal at startup: the keeper must never run with
// unresolved credentials.
func ResolveCRMCredentials(ctx context.Context, client KMSClient, cfg *config.CRMConfig) error {
	if cfg.ClientSecretCiphertext != "" {
		plaintext, err := decrypt(ctx, client, cfg.ClientSecretCiphertext)
		if err != nil {
			return fmt.Errorf("could not decrypt client secret: %w", err)
		}
		cfg.ClientSecret = plaintext
	}

	if cfg.RefreshTokenCiphertext != "" {
		plaintext, err := decrypt(ctx, client, cfg.RefreshTokenCiphertext)
		if err != nil {
			return fmt.Errorf("could not decrypt refresh token: %w", err)
		}
		cfg.RefreshToken = plaintext
	}

	return nil
}

func decrypt(ctx context.Context, client KMSClient, encoded string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("ciphertext is not valid base64: %w", err)
	}

	out, err := client.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return "", fmt.Errorf("KMS decryption failed: %w", err)
	}

	return string(out.Plaintext), nil
}
