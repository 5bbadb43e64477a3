package secrets_test

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/spectra-media/lead-bridge/internal/config"
	"github.com/spectra-media/lead-bridge/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKMS decrypts by reversing nothing: it maps known ciphertext blobs to
// plaintext.
type fakeKMS struct {
	plaintexts map[string]string
	err        error
}

func (f *fakeKMS) Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	plaintext, ok := f.plaintexts[string(in.CiphertextBlob)]
	if !ok {
		return nil, errors.New("unknown ciphertext")
	}
	return &kms.DecryptOutput{Plaintext: []byte(plaintext)}, nil
}

func TestNeedsResolution(t *testing.T) {
	assert.False(t, secrets.NeedsResolution(config.CRMConfig{ClientSecret: "plain"}))
	assert.True(t, secrets.NeedsResolution(config.CRMConfig{RefreshTokenCiphertext: "AAAA"}))
}

func TestResolveCRMCredentials(t *testing.T) {
	client := &fakeKMS{plaintexts: map[string]string{
		"secret-blob":  "decrypted-secret",
		"refresh-blob": "decrypted-refresh",
	}}

	cfg := config.CRMConfig{
		ClientSecret:           "stale-plaintext",
		ClientSecretCiphertext: base64.StdEncoding.EncodeToString([]byte("secret-blob")),
		RefreshTokenCiphertext: base64.StdEncoding.EncodeToString([]byte("refresh-blob")),
	}

	require.NoError(t, secrets.ResolveCRMCredentials(context.Background(), client, &cfg))

	assert.Equal(t, "decrypted-secret", cfg.ClientSecret, "ciphertext takes precedence over plaintext")
	assert.Equal(t, "decrypted-refresh", cfg.RefreshToken)
}

func TestResolveCRMCredentials_LeavesPlaintextAlone(t *testing.T) {
	cfg := config.CRMConfig{ClientSecret: "plain", RefreshToken: "plain-refresh"}

	require.NoError(t, secrets.ResolveCRMCredentials(context.Background(), &fakeKMS{}, &cfg))

	assert.Equal(t, "plain", cfg.ClientSecret)
	assert.Equal(t, "plain-refresh", cfg.RefreshToken)
}

func TestResolveCRMCredentials_Failures(t *testing.T) {
	t.Run("invalid base64", func(t *testing.T) {
		cfg := config.CRMConfig{ClientSecretCiphertext: "not base64!!"}
		err := secrets.ResolveCRMCredentials(context.Background(), &fakeKMS{}, &cfg)
		assert.ErrorContains(t, err, "base64")
	})

	t.Run("KMS failure", func(t *testing.T) {
		client := &fakeKMS{err: errors.New("access denied")}
		cfg := config.CRMConfig{
			RefreshTokenCiphertext: base64.StdEncoding.EncodeToString([]byte("blob")),
		}
		err := secrets.ResolveCRMCredentials(context.Background(), client, &cfg)
		assert.ErrorContains(t, err, "refresh token")
	})
}
