package testhelpers

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// GenerateSigningKey generates an RSA 2048-bit signing key wrapped as a JWK.
func GenerateSigningKey(t *testing.T) jose.JSONWebKey {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate private key")

	return jose.JSONWebKey{
		Key:       privateKey,
		KeyID:     "test-kid",
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}
}

// StaticJWKS renders the public half of key as a JWKS document, suitable for
// static verification configuration.
func StaticJWKS(t *testing.T, key jose.JSONWebKey) string {
	t.Helper()

	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{key.Public()}}
	jsonBytes, err := json.Marshal(set)
	require.NoError(t, err, "failed to marshal JWKS")

	return string(jsonBytes)
}

// SetupJWKSServer creates a mock OIDC provider serving discovery metadata and
// the public key set. The caller must close the returned server.
func SetupJWKSServer(t *testing.T, key jose.JSONWebKey) *httptest.Server {
	t.Helper()

	var server *httptest.Server

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			wk := struct {
				Issuer  string `json:"issuer"`
				JWKSURI string `json:"jwks_uri"`
			}{
				Issuer:  server.URL + "/",
				JWKSURI: server.URL + "/.well-known/jwks.json",
			}
			WriteJSON(w, wk)
		case "/.well-known/jwks.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(StaticJWKS(t, key)))
		default:
			http.Error(w, "unexpected JWKS server request: "+r.URL.String(), http.StatusInternalServerError)
		}
	})

	server = httptest.NewServer(handler)
	return server
}

// CreateJWT signs a token carrying claims with key. Pass any claims struct;
// jwt.Claims covers the registered fields.
func CreateJWT(t *testing.T, key jose.JSONWebKey, claims any) string {
	t.Helper()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err, "failed to construct signer")

	signed, err := jwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(t, err, "failed to sign JWT")

	return signed
}

// ValidClaims builds registered claims valid from one minute ago until one
// minute from now.
func ValidClaims(issuer, subject, audience string) jwt.Claims {
	now := time.Now().UTC()

	return jwt.Claims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.Audience{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Minute)),
		Expiry:    jwt.NewNumericDate(now.Add(1 * time.Minute)),
	}
}
