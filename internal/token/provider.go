package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// defaultExchangeTimeout bounds a single refresh-token exchange so a
	// stalled authorization server cannot wedge the keeper's lock and starve
	// every concurrent request handler.
	defaultExchangeTimeout = 15 * time.Second

	// defaultExpiresIn applies when the authorization server omits
	// expires_in from an otherwise successful response.
	defaultExpiresIn = 3600 * time.Second

	// maxErrorBodyBytes limits how much of an error response body is kept
	// for diagnostics.
	maxErrorBodyBytes = 4 << 10 // 4 KB
)

// Credentials is the fixed material for the refresh-token exchange. It is
// set once at process start from configuration and never mutated.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

func (c Credentials) complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// Grant is the result of one successful exchange.
type Grant struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// Provider performs one refresh-token exchange against the authorization
// server. Implementations hold no state and perform no retries: retry
// cadence is entirely the caller's responsibility.
type Provider interface {
	Refresh(ctx context.Context, creds Credentials) (Grant, error)
}

// HTTPProvider exchanges a refresh token for an access token with a single
// form-encoded POST.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// NewHTTPProvider creates a provider for the given token endpoint. When
// client is nil a plain client is used; instrumented clients can be injected
// without affecting the exchange deadline, which Refresh enforces itself.
func NewHTTPProvider(endpoint string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProvider{
		endpoint: endpoint,
		client:   client,
		timeout:  defaultExchangeTimeout,
	}
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   *int64 `json:"expires_in"`
	ErrorCode   string `json:"error"`
}

// Refresh implements Provider. A non-2xx status, a non-JSON body, or a JSON
// body missing access_token all fail with a ProviderError carrying the
// status and body; transport failures are wrapped in a NetworkError. The
// exchange always runs under the bounded timeout: the keeper's refresh lock
// is held for the duration of the call, so the bound cannot depend on the
// injected client's configuration.
func (p *HTTPProvider) Refresh(ctx context.Context, creds Credentials) (Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("refresh_token", creds.RefreshToken)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Grant{}, fmt.Errorf("could not build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return Grant{}, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return Grant{}, &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	// the success body is read whole; only diagnostic copies are capped
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Grant{}, &NetworkError{Err: err}
	}

	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Grant{}, &ProviderError{
			StatusCode: resp.StatusCode,
			Body:       diagnosticBody(body),
			Reason:     "body is not JSON",
		}
	}

	// Zoho answers 200 with an error field for a rejected refresh token, so
	// the presence of access_token is the success condition, not the status.
	if parsed.AccessToken == "" {
		reason := "access_token missing"
		if parsed.ErrorCode != "" {
			reason = fmt.Sprintf("exchange rejected: %s", parsed.ErrorCode)
		}
		return Grant{}, &ProviderError{
			StatusCode: resp.StatusCode,
			Body:       diagnosticBody(body),
			Reason:     reason,
		}
	}

	expiresIn := defaultExpiresIn
	if parsed.ExpiresIn != nil {
		expiresIn = time.Duration(*parsed.ExpiresIn) * time.Second
	}

	return Grant{
		AccessToken: parsed.AccessToken,
		ExpiresIn:   expiresIn,
	}, nil
}

// diagnosticBody caps a response body copy retained for error reporting.
func diagnosticBody(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	return string(body)
}
