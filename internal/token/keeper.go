// Package token maintains the short-lived CRM access token for the process.
//
// A single Keeper owns the current token and its expiry. Every concurrent
// request handler reads through Get, a background loop refreshes ahead of
// expiry, and both paths funnel into one critical section so at most one
// exchange with the authorization server is ever in flight.
package token

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultSafetyMargin is the buffer before real expiry at which a token
	// is proactively treated as expired.
	DefaultSafetyMargin = 60 * time.Second

	// DefaultRefreshInterval is the background loop's check cadence.
	DefaultRefreshInterval = 30 * time.Second
)

// Token is the cached credential. It is replaced only as a whole, so a
// reader never sees a value paired with the wrong expiry.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Keeper caches the access token process-wide. The zero value is not usable;
// construct with NewKeeper.
type Keeper struct {
	provider Provider
	creds    Credentials
	margin   time.Duration
	interval time.Duration

	// current holds the token snapshot read lock-free on the hot path. It is
	// written only under mu.
	current atomic.Pointer[Token]

	// mu serializes refresh attempts. Foreground Get callers and the
	// background loop share this one critical section, which is what
	// collapses N concurrent expiry observations into a single exchange.
	mu sync.Mutex

	now func() time.Time
}

// KeeperOption configures a Keeper at construction.
type KeeperOption func(*Keeper)

// WithSafetyMargin sets the buffer before real expiry at which the token is
// refreshed.
func WithSafetyMargin(d time.Duration) KeeperOption {
	return func(k *Keeper) { k.margin = d }
}

// WithRefreshInterval sets the background loop's check cadence.
func WithRefreshInterval(d time.Duration) KeeperOption {
	return func(k *Keeper) { k.interval = d }
}

// WithInitialToken seeds the keeper with an externally obtained token,
// assumed valid until expiresAt. Useful to avoid paying refresh latency on
// the first request after deployment.
func WithInitialToken(value string, expiresAt time.Time) KeeperOption {
	return func(k *Keeper) {
		if value == "" {
			return
		}
		k.current.Store(&Token{
			Value:     value,
			IssuedAt:  k.now(),
			ExpiresAt: expiresAt,
		})
	}
}

// NewKeeper creates a keeper for the given provider and credentials. All
// three credential fields are required: without them the keeper could never
// produce a token, so construction fails with a ConfigError rather than
// deferring the problem to the first request.
func NewKeeper(provider Provider, creds Credentials, opts ...KeeperOption) (*Keeper, error) {
	if !creds.complete() {
		return nil, &ConfigError{Missing: missingCredentials(creds)}
	}

	k := &Keeper{
		provider: provider,
		creds:    creds,
		margin:   DefaultSafetyMargin,
		interval: DefaultRefreshInterval,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(k)
	}

	return k, nil
}

func missingCredentials(creds Credentials) string {
	missing := ""
	appendMissing := func(name string) {
		if missing != "" {
			missing += ", "
		}
		missing += name
	}
	if creds.ClientID == "" {
		appendMissing("client id")
	}
	if creds.ClientSecret == "" {
		appendMissing("client secret")
	}
	if creds.RefreshToken == "" {
		appendMissing("refresh token")
	}
	return missing
}

// Get returns a token that is valid now and for at least the safety margin.
// The hot path is a single atomic load. When the cached token is within its
// margin window (or absent), callers serialize on the refresh lock: one of
// them performs the exchange, the rest block and then read the fresh state.
// Get never returns a value past its effective expiry; if refresh fails, the
// error is returned instead.
func (k *Keeper) Get(ctx context.Context) (string, error) {
	if t := k.current.Load(); t != nil && k.fresh(t) {
		return t.Value, nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	// another caller may have refreshed while this one waited on the lock
	if t := k.current.Load(); t != nil && k.fresh(t) {
		return t.Value, nil
	}

	return k.refreshLocked(ctx)
}

// Refresh forces an exchange regardless of the cached token's state. It is
// used for the eager startup refresh.
func (k *Keeper) Refresh(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	_, err := k.refreshLocked(ctx)
	return err
}

// Current returns a copy of the cached token, if any. The snapshot may be
// past its effective expiry; callers wanting a usable value must use Get.
func (k *Keeper) Current() (Token, bool) {
	t := k.current.Load()
	if t == nil {
		return Token{}, false
	}
	return *t, true
}

// Run checks the cached token every interval and refreshes it when it enters
// the margin window, sharing the refresh lock with foreground callers.
// Provider failures are logged and retried on the next tick; the loop exits
// only when ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) {
	for {
		k.tick(ctx)

		select {
		case <-time.After(k.interval):
			// continue
		case <-ctx.Done():
			log.Info().Msg("token refresh loop shutting down gracefully")
			return
		}
	}
}

// tick performs a single check-and-refresh pass with tracing. Panics are
// recovered so a refresh failure can never take the loop down.
func (k *Keeper) tick(ctx context.Context) {
	tracer := otel.Tracer("github.com/spectra-media/lead-bridge/internal/token")
	ctx, span := tracer.Start(ctx, "refresh_access_token")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during token refresh: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "token refresh panicked")
			log.Warn().Interface("panic", r).Msg("token refresh panicked, recovered")
		}
	}()

	if t := k.current.Load(); t != nil && k.fresh(t) {
		span.SetStatus(codes.Ok, "token still valid")
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if t := k.current.Load(); t != nil && k.fresh(t) {
		span.SetStatus(codes.Ok, "token still valid")
		return
	}

	if _, err := k.refreshLocked(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token refresh failed")
		log.Warn().Err(err).Msg("access token refresh failed, continuing")
		return
	}

	span.SetStatus(codes.Ok, "token refreshed")
}

// fresh reports whether the token is still outside its margin window.
func (k *Keeper) fresh(t *Token) bool {
	return k.now().Before(t.ExpiresAt.Add(-k.margin))
}

// refreshLocked performs the exchange and swaps the cached token. It must be
// called with mu held. On failure the cached state is left untouched: a
// previously cached (if expired) value is never blanked, and the error is
// returned for the call site to log or propagate.
func (k *Keeper) refreshLocked(ctx context.Context) (string, error) {
	grant, err := k.provider.Refresh(ctx, k.creds)
	if err != nil {
		if k.current.Load() == nil {
			return "", &UnavailableError{Err: err}
		}
		return "", err
	}

	now := k.now()
	t := &Token{
		Value:     grant.AccessToken,
		IssuedAt:  now,
		ExpiresAt: now.Add(grant.ExpiresIn),
	}
	k.current.Store(t)

	log.Info().Time("expiry", t.ExpiresAt).Msg("access token refreshed")

	return t.Value, nil
}
