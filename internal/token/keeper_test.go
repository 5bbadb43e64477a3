package token_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spectra-media/lead-bridge/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCredentials = token.Credentials{
	ClientID:     "client-id",
	ClientSecret: "client-secret",
	RefreshToken: "refresh-token",
}

// fakeProvider is a scriptable Provider that counts invocations and can
// block in-flight exchanges to force caller overlap.
type fakeProvider struct {
	mu    sync.Mutex
	calls atomic.Int64

	grant Grant
	err   error

	// entered is signalled when a Refresh call starts; release gates its
	// return. Both are optional.
	entered chan struct{}
	release chan struct{}
}

type Grant = token.Grant

func (p *fakeProvider) Refresh(ctx context.Context, creds token.Credentials) (token.Grant, error) {
	p.calls.Add(1)

	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.release != nil {
		<-p.release
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.grant, p.err
}

func (p *fakeProvider) respond(grant token.Grant, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grant = grant
	p.err = err
}

func TestNewKeeper_RequiresCredentials(t *testing.T) {
	cases := []struct {
		name  string
		creds token.Credentials
	}{
		{name: "all missing", creds: token.Credentials{}},
		{name: "no client id", creds: token.Credentials{ClientSecret: "s", RefreshToken: "r"}},
		{name: "no client secret", creds: token.Credentials{ClientID: "c", RefreshToken: "r"}},
		{name: "no refresh token", creds: token.Credentials{ClientID: "c", ClientSecret: "s"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			k, err := token.NewKeeper(&fakeProvider{}, tc.creds)
			assert.Nil(t, k)

			var configErr *token.ConfigError
			require.ErrorAs(t, err, &configErr)
		})
	}
}

func TestGet_RoundTrip(t *testing.T) {
	provider := &fakeProvider{}
	provider.respond(token.Grant{AccessToken: "abc123", ExpiresIn: time.Hour}, nil)

	k, err := token.NewKeeper(provider, testCredentials)
	require.NoError(t, err)

	before := time.Now()
	value, err := k.Get(context.Background())
	after := time.Now()

	require.NoError(t, err)
	assert.Equal(t, "abc123", value)
	assert.Equal(t, int64(1), provider.calls.Load())

	current, ok := k.Current()
	require.True(t, ok)
	assert.Equal(t, "abc123", current.Value)
	assert.False(t, current.ExpiresAt.Before(before.Add(time.Hour)))
	assert.False(t, current.ExpiresAt.After(after.Add(time.Hour)))
}

func TestGet_Consistency(t *testing.T) {
	provider := &fakeProvider{}
	provider.respond(token.Grant{AccessToken: "stable-token", ExpiresIn: time.Hour}, nil)

	k, err := token.NewKeeper(provider, testCredentials)
	require.NoError(t, err)

	// populate the cache
	_, err = k.Get(context.Background())
	require.NoError(t, err)

	const callers = 32
	results := make([]string, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := k.Get(context.Background())
			assert.NoError(t, err)
			results[i] = value
		}()
	}
	wg.Wait()

	for _, value := range results {
		assert.Equal(t, "stable-token", value)
	}
	assert.Equal(t, int64(1), provider.calls.Load(), "valid token must not trigger further exchanges")
}

func TestGet_SingleFlight(t *testing.T) {
	const callers = 16

	provider := &fakeProvider{
		entered: make(chan struct{}, callers),
		release: make(chan struct{}),
	}
	provider.respond(token.Grant{AccessToken: "fresh-token", ExpiresIn: time.Hour}, nil)

	k, err := token.NewKeeper(provider, testCredentials)
	require.NoError(t, err)

	results := make([]string, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := k.Get(context.Background())
			assert.NoError(t, err)
			results[i] = value
		}()
	}

	// one caller is now inside the exchange; everyone else must be queued on
	// the lock rather than issuing their own.
	<-provider.entered
	close(provider.release)
	wg.Wait()

	assert.Equal(t, int64(1), provider.calls.Load(), "concurrent callers must collapse into one exchange")
	for _, value := range results {
		assert.Equal(t, "fresh-token", value)
	}
}

func TestGet_SingleFlightFailure(t *testing.T) {
	const callers = 8

	provider := &fakeProvider{
		entered: make(chan struct{}, callers),
		release: make(chan struct{}),
	}
	provider.respond(token.Grant{}, errors.New("exchange failed"))

	k, err := token.NewKeeper(provider, testCredentials)
	require.NoError(t, err)

	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = k.Get(context.Background())
		}()
	}

	<-provider.entered
	close(provider.release)
	wg.Wait()

	// With no previously cached token, every caller that hits the failed
	// window fails; none may receive an empty token. The exchange count can
	// exceed one here (each caller retries under the lock after the previous
	// failure) but is bounded by the number of callers.
	for _, err := range errs {
		require.Error(t, err)
	}
	assert.LessOrEqual(t, provider.calls.Load(), int64(callers))
}

func TestGet_FailureIsolation(t *testing.T) {
	provider := &fakeProvider{}
	provider.respond(token.Grant{}, errors.New("upstream 500"))

	k, err := token.NewKeeper(provider, testCredentials)
	require.NoError(t, err)

	_, err = k.Get(context.Background())
	var unavailable *token.UnavailableError
	require.ErrorAs(t, err, &unavailable)

	// the provider recovers: the very next Get succeeds without any process
	// restart
	provider.respond(token.Grant{AccessToken: "recovered", ExpiresIn: time.Hour}, nil)

	value, err := k.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "recovered", value)
}

func TestGet_InitialToken(t *testing.T) {
	provider := &fakeProvider{}

	k, err := token.NewKeeper(provider, testCredentials,
		token.WithInitialToken("seeded", time.Now().Add(5*time.Minute)))
	require.NoError(t, err)

	value, err := k.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "seeded", value)
	assert.Equal(t, int64(0), provider.calls.Load(), "seeded token must be served without an exchange")
}

func TestRefresh_Eager(t *testing.T) {
	provider := &fakeProvider{}
	provider.respond(token.Grant{AccessToken: "eager", ExpiresIn: time.Hour}, nil)

	k, err := token.NewKeeper(provider, testCredentials)
	require.NoError(t, err)

	require.NoError(t, k.Refresh(context.Background()))
	assert.Equal(t, int64(1), provider.calls.Load())

	value, err := k.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eager", value)
	assert.Equal(t, int64(1), provider.calls.Load(), "eagerly refreshed token must be served from cache")
}

func TestRun_RefreshesAndRecovers(t *testing.T) {
	provider := &fakeProvider{}
	provider.respond(token.Grant{}, errors.New("not yet"))

	k, err := token.NewKeeper(provider, testCredentials,
		token.WithRefreshInterval(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.Run(ctx)
	}()

	// loop ticks over the failure without crashing, then picks up the
	// recovery on a later tick
	require.Eventually(t, func() bool {
		return provider.calls.Load() >= 2
	}, time.Second, time.Millisecond)

	provider.respond(token.Grant{AccessToken: "from-loop", ExpiresIn: time.Hour}, nil)

	require.Eventually(t, func() bool {
		current, ok := k.Current()
		return ok && current.Value == "from-loop"
	}, time.Second, time.Millisecond)

	// once valid, further ticks leave the token alone
	settled := provider.calls.Load()
	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, settled, provider.calls.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresh loop did not stop on context cancellation")
	}
}
