package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A stalled authorization server must not hold a refresh open past the
// exchange deadline, even when the injected client carries no timeout of
// its own. The keeper's refresh lock is held for the duration of the call,
// so an unbounded exchange would starve every concurrent Get.
func TestRefresh_DeadlineBoundsStalledServer(t *testing.T) {
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	provider := NewHTTPProvider(server.URL, &http.Client{})
	provider.timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := provider.Refresh(context.Background(), Credentials{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RefreshToken: "refresh-token",
	})
	elapsed := time.Since(start)

	var networkErr *NetworkError
	require.ErrorAs(t, err, &networkErr)
	assert.Less(t, elapsed, time.Second, "exchange must give up at the deadline")
}
