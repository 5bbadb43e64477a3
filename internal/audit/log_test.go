package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spectra-media/lead-bridge/internal/audit"
	"github.com/spectra-media/lead-bridge/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestSetup() (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest("POST", "/submit", nil)
	return req, httptest.NewRecorder()
}

func withCapturedLog(ctx context.Context) (context.Context, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf)
	return logger.WithContext(ctx), buf
}

func TestMiddleware(t *testing.T) {
	t.Run("captures request info and configures context", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		testAgent := "kettle/1.0"
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := audit.Log(r.Context())
			assert.Equal(t, testAgent, entry.UserAgent)
			assert.Equal(t, "/submit", entry.Path)

			w.WriteHeader(http.StatusTeapot)
		})

		middleware := audit.Middleware()(handler)

		req, w := requestSetup()
		req.Header.Set("User-Agent", testAgent)

		middleware.ServeHTTP(w, req)

		assert.Equal(t, http.StatusTeapot, w.Result().StatusCode)
	})

	t.Run("captures status code", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		var capturedContext context.Context
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedContext = r.Context()
			w.WriteHeader(http.StatusTeapot)
		})

		middleware := audit.Middleware()(handler)

		req, w := requestSetup()
		middleware.ServeHTTP(w, req)

		entry := audit.Log(capturedContext)
		assert.Equal(t, http.StatusTeapot, entry.Status)
	})

	t.Run("log written with handler annotations", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := audit.Log(r.Context())
			entry.LeadID = "518000000001"
			entry.LeadName = "Claire Durand"
			entry.EmailSent = true
			w.WriteHeader(http.StatusOK)
		})

		middleware := audit.Middleware()(handler)

		req, w := requestSetup()
		ctx, buf := withCapturedLog(req.Context())

		middleware.ServeHTTP(w, req.WithContext(ctx))

		var event map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &event))

		assert.Equal(t, "audit", event["message"])
		assert.Equal(t, float64(http.StatusOK), event["status"])

		lead, ok := event["lead"].(map[string]any)
		require.True(t, ok, "lead dictionary should be present when annotated")
		assert.Equal(t, "518000000001", lead["recordID"])
		assert.Equal(t, true, lead["emailSent"])

		_, hasAuth := event["auth"]
		assert.False(t, hasAuth, "auth dictionary should be omitted when nothing was set")
	})

	t.Run("log written on panic", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := audit.Log(r.Context())
			entry.Error = "failure pre-panic"
			panic("not a teapot")
		})

		middleware := audit.Middleware()(handler)

		req, w := requestSetup()
		ctx, buf := withCapturedLog(req.Context())

		assert.PanicsWithValue(t, "not a teapot", func() {
			middleware.ServeHTTP(w, req.WithContext(ctx))
		})

		var event map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &event))

		assert.Equal(t, "failure pre-panic", event["error"])
		assert.Equal(t, float64(http.StatusInternalServerError), event["status"])
	})
}

func TestLog_DetachedOutsideMiddleware(t *testing.T) {
	entry := audit.Log(context.Background())
	require.NotNil(t, entry)

	// annotation is safe, it just isn't written anywhere
	entry.LeadID = "whatever"
}
