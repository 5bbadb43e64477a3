package testhelpers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spectra-media/lead-bridge/internal/leadform"
)

// MockAuthServer provides a configurable mock authorization server for
// testing the refresh-token exchange.
type MockAuthServer struct {
	Server       *httptest.Server
	AccessToken  string // token to return from the exchange
	ExpiresIn    int64  // expires_in for the token
	StatusCode   int    // HTTP status code to return (200 if not set)
	RequestCount int    // number of exchanges received
	LastForm     map[string][]string
}

// SetupMockAuthServer creates a mock authorization server handling the
// refresh-token exchange, with configurable response values and request
// tracking.
func SetupMockAuthServer(t *testing.T) *MockAuthServer {
	t.Helper()

	mock := &MockAuthServer{
		AccessToken: "test-access-token",
		ExpiresIn:   3600,
		StatusCode:  http.StatusOK,
	}

	router := http.NewServeMux()

	router.HandleFunc("POST /oauth/v2/token", func(w http.ResponseWriter, r *http.Request) {
		mock.RequestCount++

		if err := r.ParseForm(); err == nil {
			mock.LastForm = r.PostForm
		}

		if mock.StatusCode != http.StatusOK {
			w.WriteHeader(mock.StatusCode)
			WriteJSON(w, map[string]string{"error": "server_error"})
			return
		}

		WriteJSON(w, map[string]any{
			"access_token": mock.AccessToken,
			"expires_in":   mock.ExpiresIn,
			"token_type":   "Bearer",
		})
	})

	mock.Server = httptest.NewServer(router)
	return mock
}

// TokenURL is the exchange endpoint served by the mock.
func (m *MockAuthServer) TokenURL() string {
	return m.Server.URL + "/oauth/v2/token"
}

// Close shuts down the mock server.
func (m *MockAuthServer) Close() {
	m.Server.Close()
}

// MockCRMServer provides a configurable mock CRM API server handling lead
// creation and attachment upload.
type MockCRMServer struct {
	Server       *httptest.Server
	RecordID     string // record ID returned from lead creation
	RecordStatus string // record-level status inside the 2xx envelope
	StatusCode   int    // HTTP status code to return (200 if not set)

	LeadRequests   int
	CreatedLeads   []leadform.Lead
	LastAuthHeader string

	AttachmentRequests   int
	LastAttachmentRecord string
	LastAttachmentName   string
	LastAttachmentBody   []byte
}

// SetupMockCRMServer creates a mock CRM API server with configurable
// response values and request tracking.
func SetupMockCRMServer(t *testing.T) *MockCRMServer {
	t.Helper()

	mock := &MockCRMServer{
		RecordID:     "518000000001",
		RecordStatus: "success",
		StatusCode:   http.StatusOK,
	}

	router := http.NewServeMux()

	router.HandleFunc("POST /crm/v2/Leads", func(w http.ResponseWriter, r *http.Request) {
		mock.LeadRequests++
		mock.LastAuthHeader = r.Header.Get("Authorization")

		if mock.StatusCode != http.StatusOK {
			w.WriteHeader(mock.StatusCode)
			return
		}

		var envelope struct {
			Data []leadform.Lead `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		mock.CreatedLeads = append(mock.CreatedLeads, envelope.Data...)

		WriteJSON(w, map[string]any{
			"data": []map[string]any{
				{
					"code":    "SUCCESS",
					"status":  mock.RecordStatus,
					"message": "record added",
					"details": map[string]string{"id": mock.RecordID},
				},
			},
		})
	})

	router.HandleFunc("POST /crm/v2/Leads/{recordID}/Attachments", func(w http.ResponseWriter, r *http.Request) {
		mock.AttachmentRequests++
		mock.LastAuthHeader = r.Header.Get("Authorization")
		mock.LastAttachmentRecord = r.PathValue("recordID")

		if mock.StatusCode != http.StatusOK {
			w.WriteHeader(mock.StatusCode)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file part", http.StatusBadRequest)
			return
		}
		defer file.Close()

		mock.LastAttachmentName = header.Filename
		mock.LastAttachmentBody, _ = io.ReadAll(file)

		WriteJSON(w, map[string]any{
			"data": []map[string]any{
				{"code": "SUCCESS", "status": "success"},
			},
		})
	})

	mock.Server = httptest.NewServer(router)
	return mock
}

// Close shuts down the mock server.
func (m *MockCRMServer) Close() {
	m.Server.Close()
}

// WriteJSON is a helper function that writes a JSON response. It sets the
// Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
