// Package crm is the client for the CRM's lead and attachment APIs. Every
// request is authenticated with a token fetched from the keeper immediately
// before dispatch.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spectra-media/lead-bridge/internal/config"
	"github.com/spectra-media/lead-bridge/internal/leadform"
	"golang.org/x/oauth2"
)

const (
	// recordIDPlaceholder is substituted into the attachment URL template.
	recordIDPlaceholder = "{record_id}"

	// requestTimeout bounds a single CRM call. Attachment uploads carry file
	// content, so this is looser than the token exchange timeout.
	requestTimeout = 30 * time.Second

	maxErrorBodyBytes = 4 << 10 // 4 KB
)

type Client struct {
	leadURL       string
	attachmentURL string
	httpClient    *http.Client
}

// New creates a CRM client that authenticates through source. The source's
// token type determines the Authorization scheme, so the keeper's vendor
// scheme flows through unchanged.
func New(cfg config.CRMConfig, source oauth2.TokenSource) (Client, error) {
	if _, err := url.Parse(cfg.LeadAPIURL); err != nil {
		return Client{}, fmt.Errorf("could not parse CRM lead API URL: %w", err)
	}
	if !strings.Contains(cfg.AttachmentURL, recordIDPlaceholder) {
		return Client{}, fmt.Errorf("CRM attachment URL must contain %s", recordIDPlaceholder)
	}

	return Client{
		leadURL:       cfg.LeadAPIURL,
		attachmentURL: cfg.AttachmentURL,
		httpClient: &http.Client{
			Transport: &oauth2.Transport{
				Source: source,
				Base:   http.DefaultTransport,
			},
			Timeout: requestTimeout,
		},
	}, nil
}

// APIError is a CRM response that is not a success: a non-2xx status or a
// record-level rejection inside a 2xx envelope.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("CRM request failed (status %d): %s", e.StatusCode, e.Body)
}

// Status maps any CRM failure to a bad gateway for the intake caller.
func (e *APIError) Status() (int, string) {
	return http.StatusBadGateway, "CRM upstream failure"
}

type createEnvelope struct {
	Data []leadform.Lead `json:"data"`
}

type recordResult struct {
	Code    string `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Details struct {
		ID string `json:"id"`
	} `json:"details"`
}

type createResponse struct {
	Data []recordResult `json:"data"`
}

// CreateLead creates one lead record and returns its CRM record ID.
func (c Client) CreateLead(ctx context.Context, lead leadform.Lead) (string, error) {
	body, err := json.Marshal(createEnvelope{Data: []leadform.Lead{lead}})
	if err != nil {
		return "", fmt.Errorf("could not encode lead: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.leadURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("could not build lead request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("lead creation failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	// success bodies are read whole; only diagnostic copies are capped
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("lead creation response unreadable: %w", err)
	}

	var parsed createResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || len(parsed.Data) == 0 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: diagnosticBody(respBody)}
	}

	record := parsed.Data[0]
	if record.Status != "success" || record.Details.ID == "" {
		return "", &APIError{StatusCode: resp.StatusCode, Body: diagnosticBody(respBody)}
	}

	return record.Details.ID, nil
}

// AttachFile uploads content as an attachment on the given lead record. The
// body is streamed, so large uploads never land in memory whole.
func (c Client) AttachFile(ctx context.Context, recordID, filename string, content io.Reader) error {
	target := strings.Replace(c.attachmentURL, recordIDPlaceholder, url.PathEscape(recordID), 1)

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	// the request is built before the writer goroutine starts, so a bad URL
	// cannot leave the goroutine blocked on a pipe nobody reads
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
	if err != nil {
		return fmt.Errorf("could not build attachment request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	go func() {
		part, err := form.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, content); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("attachment upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

// diagnosticBody caps a response body copy retained for error reporting.
func diagnosticBody(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	return string(body)
}
