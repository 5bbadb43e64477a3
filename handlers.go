package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/spectra-media/lead-bridge/internal/audit"
	"github.com/spectra-media/lead-bridge/internal/dedupe"
	"github.com/spectra-media/lead-bridge/internal/leadform"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// leadCreator is the CRM surface the submission handler needs.
type leadCreator interface {
	CreateLead(ctx context.Context, lead leadform.Lead) (string, error)
	AttachFile(ctx context.Context, recordID, filename string, content io.Reader) error
}

// confirmationSender delivers the post-submission email. May be nil when
// email is not configured.
type confirmationSender interface {
	SendLeadConfirmation(ctx context.Context, lead leadform.Lead, recordID string) error
}

// SubmissionResponse is the JSON body returned for an accepted lead.
type SubmissionResponse struct {
	Status   string `json:"status"`
	RecordID string `json:"record_id"`
}

func handlePostLead(
	mapper *leadform.Mapper,
	creator leadCreator,
	suppressor *dedupe.Suppressor,
	sender confirmationSender,
	maxUploadBytes int64,
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		ctx := r.Context()
		entry := audit.Log(ctx)

		if err := parseSubmission(r, maxUploadBytes); err != nil {
			log.Ctx(ctx).Info().Msgf("unparseable submission: %v", err)
			writeJSONError(w, http.StatusBadRequest, "could not parse form submission")
			return
		}

		lead := mapper.FromValues(r.Form)
		entry.LeadName = lead.DisplayName()

		fingerprint := lead.Fingerprint()
		if suppressor != nil {
			if recordID, seen := suppressor.Seen(fingerprint); seen {
				entry.Duplicate = true
				entry.LeadID = recordID
				log.Ctx(ctx).Info().Str("recordID", recordID).Msg("duplicate submission suppressed")
				writeJSON(w, http.StatusOK, SubmissionResponse{Status: "duplicate", RecordID: recordID})
				return
			}
		}

		recordID, err := creator.CreateLead(ctx, lead)
		if err != nil {
			status, message := errorStatus(err)
			log.Ctx(ctx).Info().Msgf("lead creation failed: %v", err)
			writeJSONError(w, status, message)
			return
		}
		entry.LeadID = recordID

		if suppressor != nil {
			suppressor.Record(fingerprint, recordID)
		}

		// The lead exists in the CRM from here on: attachment and email
		// failures are reported but no longer fail the submission.
		if file, header, err := r.FormFile("file"); err == nil {
			entry.AttachmentName = header.Filename
			if err := creator.AttachFile(ctx, recordID, header.Filename, file); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("recordID", recordID).Msg("attachment upload failed")
				entry.AttachmentName = ""
			}
			file.Close()
		}

		if sender != nil {
			if err := sender.SendLeadConfirmation(ctx, lead, recordID); err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("confirmation email failed")
			} else {
				entry.EmailSent = true
			}
		}

		writeJSON(w, http.StatusOK, SubmissionResponse{Status: "success", RecordID: recordID})
	})
}

// parseSubmission accepts both multipart (file-carrying) and URL-encoded
// form posts, populating r.Form either way.
func parseSubmission(r *http.Request, maxUploadBytes int64) error {
	err := r.ParseMultipartForm(maxUploadBytes)
	if errors.Is(err, http.ErrNotMultipart) {
		return r.ParseForm()
	}
	return err
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		// the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
