// Package audit emits one structured log event per intake request, capturing
// who submitted, what the CRM recorded, and how the request ended. The entry
// travels in the request context so handlers and middleware can annotate it
// as the request progresses; the middleware writes it exactly once, even
// when a handler panics.
package audit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Level is the level audit events are written at.
const Level = zerolog.InfoLevel

// Entry accumulates the auditable facts of one request.
type Entry struct {
	Method      string
	Path        string
	SourceIP    string
	UserAgent   string
	RequestedAt time.Time
	Status      int
	Error       string

	Authorized     bool
	AuthSubject    string
	AuthIssuer     string
	AuthAudience   []string
	AuthExpirySecs int64

	LeadID         string
	LeadName       string
	AttachmentName string
	Duplicate      bool
	EmailSent      bool
}

type contextKey struct{}

// Context returns a context carrying an audit entry, creating one when the
// context has none, along with the entry itself.
func Context(ctx context.Context) (context.Context, *Entry) {
	if entry, ok := ctx.Value(contextKey{}).(*Entry); ok {
		return ctx, entry
	}

	entry := &Entry{}
	return context.WithValue(ctx, contextKey{}, entry), entry
}

// Log returns the context's audit entry. Outside the middleware a detached
// entry is returned, so annotation is always safe; it just won't be written.
func Log(ctx context.Context) *Entry {
	_, entry := Context(ctx)
	return entry
}

// Middleware captures request metadata into an audit entry and writes the
// entry when the request completes. A panic in the handler still produces an
// audit event before propagating.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())

			entry.Method = r.Method
			entry.Path = r.URL.Path
			entry.SourceIP = r.RemoteAddr
			entry.UserAgent = r.UserAgent()
			entry.RequestedAt = time.Now()

			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			defer func() {
				if rec := recover(); rec != nil {
					entry.Status = http.StatusInternalServerError
					if entry.Error == "" {
						entry.Error = fmt.Sprintf("panic: %v", rec)
					}
					entry.write(ctx)
					panic(rec)
				}

				entry.Status = wrapped.status
				entry.write(ctx)
			}()

			next.ServeHTTP(wrapped, r.WithContext(ctx))
		})
	}
}

func (e *Entry) write(ctx context.Context) {
	ev := zerolog.Ctx(ctx).WithLevel(Level).
		Str("method", e.Method).
		Str("path", e.Path).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent).
		Time("requestedAt", e.RequestedAt).
		Int("status", e.Status)

	if e.Error != "" {
		ev = ev.Str("error", e.Error)
	}

	auth := NewOptionalEvent()
	auth.Bool("authorized", e.Authorized, e.Authorized)
	auth.Str("subject", e.AuthSubject)
	auth.Str("issuer", e.AuthIssuer)
	auth.Strs("audience", e.AuthAudience)
	auth.Int64("expirySecs", e.AuthExpirySecs)
	auth.Set(ev, "auth")

	lead := NewOptionalEvent()
	lead.Str("recordID", e.LeadID)
	lead.Str("name", e.LeadName)
	lead.Str("attachment", e.AttachmentName)
	lead.Bool("duplicate", e.Duplicate, e.Duplicate)
	lead.Bool("emailSent", e.EmailSent, e.EmailSent)
	lead.Set(ev, "lead")

	ev.Msg("audit")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
