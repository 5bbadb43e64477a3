// Package dedupe suppresses duplicate lead submissions. Chatbots and form
// frontends retry on slow responses, and every retry would otherwise create
// a fresh CRM record.
package dedupe

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// Suppressor remembers recently created leads by submission fingerprint for
// a bounded window, mapping each to the CRM record it produced.
type Suppressor struct {
	cache *otter.Cache[string, string]
	ttl   time.Duration
}

// New creates a suppressor that remembers submissions for ttl.
func New(ttl time.Duration, maxSize int) *Suppressor {
	cache := otter.Must(&otter.Options[string, string]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryCreating[string, string](ttl),
	})

	return &Suppressor{
		cache: cache,
		ttl:   ttl,
	}
}

// Seen returns the record ID a matching submission produced inside the
// window, if any.
func (s *Suppressor) Seen(fingerprint string) (string, bool) {
	entry, ok := s.cache.GetEntry(fingerprint)
	if !ok {
		return "", false
	}
	return entry.Value, true
}

// Record associates a fingerprint with the CRM record it created.
func (s *Suppressor) Record(fingerprint, recordID string) {
	s.cache.Set(fingerprint, recordID)
}
