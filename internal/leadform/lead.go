// Package leadform maps submitted form values onto the CRM lead record.
package leadform

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Lead is the CRM lead record. JSON tags are the CRM module's API field
// names; empty optional fields are omitted from the create payload.
type Lead struct {
	Company     string `json:"Company"`
	LastName    string `json:"Last_Name"`
	FirstName   string `json:"First_Name,omitempty"`
	Email       string `json:"Email,omitempty"`
	Phone       string `json:"Phone,omitempty"`
	Description string `json:"Description,omitempty"`
}

// Fingerprint returns a stable digest of the lead's identifying fields, used
// as the duplicate-suppression key. Case and surrounding whitespace are
// ignored so trivially re-sent forms collapse onto one key.
func (l Lead) Fingerprint() string {
	h := sha256.New()
	for _, part := range []string{l.Email, l.LastName, l.FirstName, l.Phone} {
		h.Write([]byte(strings.ToLower(strings.TrimSpace(part))))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DisplayName returns a human-readable name for logs and the confirmation
// email.
func (l Lead) DisplayName() string {
	if l.FirstName == "" {
		return l.LastName
	}
	return l.FirstName + " " + l.LastName
}
