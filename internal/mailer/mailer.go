// Package mailer sends the operator-facing confirmation email for each
// captured lead. Delivery failures are reported to the caller but are never
// allowed to fail the intake itself.
package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/spectra-media/lead-bridge/internal/config"
	"github.com/spectra-media/lead-bridge/internal/leadform"
)

type Mailer struct {
	client *mail.Client
	from   string
	to     string
}

// New creates a mailer for the given SMTP settings. STARTTLS is required:
// the credentials travel on the same connection.
func New(cfg config.SMTPConfig) (*Mailer, error) {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.User),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("could not configure SMTP client: %w", err)
	}

	from := cfg.From
	if from == "" {
		from = cfg.User
	}

	return &Mailer{
		client: client,
		from:   from,
		to:     cfg.To,
	}, nil
}

// SendLeadConfirmation emails a summary of the captured lead.
func (m *Mailer) SendLeadConfirmation(ctx context.Context, lead leadform.Lead, recordID string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(m.to); err != nil {
		return fmt.Errorf("invalid destination address: %w", err)
	}

	msg.Subject(fmt.Sprintf("New lead captured: %s", lead.DisplayName()))
	msg.SetBodyString(mail.TypeTextPlain, confirmationBody(lead, recordID))

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("could not send confirmation email: %w", err)
	}

	return nil
}

func confirmationBody(lead leadform.Lead, recordID string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "A new lead was created in the CRM.\n\n")
	fmt.Fprintf(&b, "Record ID: %s\n", recordID)
	fmt.Fprintf(&b, "Name:      %s\n", lead.DisplayName())
	fmt.Fprintf(&b, "Company:   %s\n", lead.Company)

	if lead.Email != "" {
		fmt.Fprintf(&b, "Email:     %s\n", lead.Email)
	}
	if lead.Phone != "" {
		fmt.Fprintf(&b, "Phone:     %s\n", lead.Phone)
	}
	if lead.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", lead.Description)
	}

	return b.String()
}
