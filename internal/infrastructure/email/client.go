// Package email sends traffic reports.
package email

import (
	"fmt"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/email/templates"
	"github.com/AtRiskMedia/visitstats/pkg/config"
	"github.com/resendlabs/resend-go"
)

// Service defines the interface for sending emails, allowing for mock implementations in tests.
type Service interface {
	SendReport(report *analytics.Report) error
}

// ResendClient is the concrete implementation of the email Service using the Resend API.
type ResendClient struct {
	client    *resend.Client
	fromEmail string
	to        []string
}

// NewService creates a Resend-backed service from configuration. It returns
// nil, nil when no API key or recipient is configured.
func NewService() (Service, error) {
	if config.ResendAPIKey == "" || len(config.ReportEmailTo) == 0 {
		return nil, nil
	}
	if config.ReportEmailFrom == "" {
		return nil, fmt.Errorf("REPORT_EMAIL_FROM is required when RESEND_API_KEY is set")
	}
	return NewResendClient(config.ResendAPIKey, config.ReportEmailFrom, config.ReportEmailTo), nil
}

func NewResendClient(apiKey, from string, to []string) *ResendClient {
	return &ResendClient{
		client:    resend.NewClient(apiKey),
		fromEmail: from,
		to:        to,
	}
}

// SendReport renders and sends a report to every configured recipient.
func (c *ResendClient) SendReport(report *analytics.Report) error {
	html, err := templates.RenderReport(report)
	if err != nil {
		return err
	}

	params := &resend.SendEmailRequest{
		From:    c.fromEmail,
		To:      c.to,
		Subject: report.Title(),
		Html:    html,
	}

	if _, err := c.client.Emails.Send(params); err != nil {
		return fmt.Errorf("failed to send report email via Resend: %w", err)
	}
	return nil
}
