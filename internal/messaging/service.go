// Package messaging connects the WhatsApp transports to the conversation orchestrator.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/nyaruka/phonenumbers"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound message channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// DefaultRegion is used to parse phone numbers written without a country code.
	DefaultRegion = "ZA"
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a phone number and returns it
	// in E.164 form without the leading plus, e.g. "27821234567".
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// IsOnWhatsApp reports whether the number is registered on WhatsApp.
	IsOnWhatsApp(ctx context.Context, phone string) (bool, error)

	// Ready reports whether the transport can send messages.
	Ready() bool

	// Start begins any background processing (e.g., event subscription).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the inbound channel.
	Stop() error

	// Messages returns a channel of inbound text messages from contacts.
	Messages() <-chan models.InboundMessage
}

// ServiceOpts holds configuration shared by the transports.
type ServiceOpts struct {
	Region     string
	WebhookURL string // public URL Twilio signs webhook requests with
}

// ServiceOption configures a messaging service.
type ServiceOption func(*ServiceOpts)

// WithRegion sets the default region used for numbers without a country code.
func WithRegion(region string) ServiceOption {
	return func(o *ServiceOpts) {
		if region != "" {
			o.Region = strings.ToUpper(region)
		}
	}
}

// WithWebhookURL enables Twilio signature verification against the given public URL.
func WithWebhookURL(url string) ServiceOption {
	return func(o *ServiceOpts) { o.WebhookURL = url }
}

func buildServiceOpts(opts []ServiceOption) ServiceOpts {
	cfg := ServiceOpts{Region: DefaultRegion}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// CanonicalizePhone parses a phone number and returns its E.164 digits without the plus.
func CanonicalizePhone(recipient, region string) (string, error) {
	trimmed := strings.TrimSpace(recipient)
	if trimmed == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	// Chat JIDs carry the number before the '@'.
	if at := strings.IndexByte(trimmed, '@'); at >= 0 {
		trimmed = trimmed[:at]
	}
	trimmed = strings.TrimPrefix(trimmed, "whatsapp:")
	if !strings.HasPrefix(trimmed, "+") && !strings.HasPrefix(trimmed, "0") && len(trimmed) > 10 {
		trimmed = "+" + trimmed
	}

	number, err := phonenumbers.Parse(trimmed, region)
	if err != nil {
		return "", fmt.Errorf("invalid phone number %q: %w", recipient, err)
	}
	if !phonenumbers.IsValidNumber(number) {
		return "", fmt.Errorf("invalid phone number %q", recipient)
	}
	return strings.TrimPrefix(phonenumbers.Format(number, phonenumbers.E164), "+"), nil
}
