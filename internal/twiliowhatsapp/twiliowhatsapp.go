// Package twiliowhatsapp wraps the Twilio API as an alternative WhatsApp transport for LeadPipe.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender sends WhatsApp messages through Twilio.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token, also used to verify webhook signatures.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number, e.g. "whatsapp:+27820000000".
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	client    *twilio.RestClient
	fromWhats string
	validator twilioclient.RequestValidator
}

// NewClient creates a Twilio client, falling back to TWILIO_* environment variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}
	if !strings.HasPrefix(cfg.FromWhats, "whatsapp:") {
		cfg.FromWhats = "whatsapp:" + cfg.FromWhats
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{
		client:    client,
		fromWhats: cfg.FromWhats,
		validator: twilioclient.NewRequestValidator(cfg.AuthToken),
	}, nil
}

// SendMessage sends a WhatsApp message to an E.164 number without the plus sign.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + strings.TrimPrefix(to, "+"))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	if resp != nil && resp.Sid != nil {
		slog.Debug("Twilio message sent", "to", to, "sid", *resp.Sid)
	}
	return nil
}

// ValidateSignature checks the X-Twilio-Signature of a webhook request.
func (c *Client) ValidateSignature(url string, params map[string]string, signature string) bool {
	return c.validator.Validate(url, params, signature)
}

// MockClient records messages instead of calling Twilio (for tests).
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

// SentMessage is one message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}
