// Package whatsapp wraps the Whatsmeow client used as LeadPipe's messaging gateway.
//
// It handles device login (QR or numeric code), connection status reporting,
// outbound text messages and WhatsApp registration lookups.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for WhatsApp/whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/leadpipe/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
)

// Sender is the outbound surface of the gateway used by the messaging and API layers.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
	IsOnWhatsApp(ctx context.Context, phone string) (bool, error)
	IsReady() bool
}

// StatusFunc receives connection state changes.
type StatusFunc func(status models.BotStatusType)

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // WhatsApp/whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // use numeric login code instead of QR code
	OnStatus    StatusFunc
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the WhatsApp/whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the WhatsApp client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the WhatsApp client to use numeric login code instead of QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// WithStatusCallback registers fn for pending_qr_scan, online and offline transitions.
func WithStatusCallback(fn StatusFunc) Option {
	return func(o *Opts) {
		o.OnStatus = fn
	}
}

// Client wraps the Whatsmeow client for modular use
type Client struct {
	waClient *whatsmeow.Client
	opts     Opts
	ready    atomic.Bool
	qrOnce   sync.Once
}

// Compile-time check that Client implements Sender.
var _ Sender = (*Client)(nil)

// NewClient opens the device store and connects. When the device is not yet
// paired, the login code is rendered in the background and the client becomes
// ready once the scan succeeds.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	dbDriver := store.DetectDSNType(dbDSN)
	if dbDriver == "sqlite3" && !strings.Contains(dbDSN, "foreign_keys") {
		slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
			"Consider adding '?_foreign_keys=on' to your connection string.",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		slog.Error("Failed to initialize WhatsApp DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	c := &Client{
		waClient: whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true)),
		opts:     cfg,
	}
	c.waClient.AddEventHandler(c.handleConnectionEvent)

	if c.waClient.Store.ID == nil {
		slog.Info("WhatsApp login required; starting QR code flow")
		qrChan, err := c.waClient.GetQRChannel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to open QR channel: %w", err)
		}
		if err := c.waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp during login", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}
		go c.renderLogin(qrChan)
		return c, nil
	}

	slog.Debug("WhatsApp already logged in, connecting to server")
	if err := c.waClient.Connect(); err != nil {
		slog.Error("Failed to connect to WhatsApp server", "error", err)
		return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
	}
	return c, nil
}

// renderLogin prints each login code until the pairing finishes.
func (c *Client) renderLogin(qrChan <-chan whatsmeow.QRChannelItem) {
	writer := io.Writer(os.Stdout)
	if c.opts.QRPath != "" {
		f, err := os.Create(c.opts.QRPath)
		if err != nil {
			slog.Error("Failed to create QR file, falling back to stdout", "error", err)
		} else {
			defer f.Close()
			writer = f
		}
	}
	for evt := range qrChan {
		switch evt.Event {
		case whatsmeow.QRChannelEventCode:
			c.qrOnce.Do(func() { c.setStatus(models.BotStatusPendingQR) })
			slog.Debug("WhatsApp login event code received")
			if c.opts.NumericCode {
				fmt.Fprintln(writer, evt.Code)
			} else {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
			}
		case whatsmeow.QRChannelSuccess.Event:
			slog.Info("WhatsApp QR login succeeded")
		default:
			slog.Warn("WhatsApp login event", "event", evt.Event)
		}
	}
}

// handleConnectionEvent tracks readiness and reports status changes.
func (c *Client) handleConnectionEvent(evt interface{}) {
	switch evt.(type) {
	case *events.Connected:
		c.ready.Store(true)
		slog.Info("WhatsApp client connected successfully")
		c.setStatus(models.BotStatusOnline)
	case *events.Disconnected:
		c.ready.Store(false)
		slog.Warn("WhatsApp client disconnected")
		c.setStatus(models.BotStatusOffline)
	case *events.LoggedOut:
		c.ready.Store(false)
		slog.Warn("WhatsApp device logged out")
		c.setStatus(models.BotStatusOffline)
	}
}

func (c *Client) setStatus(status models.BotStatusType) {
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(status)
	}
}

// IsReady reports whether the client is connected and paired.
func (c *Client) IsReady() bool {
	return c.ready.Load()
}

// SendMessage sends a WhatsApp text message to the specified phone number (digits only).
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if c.waClient.Store == nil {
		return fmt.Errorf("whatsapp client store not available")
	}
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}

	slog.Debug("Sending WhatsApp message", "to", to, "body_length", len(body))
	jid := types.NewJID(to, JIDSuffix)
	msg := &waE2E.Message{Conversation: &body}

	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("WhatsApp message sent successfully", "to", to)
	return nil
}

// IsOnWhatsApp checks whether phone (digits only) has a WhatsApp account.
func (c *Client) IsOnWhatsApp(ctx context.Context, phone string) (bool, error) {
	if c.waClient == nil {
		return false, fmt.Errorf("whatsapp client not initialized")
	}
	resp, err := c.waClient.IsOnWhatsApp(ctx, []string{"+" + phone})
	if err != nil {
		return false, fmt.Errorf("failed to check WhatsApp registration for %s: %w", phone, err)
	}
	for _, r := range resp {
		if r.IsIn {
			return true, nil
		}
	}
	return false, nil
}

// AddEventHandler registers fn for every whatsmeow event.
func (c *Client) AddEventHandler(fn func(evt interface{})) {
	c.waClient.AddEventHandler(fn)
}

// Disconnect closes the connection to WhatsApp.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
	c.ready.Store(false)
}

// MockClient implements Sender without a WhatsApp connection (for tests).
type MockClient struct {
	mu       sync.Mutex
	Sent     []SentMessage
	NotOnWA  map[string]bool
	SendErr  error
	CheckErr error
	Ready    bool
}

// SentMessage is one message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// Compile-time check that MockClient implements Sender.
var _ Sender = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{NotOnWA: make(map[string]bool), Ready: true}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) IsOnWhatsApp(ctx context.Context, phone string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CheckErr != nil {
		return false, m.CheckErr
	}
	return !m.NotOnWA[phone], nil
}

func (m *MockClient) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Ready
}

// Messages returns a copy of the recorded messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}
