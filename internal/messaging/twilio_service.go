package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
)

// signatureValidator is implemented by Twilio clients that can verify webhook signatures.
type signatureValidator interface {
	ValidateSignature(url string, params map[string]string, signature string) bool
}

// TwilioService implements the Service interface using the Twilio API.
// Inbound messages arrive through TwilioWebhookHandler.
type TwilioService struct {
	client     twiliowhatsapp.Sender
	region     string
	webhookURL string
	messages   chan models.InboundMessage
	mu         sync.RWMutex
	stopped    bool
}

// Compile-time check that TwilioService implements Service.
var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a new TwilioService around a real or mock Twilio client.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...ServiceOption) *TwilioService {
	cfg := buildServiceOpts(opts)
	return &TwilioService{
		client:     client,
		region:     cfg.Region,
		webhookURL: cfg.WebhookURL,
		messages:   make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient implements Service.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient, s.region)
}

// Start is a no-op for Twilio; inbound traffic is pushed by webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.messages)
	return nil
}

// SendMessage sends a message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

// IsOnWhatsApp always reports true: Twilio offers no registration lookup and
// rejects undeliverable numbers at send time.
func (s *TwilioService) IsOnWhatsApp(ctx context.Context, phone string) (bool, error) {
	return true, nil
}

// Ready implements Service.
func (s *TwilioService) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.stopped
}

// Messages implements Service.
func (s *TwilioService) Messages() <-chan models.InboundMessage {
	return s.messages
}

// TwilioWebhookHandler handles inbound Twilio webhook requests and emits them on Messages().
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.Webhook: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if v, ok := s.client.(signatureValidator); ok && s.webhookURL != "" {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !v.ValidateSignature(s.webhookURL, params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("TwilioService.Webhook: invalid signature")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("TwilioService.Webhook: missing fields", "from", from, "body_length", len(body))
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	contact, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("TwilioService.Webhook: invalid sender", "from", from, "error", err)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	s.emit(models.InboundMessage{
		ID:             r.FormValue("MessageSid"),
		ConversationID: fmt.Sprintf("%s@s.whatsapp.net", contact),
		Contact:        contact,
		ContactName:    r.FormValue("ProfileName"),
		Body:           body,
		Time:           time.Now().Unix(),
	})

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *TwilioService) emit(msg models.InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService: dropping inbound message (service stopped)", "contact", msg.Contact)
		return
	}
	select {
	case s.messages <- msg:
		slog.Debug("TwilioService: inbound message emitted", "contact", msg.Contact)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService: channel blocked, dropping message", "contact", msg.Contact)
	}
}
