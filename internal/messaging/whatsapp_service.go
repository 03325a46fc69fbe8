package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// eventSource is implemented by clients that publish whatsmeow events.
type eventSource interface {
	AddEventHandler(fn func(evt interface{}))
}

// WhatsAppService implements Service using the whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.Sender
	region   string
	messages chan models.InboundMessage
	mu       sync.RWMutex
	stopped  bool
}

// Compile-time check that WhatsAppService implements Service.
var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender, opts ...ServiceOption) *WhatsAppService {
	cfg := buildServiceOpts(opts)
	return &WhatsAppService{
		client:   client,
		region:   cfg.Region,
		messages: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient implements Service.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient, s.region)
}

// Start subscribes to message events when the client publishes them.
func (s *WhatsAppService) Start(ctx context.Context) error {
	src, ok := s.client.(eventSource)
	if !ok {
		slog.Debug("WhatsAppService.Start: client has no event source, skipping subscription")
		return nil
	}
	src.AddEventHandler(s.handleEvent)
	slog.Info("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop closes the inbound channel. Later events are dropped.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.messages)
	slog.Info("WhatsAppService.Stop: stopped and channel closed")
	return nil
}

// SendMessage sends a text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "to", to)
		return err
	}
	slog.Debug("WhatsAppService.SendMessage: message sent", "to", to, "body_length", len(body))
	return nil
}

// IsOnWhatsApp implements Service.
func (s *WhatsAppService) IsOnWhatsApp(ctx context.Context, phone string) (bool, error) {
	return s.client.IsOnWhatsApp(ctx, phone)
}

// Ready implements Service.
func (s *WhatsAppService) Ready() bool {
	return s.client.IsReady()
}

// Messages implements Service.
func (s *WhatsAppService) Messages() <-chan models.InboundMessage {
	return s.messages
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	if msg, ok := evt.(*events.Message); ok {
		s.handleIncomingMessage(msg)
	}
}

// handleIncomingMessage forwards direct text messages from contacts.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	inbound, ok := toInbound(evt)
	if !ok {
		return
	}
	s.emit(inbound)
}

// toInbound converts a whatsmeow message event, rejecting groups, broadcasts,
// own messages and anything without text.
func toInbound(evt *events.Message) (models.InboundMessage, bool) {
	if evt == nil || evt.Message == nil {
		return models.InboundMessage{}, false
	}
	info := evt.Info
	if info.IsFromMe || info.IsGroup || info.Chat.Server == types.GroupServer {
		return models.InboundMessage{}, false
	}
	if info.Chat.Server == types.BroadcastServer || info.Chat == types.StatusBroadcastJID {
		return models.InboundMessage{}, false
	}

	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = evt.Message.GetConversation()
	case evt.Message.ExtendedTextMessage != nil:
		text = evt.Message.GetExtendedTextMessage().GetText()
	}
	if strings.TrimSpace(text) == "" {
		slog.Debug("WhatsAppService: ignoring non-text message", "chat", info.Chat.String())
		return models.InboundMessage{}, false
	}

	contact := info.Sender.ToNonAD().User
	if info.Chat.Server == types.DefaultUserServer {
		contact = info.Chat.User
	}
	return models.InboundMessage{
		ID:             info.ID,
		ConversationID: info.Chat.ToNonAD().String(),
		Contact:        contact,
		ContactName:    info.PushName,
		Body:           text,
		Time:           info.Timestamp.Unix(),
	}, true
}

func (s *WhatsAppService) emit(msg models.InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService: dropping inbound message (service stopped)", "conversationID", msg.ConversationID)
		return
	}
	select {
	case s.messages <- msg:
		slog.Debug("WhatsAppService: inbound message forwarded", "conversationID", msg.ConversationID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService: channel blocked, dropping message", "conversationID", msg.ConversationID, "timeout", DefaultChannelTimeout)
	}
}
