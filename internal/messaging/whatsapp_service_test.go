package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

func textEvent(chat, sender types.JID, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: sender},
			ID:            "3EB0C767D82B",
			PushName:      "Thandi",
			Timestamp:     time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: &text},
	}
}

func TestToInbound_DirectText(t *testing.T) {
	jid := types.NewJID("27821234567", types.DefaultUserServer)
	msg, ok := toInbound(textEvent(jid, jid, "Hi there"))
	if !ok {
		t.Fatal("expected direct text message to be accepted")
	}
	if msg.ConversationID != "27821234567@s.whatsapp.net" {
		t.Errorf("unexpected conversation id %q", msg.ConversationID)
	}
	if msg.Contact != "27821234567" || msg.ContactName != "Thandi" || msg.Body != "Hi there" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.ID != "3EB0C767D82B" || msg.Time != 1700000000 {
		t.Errorf("unexpected id/time %+v", msg)
	}
}

func TestToInbound_ExtendedText(t *testing.T) {
	jid := types.NewJID("27821234567", types.DefaultUserServer)
	text := "show me houses in Sandton"
	evt := textEvent(jid, jid, "")
	evt.Message = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: &text}}
	msg, ok := toInbound(evt)
	if !ok || msg.Body != text {
		t.Fatalf("expected extended text to be accepted, got %+v ok=%v", msg, ok)
	}
}

func TestToInbound_Filters(t *testing.T) {
	user := types.NewJID("27821234567", types.DefaultUserServer)
	group := types.NewJID("120363025246125486", types.GroupServer)

	fromMe := textEvent(user, user, "hello")
	fromMe.Info.IsFromMe = true

	groupMsg := textEvent(group, user, "hello")
	groupMsg.Info.IsGroup = true

	nonText := textEvent(user, user, "")
	nonText.Message = &waE2E.Message{}

	cases := map[string]*events.Message{
		"own message": fromMe,
		"group":       groupMsg,
		"status":      textEvent(types.StatusBroadcastJID, user, "story"),
		"non-text":    nonText,
		"nil message": {Info: types.MessageInfo{MessageSource: types.MessageSource{Chat: user}}},
	}
	for name, evt := range cases {
		if _, ok := toInbound(evt); ok {
			t.Errorf("%s: expected message to be filtered", name)
		}
	}
}

func TestWhatsAppService_HandleEventForwards(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	jid := types.NewJID("27821234567", types.DefaultUserServer)

	svc.handleEvent(textEvent(jid, jid, "Hi"))
	svc.handleEvent(&events.Connected{})

	select {
	case msg := <-svc.Messages():
		if msg.Body != "Hi" {
			t.Errorf("unexpected body %q", msg.Body)
		}
	default:
		t.Fatal("expected a forwarded message")
	}
	select {
	case msg := <-svc.Messages():
		t.Fatalf("unexpected second message %+v", msg)
	default:
	}
}

func TestWhatsAppService_SendMessage(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	ctx := context.Background()

	if err := svc.SendMessage(ctx, "27821234567", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	sent := mock.Messages()
	if len(sent) != 1 || sent[0].To != "27821234567" || sent[0].Body != "hello" {
		t.Errorf("unexpected sent messages %+v", sent)
	}

	mock.SendErr = errors.New("socket closed")
	if err := svc.SendMessage(ctx, "27821234567", "hello"); err == nil {
		t.Error("expected send error to propagate")
	}
}

func TestWhatsAppService_ReadyAndRegistration(t *testing.T) {
	mock := whatsapp.NewMockClient()
	mock.NotOnWA["27829999999"] = true
	svc := NewWhatsAppService(mock)

	if !svc.Ready() {
		t.Error("expected service ready")
	}
	mock.Ready = false
	if svc.Ready() {
		t.Error("expected service not ready")
	}
	on, err := svc.IsOnWhatsApp(context.Background(), "27829999999")
	if err != nil || on {
		t.Errorf("expected number not on WhatsApp, got %v %v", on, err)
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if _, ok := <-svc.Messages(); ok {
		t.Error("expected messages channel closed")
	}
	if err := svc.SendMessage(context.Background(), "27821234567", "late"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	jid := types.NewJID("27821234567", types.DefaultUserServer)
	svc.handleEvent(textEvent(jid, jid, "after stop"))
}
