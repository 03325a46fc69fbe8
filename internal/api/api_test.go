package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
	"golang.org/x/time/rate"
)

const (
	testAgent   = "agent-1"
	testContact = "27821234567"
)

type failingAppendStore struct {
	*store.InMemoryStore
}

func (f failingAppendStore) AppendTranscript(ctx context.Context, leadID string, entries ...models.TranscriptEntry) error {
	return errors.New("disk full")
}

type fixture struct {
	server *Server
	store  *store.InMemoryStore
	wa     *whatsapp.MockClient
	leadID string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := store.NewInMemoryStore()
	lead, err := st.CreateLead(context.Background(), models.Lead{AgentID: testAgent, Contact: testContact, Name: "Thandi"})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	wa := whatsapp.NewMockClient()
	return &fixture{
		server: NewServer(messaging.NewWhatsAppService(wa), st, opts...),
		store:  st,
		wa:     wa,
		leadID: lead.ID,
	}
}

func (f *fixture) send(t *testing.T, body, agentID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/sendMessage", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if agentID != "" {
		req.Header.Set(AgentIDHeader, agentID)
	}
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	return rr
}

func sendBody(leadID, message, sentBy string) string {
	b, _ := json.Marshal(models.SendRequest{LeadID: leadID, Message: message, SentBy: sentBy})
	return string(b)
}

func TestHealthHandler(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != `{"ok":true}` {
		t.Errorf("unexpected body %s", rr.Body.String())
	}
}

func TestSendMessage_Success(t *testing.T) {
	f := newFixture(t)
	rr := f.send(t, sendBody(f.leadID, "The viewing is confirmed for Saturday.", ""), testAgent)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	sent := f.wa.Messages()
	if len(sent) != 1 || sent[0].To != testContact {
		t.Fatalf("unexpected sent %+v", sent)
	}
	lead, err := f.store.GetLead(context.Background(), f.leadID)
	if err != nil {
		t.Fatalf("GetLead: %v", err)
	}
	if len(lead.Transcript) != 1 {
		t.Fatalf("expected 1 transcript entry, got %d", len(lead.Transcript))
	}
	e := lead.Transcript[0]
	if e.Role != models.RoleAgent || e.SentBy != testAgent || e.Content != "The viewing is confirmed for Saturday." {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestSendMessage_SentByRecorded(t *testing.T) {
	f := newFixture(t)
	rr := f.send(t, sendBody(f.leadID, "Hello", "assistant-jane"), testAgent)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	lead, _ := f.store.GetLead(context.Background(), f.leadID)
	if lead.Transcript[0].SentBy != "assistant-jane" {
		t.Errorf("expected sentBy from request, got %q", lead.Transcript[0].SentBy)
	}
}

func TestSendMessage_StatusCodes(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture) string
		agentID string
		want    int
	}{
		{"invalid json", func(f *fixture) string { return "{" }, testAgent, http.StatusBadRequest},
		{"missing message", func(f *fixture) string { return sendBody(f.leadID, "", "") }, testAgent, http.StatusBadRequest},
		{"missing lead id", func(f *fixture) string { return sendBody("", "hi", "") }, testAgent, http.StatusBadRequest},
		{"missing agent header", func(f *fixture) string { return sendBody(f.leadID, "hi", "") }, "", http.StatusUnauthorized},
		{"unknown lead", func(f *fixture) string { return sendBody("nope", "hi", "") }, testAgent, http.StatusNotFound},
		{"agent mismatch", func(f *fixture) string { return sendBody(f.leadID, "hi", "") }, "agent-2", http.StatusForbidden},
		{"not ready", func(f *fixture) string {
			f.wa.Ready = false
			return sendBody(f.leadID, "hi", "")
		}, testAgent, http.StatusServiceUnavailable},
		{"not on whatsapp", func(f *fixture) string {
			f.wa.NotOnWA[testContact] = true
			return sendBody(f.leadID, "hi", "")
		}, testAgent, http.StatusUnprocessableEntity},
		{"registration check error", func(f *fixture) string {
			f.wa.CheckErr = errors.New("timeout")
			return sendBody(f.leadID, "hi", "")
		}, testAgent, http.StatusUnprocessableEntity},
		{"send failure", func(f *fixture) string {
			f.wa.SendErr = errors.New("socket closed")
			return sendBody(f.leadID, "hi", "")
		}, testAgent, http.StatusInternalServerError},
		{"message too long", func(f *fixture) string {
			return sendBody(f.leadID, strings.Repeat("a", models.MaxMessageLength+1), "")
		}, testAgent, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rr := f.send(t, tt.setup(f), tt.agentID)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
			if len(f.wa.Messages()) != 0 {
				t.Errorf("no message expected on failure, got %+v", f.wa.Messages())
			}
		})
	}
}

func TestSendMessage_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sendMessage", nil)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestSendMessage_StoreFailureAfterSend(t *testing.T) {
	st := store.NewInMemoryStore()
	lead, err := st.CreateLead(context.Background(), models.Lead{AgentID: testAgent, Contact: testContact})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	wa := whatsapp.NewMockClient()
	srv := NewServer(messaging.NewWhatsAppService(wa), failingAppendStore{st})

	req := httptest.NewRequest(http.MethodPost, "/api/sendMessage", strings.NewReader(sendBody(lead.ID, "hi", "")))
	req.Header.Set(AgentIDHeader, testAgent)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if len(wa.Messages()) != 1 {
		t.Error("message should have been sent")
	}
	var body okResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || body.Warning == "" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestLeadWithoutContact(t *testing.T) {
	f := newFixture(t)
	blank := &blankContactStore{InMemoryStore: f.store}
	srv := NewServer(messaging.NewWhatsAppService(f.wa), blank)

	req := httptest.NewRequest(http.MethodPost, "/api/sendMessage", strings.NewReader(sendBody(f.leadID, "hi", "")))
	req.Header.Set(AgentIDHeader, testAgent)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

type blankContactStore struct {
	*store.InMemoryStore
}

func (b *blankContactStore) GetLead(ctx context.Context, leadID string) (*models.Lead, error) {
	l, err := b.InMemoryStore.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	l.Contact = ""
	return l, nil
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	h := f.server.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/sendMessage", nil)
	req.Header.Set("Origin", "https://agentoptimus.co.za")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight: expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://agentoptimus.co.za" {
		t.Errorf("missing allow-origin header")
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), AgentIDHeader) {
		t.Errorf("agent header not allowed: %q", rr.Header().Get("Access-Control-Allow-Headers"))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin must not be allowed")
	}
}

func TestSendRateLimit(t *testing.T) {
	f := newFixture(t, WithSendRateLimit(rate.Limit(0.001), 2))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, f.send(t, sendBody(f.leadID, "hi", ""), testAgent).Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status sequence %v", codes)
	}
}

func TestTwilioWebhookMounted(t *testing.T) {
	called := false
	f := newFixture(t, WithTwilioWebhook(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", nil)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	if !called || rr.Code != http.StatusOK {
		t.Errorf("webhook not routed: called=%v code=%d", called, rr.Code)
	}

	plain := newFixture(t)
	rr = httptest.NewRecorder()
	plain.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/twilio", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 without webhook, got %d", rr.Code)
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, WithAddr("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}
