package flow

import (
	"context"
	"errors"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/leads"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/session"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"golang.org/x/text/language"
)

// mockClassifier returns a fixed classification and counts calls.
type mockClassifier struct {
	mu     sync.Mutex
	result models.Classification
	err    error
	calls  int
}

func (m *mockClassifier) Classify(ctx context.Context, message string) (models.Classification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.result, m.err
}

func (m *mockClassifier) set(intent models.Intent, confidence float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = models.Classification{Intent: intent, Confidence: confidence}
	m.err = nil
}

func (m *mockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// failingLeadStore fails selected writes on top of an in-memory store.
type failingLeadStore struct {
	*store.InMemoryStore
	failBooking bool
	failQualify bool
	failSearch  bool
}

var errStoreDown = errors.New("store unavailable")

func (s *failingLeadStore) CreateBooking(ctx context.Context, b models.Booking) (*models.Booking, error) {
	if s.failBooking {
		return nil, errStoreDown
	}
	return s.InMemoryStore.CreateBooking(ctx, b)
}

func (s *failingLeadStore) UpdateQualification(ctx context.Context, leadID string, q models.Qualification, status string) error {
	if s.failQualify {
		return errStoreDown
	}
	return s.InMemoryStore.UpdateQualification(ctx, leadID, q, status)
}

func (s *failingLeadStore) SearchProperties(ctx context.Context, agentID, suburb string) ([]models.Property, error) {
	if s.failSearch {
		return nil, errStoreDown
	}
	return s.InMemoryStore.SearchProperties(ctx, agentID, suburb)
}

var testAgent = Agent{ID: "agent-1", Name: "Sipho Dlamini"}

// testPolicy formats prices with plain English grouping so assertions are locale independent.
func testPolicy() Policy {
	p := DefaultPolicy()
	p.Locale = language.English
	return p
}

type harness struct {
	orch       *Orchestrator
	classifier *mockClassifier
	sessions   *session.MemoryStore
	leads      *failingLeadStore
}

func newHarness(opts ...Option) *harness {
	h := &harness{
		classifier: &mockClassifier{},
		sessions:   session.NewMemoryStore(),
		leads:      &failingLeadStore{InMemoryStore: store.NewInMemoryStore()},
	}
	opts = append([]Option{WithPolicy(testPolicy())}, opts...)
	h.orch = NewOrchestrator(testAgent, h.sessions, h.classifier, leads.NewReconciler(h.leads), h.leads, opts...)
	return h
}

func (h *harness) turn(msg string) string {
	return h.orch.HandleTurn(context.Background(), Turn{
		ConversationID: "27821234567@s.whatsapp.net",
		ContactName:    "Thandi",
		Message:        msg,
	})
}

func (h *harness) session() *models.Session {
	s, _ := h.sessions.GetOrCreate(context.Background(), "27821234567@s.whatsapp.net")
	return s
}

func (h *harness) lead() *models.Lead {
	l, err := h.leads.FindLeadByContact(context.Background(), testAgent.ID, "27821234567")
	if err != nil {
		return nil
	}
	full, _ := h.leads.GetLead(context.Background(), l.ID)
	return full
}
