// Package store provides storage backends for LeadPipe.
//
// It includes an in-memory store for tests and local runs, and SQLite/PostgreSQL
// backends for durable lead records, transcripts, listings and bookings.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors shared by every backend.
var (
	// ErrNotFound is returned when a lead (or other record) does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateLead is returned when a lead already exists for the (agent, contact) pair.
	ErrDuplicateLead = errors.New("lead already exists for this contact")
)

// LeadStore holds the durable lead records owned by one or more agents.
// Transcript mutation is append-only.
type LeadStore interface {
	// FindLeadByContact returns the lead for (agentID, contact) without its transcript.
	FindLeadByContact(ctx context.Context, agentID, contact string) (*models.Lead, error)
	// GetLead returns a lead with its full transcript.
	GetLead(ctx context.Context, leadID string) (*models.Lead, error)
	// CreateLead inserts a lead together with its initial transcript in one write.
	CreateLead(ctx context.Context, lead models.Lead) (*models.Lead, error)
	// AppendTranscript atomically appends entries in order and refreshes lastContactAt.
	AppendTranscript(ctx context.Context, leadID string, entries ...models.TranscriptEntry) error
	UpdateLeadStatus(ctx context.Context, leadID, status string) error
	UpdateQualification(ctx context.Context, leadID string, q models.Qualification, status string) error
	SetConversationMode(ctx context.Context, leadID string, mode models.ConversationMode) error
	CreateBooking(ctx context.Context, b models.Booking) (*models.Booking, error)
	AddProperty(ctx context.Context, p models.Property) (*models.Property, error)
	// SearchProperties matches listings of agentID on the normalized suburb.
	SearchProperties(ctx context.Context, agentID, suburb string) ([]models.Property, error)
}

// StatusStore keeps the dashboard-facing bot status document.
type StatusStore interface {
	SaveBotStatus(ctx context.Context, status models.BotStatus) error
	TouchBotStatus(ctx context.Context, agentID string, at time.Time) error
	GetBotStatus(ctx context.Context, agentID string) (*models.BotStatus, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	LeadStore
	StatusStore
	DedupRepo
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// newLeadID returns a fresh random lead identifier.
func newLeadID() string {
	return uuid.NewString()
}

// prepareLead fills in defaults before a lead is inserted.
func prepareLead(lead models.Lead, now time.Time) (models.Lead, error) {
	if err := lead.Validate(); err != nil {
		return lead, err
	}
	if lead.ID == "" {
		lead.ID = newLeadID()
	}
	if lead.Status == "" {
		lead.Status = models.StatusNewInquiry
	}
	if lead.ConversationMode == "" {
		lead.ConversationMode = models.ModeAutomated
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	if lead.LastContactAt.IsZero() {
		lead.LastContactAt = now
	}
	for i := range lead.Transcript {
		if lead.Transcript[i].Timestamp.IsZero() {
			lead.Transcript[i].Timestamp = now
		}
	}
	return lead, nil
}

// InMemoryStore is a simple in-memory Store used for tests and local development.
type InMemoryStore struct {
	mu         sync.RWMutex
	leads      map[string]*models.Lead
	byContact  map[string]string
	properties []models.Property
	bookings   []models.Booking
	statuses   map[string]models.BotStatus
	dedup      map[string]*DedupRecord
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		leads:     make(map[string]*models.Lead),
		byContact: make(map[string]string),
		statuses:  make(map[string]models.BotStatus),
		dedup:     make(map[string]*DedupRecord),
	}
}

func contactKey(agentID, contact string) string {
	return agentID + "\x00" + contact
}

func copyLead(l *models.Lead, withTranscript bool) *models.Lead {
	c := *l
	c.Transcript = nil
	if withTranscript {
		c.Transcript = append([]models.TranscriptEntry(nil), l.Transcript...)
	}
	return &c
}

func (s *InMemoryStore) FindLeadByContact(ctx context.Context, agentID, contact string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byContact[contactKey(agentID, contact)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLead(s.leads[id], false), nil
}

func (s *InMemoryStore) GetLead(ctx context.Context, leadID string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[leadID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLead(l, true), nil
}

func (s *InMemoryStore) CreateLead(ctx context.Context, lead models.Lead) (*models.Lead, error) {
	lead, err := prepareLead(lead, time.Now())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := contactKey(lead.AgentID, lead.Contact)
	if _, exists := s.byContact[key]; exists {
		return nil, ErrDuplicateLead
	}
	stored := copyLead(&lead, true)
	s.leads[lead.ID] = stored
	s.byContact[key] = lead.ID
	return copyLead(stored, true), nil
}

func (s *InMemoryStore) AppendTranscript(ctx context.Context, leadID string, entries ...models.TranscriptEntry) error {
	now := time.Now()
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return ErrNotFound
	}
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		l.Transcript = append(l.Transcript, e)
	}
	l.LastContactAt = now
	return nil
}

func (s *InMemoryStore) UpdateLeadStatus(ctx context.Context, leadID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return ErrNotFound
	}
	l.Status = status
	l.LastContactAt = time.Now()
	return nil
}

func (s *InMemoryStore) UpdateQualification(ctx context.Context, leadID string, q models.Qualification, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return ErrNotFound
	}
	l.Qualification = q
	l.Status = status
	l.LastContactAt = time.Now()
	return nil
}

func (s *InMemoryStore) SetConversationMode(ctx context.Context, leadID string, mode models.ConversationMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return ErrNotFound
	}
	l.ConversationMode = mode
	return nil
}

func (s *InMemoryStore) CreateBooking(ctx context.Context, b models.Booking) (*models.Booking, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings = append(s.bookings, b)
	return &b, nil
}

// Bookings returns all stored bookings (for tests).
func (s *InMemoryStore) Bookings() []models.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Booking(nil), s.bookings...)
}

// LeadCount returns the number of stored leads (for tests).
func (s *InMemoryStore) LeadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leads)
}

func (s *InMemoryStore) AddProperty(ctx context.Context, p models.Property) (*models.Property, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties = append(s.properties, p)
	return &p, nil
}

func (s *InMemoryStore) SearchProperties(ctx context.Context, agentID, suburb string) ([]models.Property, error) {
	key := models.NormalizeSuburb(suburb)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Property
	for _, p := range s.properties {
		if p.AgentID == agentID && p.SuburbKey() == key {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out, nil
}

func (s *InMemoryStore) SaveBotStatus(ctx context.Context, status models.BotStatus) error {
	if status.LastSeen.IsZero() {
		status.LastSeen = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[status.AgentID] = status
	return nil
}

func (s *InMemoryStore) TouchBotStatus(ctx context.Context, agentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[agentID]
	if !ok {
		return ErrNotFound
	}
	st.LastSeen = at
	s.statuses[agentID] = st
	return nil
}

func (s *InMemoryStore) GetBotStatus(ctx context.Context, agentID string) (*models.BotStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &DedupRecord{MessageID: messageID, ConversationID: conversationID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	rec.ProcessedAt = &now
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
