package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	opts     Opts
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		opts:     buildOpts(opts),
	}
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, conversationID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[conversationID]; ok {
		slog.Debug("MemoryStore.GetOrCreate: retrieved cached session", "conversationID", conversationID, "activeFlow", s.ActiveFlow)
		return s.Clone(), nil
	}
	s := models.NewSession(conversationID, m.opts.Now())
	m.sessions[conversationID] = s
	slog.Debug("MemoryStore.GetOrCreate: created new session", "conversationID", conversationID)
	return s.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, s *models.Session) error {
	stored := s.Clone()
	stored.LastUpdated = m.opts.Now()
	m.mu.Lock()
	m.sessions[s.ConversationID] = stored
	m.mu.Unlock()
	s.LastUpdated = stored.LastUpdated
	slog.Debug("MemoryStore.Save: saved session", "conversationID", s.ConversationID, "activeFlow", s.ActiveFlow, "step", s.Step())
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	delete(m.sessions, conversationID)
	m.mu.Unlock()
	slog.Debug("MemoryStore.Clear: cleared session", "conversationID", conversationID)
	return nil
}

func (m *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.IsStale(now, m.opts.InactivityTimeout) {
			delete(m.sessions, id)
			removed++
			slog.Debug("MemoryStore.Sweep: evicted stale session", "conversationID", id)
		}
	}
	return removed, nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
