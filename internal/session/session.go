// Package session keeps the ephemeral per-conversation state used by the flow
// handlers between turns.
//
// Sessions with an active flow are kept until the flow ends. Flow-less
// sessions are evicted after an inactivity timeout by Sweep.
package session

import (
	"context"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// DefaultInactivityTimeout is how long a flow-less session may sit idle before Sweep evicts it.
const DefaultInactivityTimeout = time.Hour

// Store is a keyed session store.
// Implementations hand out copies: mutating a returned session has no effect until Save.
type Store interface {
	// GetOrCreate returns the session for conversationID, creating a fresh one if none exists.
	GetOrCreate(ctx context.Context, conversationID string) (*models.Session, error)
	// Save stores the session and refreshes LastUpdated.
	Save(ctx context.Context, s *models.Session) error
	// Clear removes the session for conversationID.
	Clear(ctx context.Context, conversationID string) error
	// Sweep evicts flow-less sessions idle longer than the inactivity timeout and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Opts holds configuration shared by the session stores.
type Opts struct {
	InactivityTimeout time.Duration
	Now               func() time.Time
}

// Option configures a session store.
type Option func(*Opts)

// WithInactivityTimeout overrides DefaultInactivityTimeout.
func WithInactivityTimeout(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.InactivityTimeout = d
		}
	}
}

// WithClock sets the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

func buildOpts(opts []Option) Opts {
	cfg := Opts{InactivityTimeout: DefaultInactivityTimeout, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
