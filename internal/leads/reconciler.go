// Package leads reconciles every answered turn into exactly one durable lead
// record per (agent, contact) pair.
package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/session"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// Reconciler finds or creates the lead for a contact and appends the turn to its transcript.
type Reconciler struct {
	store store.LeadStore
	locks *session.KeyedMutex
	now   func() time.Time
}

// NewReconciler creates a reconciler writing to st.
func NewReconciler(st store.LeadStore) *Reconciler {
	return &Reconciler{store: st, locks: session.NewKeyedMutex(), now: time.Now}
}

// Reconcile records the user message and the assistant reply for (agentID, contact)
// and returns the lead id. Lookup and create run under a per-contact lock, and a
// unique violation from a concurrent writer falls back to an append.
func (r *Reconciler) Reconcile(ctx context.Context, agentID, contact, contactName, userMessage, reply string) (string, error) {
	if agentID == "" {
		return "", models.ErrEmptyAgentID
	}
	if contact == "" {
		return "", models.ErrEmptyContact
	}

	unlock := r.locks.Lock(agentID + "\x00" + contact)
	defer unlock()

	now := r.now()
	turn := []models.TranscriptEntry{
		{Role: models.RoleUser, Content: userMessage, Timestamp: now},
		{Role: models.RoleAssistant, Content: reply, Timestamp: now},
	}

	existing, err := r.store.FindLeadByContact(ctx, agentID, contact)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("Reconciler.Reconcile: lead lookup failed", "agentID", agentID, "contact", contact, "error", err)
		return "", fmt.Errorf("failed to look up lead: %w", err)
	}
	if existing != nil {
		return r.appendTurn(ctx, existing.ID, turn)
	}

	created, err := r.store.CreateLead(ctx, models.Lead{
		AgentID:          agentID,
		Contact:          contact,
		Name:             contactName,
		Status:           models.StatusNewInquiry,
		ConversationMode: models.ModeAutomated,
		Transcript:       turn,
		CreatedAt:        now,
		LastContactAt:    now,
	})
	if errors.Is(err, store.ErrDuplicateLead) {
		// Another process created the lead between lookup and insert.
		slog.Warn("Reconciler.Reconcile: lead created concurrently, appending instead", "agentID", agentID, "contact", contact)
		existing, err = r.store.FindLeadByContact(ctx, agentID, contact)
		if err != nil {
			return "", fmt.Errorf("failed to look up lead after duplicate: %w", err)
		}
		return r.appendTurn(ctx, existing.ID, turn)
	}
	if err != nil {
		slog.Error("Reconciler.Reconcile: lead creation failed", "agentID", agentID, "contact", contact, "error", err)
		return "", fmt.Errorf("failed to create lead: %w", err)
	}
	slog.Info("Reconciler.Reconcile: created new lead", "leadID", created.ID, "agentID", agentID)
	return created.ID, nil
}

func (r *Reconciler) appendTurn(ctx context.Context, leadID string, turn []models.TranscriptEntry) (string, error) {
	if err := r.store.AppendTranscript(ctx, leadID, turn...); err != nil {
		slog.Error("Reconciler.appendTurn: transcript append failed", "leadID", leadID, "error", err)
		return "", fmt.Errorf("failed to append transcript: %w", err)
	}
	slog.Debug("Reconciler.appendTurn: logged interaction", "leadID", leadID)
	return leadID, nil
}
