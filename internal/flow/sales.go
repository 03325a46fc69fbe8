package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// SalesFlow qualifies a lead by asking for budget, timeline and preferences.
type SalesFlow struct {
	leads store.LeadStore
	agent Agent
}

// NewSalesFlow creates the sales qualification flow.
func NewSalesFlow(leads store.LeadStore, agent Agent) *SalesFlow {
	return &SalesFlow{leads: leads, agent: agent}
}

// Handle advances the qualification flow by one turn.
func (f *SalesFlow) Handle(ctx context.Context, tc *TurnContext) (string, error) {
	sess := tc.Session
	name := displayName(tc.ContactName)

	if sess.ActiveFlow != models.FlowSales {
		sess.StartSales(models.StepAskBudget, tc.ContactName)
		slog.Debug("SalesFlow.Handle: started qualification", "conversationID", sess.ConversationID)
		return fmt.Sprintf("Hi %s! I'd love to help you find the perfect property. To get started, what's your budget range?", name), nil
	}

	state := sess.Sales
	if state == nil {
		sess.ClearFlow()
		return fmt.Sprintf("How can I help you today, %s?", name), nil
	}

	switch state.Step {
	case models.StepAskBudget:
		state.Budget = tc.Message
		state.Step = models.StepAskTimeline
		return "Great! And when are you looking to move? (e.g., immediately, in 1-3 months, just exploring)", nil

	case models.StepAskTimeline:
		state.Timeline = tc.Message
		state.Step = models.StepAskPreferences
		return "Perfect! What are your must-haves? (e.g., number of bedrooms, location, garden, etc.)", nil

	case models.StepAskPreferences:
		state.Preferences = tc.Message
		q := models.Qualification{Budget: state.Budget, Timeline: state.Timeline, Preferences: state.Preferences}
		f.qualify(ctx, sess.LeadID, q)
		sess.ClearFlow()

		return fmt.Sprintf("Thank you, %s! Based on what you've told me:\n\n"+
			"💰 Budget: %s\n"+
			"📅 Timeline: %s\n"+
			"🏠 Preferences: %s\n\n"+
			"I can help you find perfect matches! Would you like me to search our listings, or would you prefer to book a viewing with %s?",
			name, q.Budget, q.Timeline, q.Preferences, f.agent.Name), nil

	default:
		slog.Warn("SalesFlow.Handle: unknown step, resetting", "conversationID", sess.ConversationID, "step", state.Step)
		sess.ClearFlow()
		return fmt.Sprintf("How can I help you today, %s?", name), nil
	}
}

// qualify stores the answers on the lead. Failures are logged only; a missing
// lead id skips the write.
func (f *SalesFlow) qualify(ctx context.Context, leadID string, q models.Qualification) {
	if leadID == "" {
		slog.Debug("SalesFlow.qualify: no lead id yet, skipping update")
		return
	}
	if err := f.leads.UpdateQualification(ctx, leadID, q, models.StatusQualified); err != nil {
		slog.Error("SalesFlow.qualify: failed to update lead", "leadID", leadID, "error", err)
		return
	}
	slog.Info("SalesFlow.qualify: lead qualified", "leadID", leadID)
}
