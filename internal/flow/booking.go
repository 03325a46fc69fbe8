package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// BookingFlow collects a proposed viewing time and records the booking once confirmed.
type BookingFlow struct {
	leads store.LeadStore
	agent Agent
}

// NewBookingFlow creates the viewing booking flow.
func NewBookingFlow(leads store.LeadStore, agent Agent) *BookingFlow {
	return &BookingFlow{leads: leads, agent: agent}
}

func isAffirmative(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "yes") || strings.Contains(lower, "confirm")
}

// Handle advances the viewing booking flow by one turn.
func (f *BookingFlow) Handle(ctx context.Context, tc *TurnContext) (string, error) {
	sess := tc.Session

	if sess.ActiveFlow != models.FlowBooking {
		sess.StartBooking(models.StepRequestDateTime)
		slog.Debug("BookingFlow.Handle: started booking", "conversationID", sess.ConversationID)
		return `I'd be happy to schedule a viewing for you! When would you like to visit? (e.g., "Tomorrow at 2pm" or "Friday morning")`, nil
	}

	state := sess.Booking
	if state == nil {
		sess.ClearFlow()
		return "Let me know if you'd like to book a viewing!", nil
	}

	switch state.Step {
	case models.StepRequestDateTime:
		state.ProposedTime = tc.Message
		state.Step = models.StepConfirm
		return fmt.Sprintf("Great! So you'd like to visit %s. Let me check %s's availability...\n\n"+
			"✅ That time is available!\n\n"+
			`Shall I confirm this booking? Reply "yes" to confirm or "no" to try another time.`,
			state.ProposedTime, f.agent.Name), nil

	case models.StepConfirm:
		proposed := state.ProposedTime
		leadID := sess.LeadID
		sess.ClearFlow()

		if !isAffirmative(tc.Message) {
			return "No problem! Feel free to reach out when you'd like to schedule a viewing. Is there anything else I can help you with?", nil
		}
		if err := f.book(ctx, leadID, tc.ContactName, proposed); err != nil {
			slog.Error("BookingFlow.Handle: failed to create booking", "conversationID", sess.ConversationID, "leadID", leadID, "error", err)
			return fmt.Sprintf("I'm sorry, there was an error creating your booking. Please try again or contact %s directly.", f.agent.Name), nil
		}
		return fmt.Sprintf("✅ Perfect! Your viewing is confirmed for %s.\n\n"+
			"%s will see you then! You'll receive a confirmation SMS shortly.\n\n"+
			"Is there anything else I can help you with?", proposed, f.agent.Name), nil

	default:
		slog.Warn("BookingFlow.Handle: unknown step, resetting", "conversationID", sess.ConversationID, "step", state.Step)
		sess.ClearFlow()
		return "Let me know if you'd like to book a viewing!", nil
	}
}

// book writes the booking and, when the lead is known, marks it as booked.
func (f *BookingFlow) book(ctx context.Context, leadID, contactName, proposed string) error {
	b, err := f.leads.CreateBooking(ctx, models.Booking{
		AgentID:      f.agent.ID,
		LeadID:       leadID,
		Title:        "Viewing with " + displayName(contactName),
		ProposedTime: proposed,
		Type:         models.BookingTypeAI,
		Status:       models.BookingStatusPendingAgentReply,
	})
	if err != nil {
		return err
	}
	slog.Info("BookingFlow.book: created booking", "bookingID", b.ID, "leadID", leadID)
	if leadID == "" {
		return nil
	}
	if err := f.leads.UpdateLeadStatus(ctx, leadID, models.StatusViewingBooked); err != nil {
		return fmt.Errorf("failed to update lead status: %w", err)
	}
	return nil
}
