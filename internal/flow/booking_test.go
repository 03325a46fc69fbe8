package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

func bookingTurn(f *BookingFlow, sess *models.Session, msg string) string {
	reply, _ := f.Handle(context.Background(), &TurnContext{
		Turn:    Turn{ConversationID: sess.ConversationID, ContactName: "Thandi", Message: msg},
		Session: sess,
	})
	return reply
}

func TestBookingFlow_ConfirmEchoesProposedTime(t *testing.T) {
	st := store.NewInMemoryStore()
	f := NewBookingFlow(st, testAgent)
	sess := models.NewSession("chat", time.Now())

	bookingTurn(f, sess, "I want to view the house")
	if sess.Step() != models.StepRequestDateTime {
		t.Fatalf("expected request_datetime, got %s", sess.Step())
	}
	reply := bookingTurn(f, sess, "Friday morning")
	if !strings.Contains(reply, "visit Friday morning") || !strings.Contains(reply, "Sipho Dlamini's availability") {
		t.Errorf("unexpected proposal reply %q", reply)
	}
	if sess.Step() != models.StepConfirm || sess.Booking.ProposedTime != "Friday morning" {
		t.Fatalf("proposal not stored: %+v", sess.Booking)
	}

	reply = bookingTurn(f, sess, "CONFIRM")
	if !strings.Contains(reply, "confirmed for Friday morning.") {
		t.Errorf("confirmation must echo the proposed time, got %q", reply)
	}
	if sess.HasActiveFlow() {
		t.Error("flow should be cleared after confirmation")
	}
	b := st.Bookings()
	if len(b) != 1 || b[0].LeadID != "" || b[0].Type != models.BookingTypeAI || b[0].Status != models.BookingStatusPendingAgentReply {
		t.Errorf("unexpected bookings: %+v", b)
	}
}

func TestBookingFlow_Decline(t *testing.T) {
	st := store.NewInMemoryStore()
	f := NewBookingFlow(st, testAgent)
	sess := models.NewSession("chat", time.Now())
	sess.StartBooking(models.StepConfirm).ProposedTime = "Monday"

	reply := bookingTurn(f, sess, "actually let me think")
	if !strings.HasPrefix(reply, "No problem!") {
		t.Errorf("expected decline reply, got %q", reply)
	}
	if sess.HasActiveFlow() || len(st.Bookings()) != 0 {
		t.Error("decline must clear the flow without booking")
	}
}

func TestBookingFlow_WriteFailureApologizes(t *testing.T) {
	st := &failingLeadStore{InMemoryStore: store.NewInMemoryStore(), failBooking: true}
	f := NewBookingFlow(st, testAgent)
	sess := models.NewSession("chat", time.Now())
	sess.StartBooking(models.StepConfirm).ProposedTime = "Monday"

	reply := bookingTurn(f, sess, "yes")
	want := "I'm sorry, there was an error creating your booking. Please try again or contact Sipho Dlamini directly."
	if reply != want {
		t.Errorf("expected %q, got %q", want, reply)
	}
	if sess.HasActiveFlow() {
		t.Error("failed booking must abort the flow")
	}
}

func TestBookingFlow_UnknownLeadStatusUpdateFails(t *testing.T) {
	st := store.NewInMemoryStore()
	f := NewBookingFlow(st, testAgent)
	sess := models.NewSession("chat", time.Now())
	sess.StartBooking(models.StepConfirm).ProposedTime = "Monday"
	sess.LeadID = "missing-lead"

	reply := bookingTurn(f, sess, "yes")
	if !strings.HasPrefix(reply, "I'm sorry, there was an error creating your booking.") {
		t.Errorf("expected apology when the lead update fails, got %q", reply)
	}
}

func TestBookingFlow_UnknownStep(t *testing.T) {
	f := NewBookingFlow(store.NewInMemoryStore(), testAgent)
	sess := models.NewSession("chat", time.Now())
	sess.StartBooking("bogus")
	if reply := bookingTurn(f, sess, "hi"); reply != "Let me know if you'd like to book a viewing!" {
		t.Errorf("unexpected reply %q", reply)
	}
	if sess.HasActiveFlow() {
		t.Error("flow should be cleared")
	}
}
