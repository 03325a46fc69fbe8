package models

import (
	"testing"
	"time"
)

func TestSessionClearFlowKeepsLeadID(t *testing.T) {
	s := NewSession("27820000000@s.whatsapp.net", time.Now())
	s.LeadID = "lead-1"
	s.StartSales(StepAskBudget, "Thandi")
	if !s.HasActiveFlow() || s.Step() != StepAskBudget {
		t.Fatalf("expected active sales flow at ask_budget, got %q/%q", s.ActiveFlow, s.Step())
	}

	s.ClearFlow()
	if s.HasActiveFlow() || s.Sales != nil || s.Step() != "" {
		t.Errorf("flow state not cleared: %+v", s)
	}
	if s.LeadID != "lead-1" {
		t.Errorf("expected lead id to survive, got %q", s.LeadID)
	}
}

func TestSessionStartFlowReplacesOther(t *testing.T) {
	s := NewSession("c", time.Now())
	s.StartSales(StepAskTimeline, "x")
	s.StartBooking(StepRequestDateTime)
	if s.Sales != nil {
		t.Error("sales state should be dropped when booking starts")
	}
	if s.Step() != StepRequestDateTime {
		t.Errorf("expected request_datetime, got %q", s.Step())
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := NewSession("c", time.Now())
	s.StartBooking(StepConfirm).ProposedTime = "Friday"
	c := s.Clone()
	c.Booking.ProposedTime = "Monday"
	if s.Booking.ProposedTime != "Friday" {
		t.Error("clone shares booking state with original")
	}
}

func TestSessionIsStale(t *testing.T) {
	now := time.Now()
	old := NewSession("c", now.Add(-2*time.Hour))
	if !old.IsStale(now, time.Hour) {
		t.Error("expected idle flow-less session to be stale")
	}
	old.StartSales(StepAskBudget, "x")
	if old.IsStale(now, time.Hour) {
		t.Error("session with active flow must never be stale")
	}
}

func TestFlowIntent(t *testing.T) {
	if FlowSales.Intent() != IntentSalesInquiry || FlowBooking.Intent() != IntentBooking {
		t.Error("flow to intent mapping broken")
	}
	if FlowNone.Intent() != "" {
		t.Error("no flow should map to no intent")
	}
}

func TestIsValidIntent(t *testing.T) {
	for _, i := range Intents {
		if !IsValidIntent(i) {
			t.Errorf("expected %q to be valid", i)
		}
	}
	if IsValidIntent("small_talk") {
		t.Error("unexpected intent accepted")
	}
}

func TestSendRequestValidate(t *testing.T) {
	cases := []struct {
		req  SendRequest
		want error
	}{
		{SendRequest{Message: "hi"}, ErrEmptyLeadID},
		{SendRequest{LeadID: "l1", Message: "  "}, ErrEmptyMessage},
		{SendRequest{LeadID: "l1", Message: "hi"}, nil},
	}
	for _, c := range cases {
		if got := c.req.Validate(); got != c.want {
			t.Errorf("Validate(%+v) = %v, want %v", c.req, got, c.want)
		}
	}
}

func TestLeadValidate(t *testing.T) {
	l := Lead{AgentID: "a", Contact: "27820000000", Transcript: []TranscriptEntry{{Role: RoleUser}}}
	if err := l.Validate(); err != ErrInvalidTranscript {
		t.Errorf("expected ErrInvalidTranscript, got %v", err)
	}
	l.Transcript[0].Content = "hello"
	if err := l.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
