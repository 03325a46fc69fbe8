// Package models defines per-conversation session state for LeadPipe flows.
package models

import "time"

// SalesFlowState holds the answers collected by the sales qualification flow.
type SalesFlowState struct {
	Step        StepType `json:"step,omitempty"`
	ContactName string   `json:"contact_name,omitempty"`
	Budget      string   `json:"budget,omitempty"`
	Timeline    string   `json:"timeline,omitempty"`
	Preferences string   `json:"preferences,omitempty"`
}

// BookingFlowState holds the slot proposed in the booking flow.
type BookingFlowState struct {
	Step         StepType `json:"step,omitempty"`
	ProposedTime string   `json:"proposed_time,omitempty"`
}

// Session is the ephemeral state of one conversation.
// Sales and Booking are only meaningful while ActiveFlow names them.
type Session struct {
	ConversationID string            `json:"conversation_id"`
	ActiveFlow     FlowType          `json:"active_flow,omitempty"`
	Sales          *SalesFlowState   `json:"sales,omitempty"`
	Booking        *BookingFlowState `json:"booking,omitempty"`
	LeadID         string            `json:"lead_id,omitempty"`
	LastUpdated    time.Time         `json:"last_updated"`
}

// NewSession returns a fresh session with no active flow.
func NewSession(conversationID string, now time.Time) *Session {
	return &Session{ConversationID: conversationID, LastUpdated: now}
}

// HasActiveFlow reports whether a flow handler still owns the conversation.
func (s *Session) HasActiveFlow() bool {
	return s.ActiveFlow != FlowNone
}

// Step returns the current step of the active flow, or "" when none.
func (s *Session) Step() StepType {
	switch s.ActiveFlow {
	case FlowSales:
		if s.Sales != nil {
			return s.Sales.Step
		}
	case FlowBooking:
		if s.Booking != nil {
			return s.Booking.Step
		}
	}
	return ""
}

// StartSales makes the sales flow active at the given step.
func (s *Session) StartSales(step StepType, contactName string) *SalesFlowState {
	s.ActiveFlow = FlowSales
	s.Booking = nil
	s.Sales = &SalesFlowState{Step: step, ContactName: contactName}
	return s.Sales
}

// StartBooking makes the booking flow active at the given step.
func (s *Session) StartBooking(step StepType) *BookingFlowState {
	s.ActiveFlow = FlowBooking
	s.Sales = nil
	s.Booking = &BookingFlowState{Step: step}
	return s.Booking
}

// ClearFlow drops the active flow together with its collected fields.
// LeadID survives since it belongs to the conversation, not the flow.
func (s *Session) ClearFlow() {
	s.ActiveFlow = FlowNone
	s.Sales = nil
	s.Booking = nil
}

// Clone returns a deep copy so callers can mutate it without touching the stored value.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Sales != nil {
		sales := *s.Sales
		c.Sales = &sales
	}
	if s.Booking != nil {
		booking := *s.Booking
		c.Booking = &booking
	}
	return &c
}

// IsStale reports whether a flow-less session has been idle longer than timeout.
// Sessions with an active flow are never stale.
func (s *Session) IsStale(now time.Time, timeout time.Duration) bool {
	if s.HasActiveFlow() {
		return false
	}
	return now.Sub(s.LastUpdated) > timeout
}
