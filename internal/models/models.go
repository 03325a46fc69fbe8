// Package models defines the core data structures for LeadPipe.
//
// It includes lead records, transcripts, listings, bookings and inbound messages,
// which are shared across the store, flow and messaging modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Role identifies the author of a transcript entry.
type Role string

const (
	// RoleUser is the contact writing in over WhatsApp.
	RoleUser Role = "user"
	// RoleAssistant is the automated assistant.
	RoleAssistant Role = "assistant"
	// RoleAgent is the human agent replying through the send API.
	RoleAgent Role = "agent"
)

// ConversationMode says who is currently answering a lead.
type ConversationMode string

const (
	// ModeAutomated lets the assistant answer.
	ModeAutomated ConversationMode = "automated"
	// ModeHumanHandled means the agent took the conversation over; the assistant stays silent.
	ModeHumanHandled ConversationMode = "human-handled"
)

// Lead pipeline stages written by the assistant.
const (
	StatusNewInquiry    = "New Inquiry"
	StatusQualified     = "Qualified"
	StatusViewingBooked = "Viewing Booked"
)

// Booking constants.
const (
	BookingTypeAI                  = "ai_booking"
	BookingStatusPendingAgentReply = "pending_agent_confirmation"
)

// BotStatusType describes the gateway connection state shown on the dashboard.
type BotStatusType string

const (
	BotStatusPendingQR BotStatusType = "pending_qr_scan"
	BotStatusOnline    BotStatusType = "online"
	BotStatusOffline   BotStatusType = "offline"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for an outbound agent message
	MaxMessageLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptyLeadID       = errors.New("leadId is required")
	ErrEmptyMessage      = errors.New("message is required")
	ErrMessageTooLong    = errors.New("message exceeds maximum length")
	ErrEmptyAgentID      = errors.New("agent id is required")
	ErrEmptyContact      = errors.New("contact identifier is required")
	ErrInvalidTranscript = errors.New("transcript entry requires a role and content")
)

// TranscriptEntry is one message in a lead's conversation history.
type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	SentBy    string    `json:"sentBy,omitempty"`
}

// Validate checks that the entry can be appended to a transcript.
func (e TranscriptEntry) Validate() error {
	if e.Role == "" || e.Content == "" {
		return ErrInvalidTranscript
	}
	return nil
}

// Qualification holds the answers collected by the sales qualification flow.
type Qualification struct {
	Budget      string `json:"financial_position,omitempty"`
	Timeline    string `json:"timeline,omitempty"`
	Preferences string `json:"preferences,omitempty"`
}

// Lead is the durable record of one prospective customer of one agent.
// There is at most one Lead per (AgentID, Contact) pair.
type Lead struct {
	ID               string            `json:"id"`
	AgentID          string            `json:"agentId"`
	Contact          string            `json:"contact"`
	Name             string            `json:"name"`
	Status           string            `json:"status"`
	ConversationMode ConversationMode  `json:"conversationMode"`
	Qualification    Qualification     `json:"qualification"`
	Transcript       []TranscriptEntry `json:"conversation"`
	CreatedAt        time.Time         `json:"createdAt"`
	LastContactAt    time.Time         `json:"lastContactAt"`
}

// Validate performs the checks required before a lead is created.
func (l *Lead) Validate() error {
	if l.AgentID == "" {
		return ErrEmptyAgentID
	}
	if l.Contact == "" {
		return ErrEmptyContact
	}
	for _, e := range l.Transcript {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// IsHumanHandled reports whether the agent has taken the conversation over.
func (l *Lead) IsHumanHandled() bool {
	return l.ConversationMode == ModeHumanHandled
}

// Property is a listing owned by an agent.
type Property struct {
	ID        string  `json:"id"`
	AgentID   string  `json:"agentId"`
	Title     string  `json:"title"`
	Address   string  `json:"address"`
	Suburb    string  `json:"suburb"`
	Price     float64 `json:"price"`
	Bedrooms  int     `json:"bedrooms,omitempty"`
	Bathrooms int     `json:"bathrooms,omitempty"`
	Garages   int     `json:"garages,omitempty"`
	Specs     string  `json:"specs,omitempty"`
	URL       string  `json:"propertyUrl"`
}

// SuburbKey returns the normalized suburb used for search matching.
func (p *Property) SuburbKey() string {
	return NormalizeSuburb(p.Suburb)
}

// NormalizeSuburb lower-cases and trims a suburb name.
func NormalizeSuburb(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Booking is a viewing request captured by the booking flow.
type Booking struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agentId"`
	LeadID       string    `json:"leadId,omitempty"`
	Title        string    `json:"title"`
	ProposedTime string    `json:"proposedTime"`
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// BotStatus is the dashboard-facing connection state of the gateway.
type BotStatus struct {
	AgentID   string        `json:"agentId"`
	Status    BotStatusType `json:"status"`
	AgentName string        `json:"agentName"`
	LastSeen  time.Time     `json:"lastSeen"`
}

// InboundMessage is a text message received from a contact.
type InboundMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"` // chat JID, e.g. 27821234567@s.whatsapp.net
	Contact        string `json:"contact"`         // canonical phone number, digits only
	ContactName    string `json:"contact_name"`
	Body           string `json:"body"`
	Time           int64  `json:"time"`
}

// SendRequest is the body accepted by the manual send endpoint.
type SendRequest struct {
	LeadID  string `json:"leadId"`
	Message string `json:"message"`
	SentBy  string `json:"sentBy,omitempty"`
}

// Validate checks the required fields of a send request.
func (r *SendRequest) Validate() error {
	if r.LeadID == "" {
		return ErrEmptyLeadID
	}
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
