// Package models defines flow and intent type definitions to avoid circular imports.
package models

// FlowType identifies which flow handler currently owns a conversation.
type FlowType string

// StepType represents a specific step within a flow.
type StepType string

// Intent is the classification label of an inbound message.
type Intent string

// Flow type constants.
const (
	FlowNone    FlowType = ""
	FlowSales   FlowType = "sales"
	FlowBooking FlowType = "booking"
)

// Sales qualification steps.
const (
	StepAskBudget      StepType = "ask_budget"
	StepAskTimeline    StepType = "ask_timeline"
	StepAskPreferences StepType = "ask_preferences"
)

// Booking steps.
const (
	StepRequestDateTime StepType = "request_datetime"
	StepConfirm         StepType = "confirm"
)

// Intent labels recognized by the router.
const (
	IntentSalesInquiry   Intent = "sales_flow_inquiry"
	IntentPropertySearch Intent = "property_search"
	IntentBooking        Intent = "booking_request"
	IntentKnowledgeBase  Intent = "knowledge_base_qa"
	IntentGeneralChat    Intent = "general_chat"
)

// Intents lists every label the classifier may return, in prompt order.
var Intents = []Intent{
	IntentSalesInquiry,
	IntentPropertySearch,
	IntentBooking,
	IntentKnowledgeBase,
	IntentGeneralChat,
}

// IsValidIntent checks if the given label is one of the recognized intents.
func IsValidIntent(i Intent) bool {
	switch i {
	case IntentSalesInquiry, IntentPropertySearch, IntentBooking, IntentKnowledgeBase, IntentGeneralChat:
		return true
	default:
		return false
	}
}

// Intent returns the intent that is forced while the flow is active.
func (f FlowType) Intent() Intent {
	switch f {
	case FlowSales:
		return IntentSalesInquiry
	case FlowBooking:
		return IntentBooking
	default:
		return ""
	}
}

// Classification is the router's decision for one message.
type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
}
