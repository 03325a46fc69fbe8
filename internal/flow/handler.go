package flow

import (
	"context"
	"fmt"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Turn is one inbound message as delivered by the messaging gateway.
type Turn struct {
	ConversationID string
	Contact        string
	ContactName    string
	Message        string
}

// TurnContext is what a handler sees: the turn plus the mutable session.
type TurnContext struct {
	Turn
	Session *models.Session
}

// Handler produces the reply for one routed turn. Handlers mutate the session in place.
type Handler interface {
	Handle(ctx context.Context, tc *TurnContext) (string, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, tc *TurnContext) (string, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, tc *TurnContext) (string, error) {
	return f(ctx, tc)
}

// IntentClassifier maps a message to a routing intent.
type IntentClassifier interface {
	Classify(ctx context.Context, message string) (models.Classification, error)
}

// LeadReconciler records a turn against the contact's lead and returns the lead id.
type LeadReconciler interface {
	Reconcile(ctx context.Context, agentID, contact, contactName, userMessage, reply string) (string, error)
}

// Canned replies for intents without a dedicated flow.
const (
	knowledgeBaseReply = "I'm sorry, my ability to answer general questions is still under development. I can currently help you with property inquiries and bookings."
	generalChatFormat  = "Hi %s! I'm %s, the AI assistant for %s. You can ask me to find properties, inquire about a listing, or schedule a viewing. How can I help?"
)

func knowledgeBaseHandler() Handler {
	return HandlerFunc(func(ctx context.Context, tc *TurnContext) (string, error) {
		return knowledgeBaseReply, nil
	})
}

func generalChatReply(assistant string, agent Agent, contactName string) string {
	return fmt.Sprintf(generalChatFormat, displayName(contactName), assistant, agent.Name)
}
