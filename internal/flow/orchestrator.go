// Package flow routes each inbound turn to a conversation flow and keeps the
// per-conversation session and the lead record in step with it.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/session"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

var timeNow = time.Now

// Orchestrator handles turns: load session, resolve intent, dispatch, reconcile, persist.
type Orchestrator struct {
	agent      Agent
	policy     Policy
	sessions   session.Store
	classifier IntentClassifier
	reconciler LeadReconciler
	handlers   map[models.Intent]Handler
	locks      *session.KeyedMutex
}

// Opts holds optional orchestrator settings.
type Opts struct {
	Policy   Policy
	Handlers map[models.Intent]Handler
}

// Option configures the orchestrator.
type Option func(*Opts)

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(o *Opts) { o.Policy = p }
}

// WithHandler replaces the handler for one intent.
func WithHandler(intent models.Intent, h Handler) Option {
	return func(o *Opts) {
		if o.Handlers == nil {
			o.Handlers = make(map[models.Intent]Handler)
		}
		o.Handlers[intent] = h
	}
}

// NewOrchestrator wires the dispatch table for agent.
func NewOrchestrator(agent Agent, sessions session.Store, classifier IntentClassifier, reconciler LeadReconciler, leads store.LeadStore, opts ...Option) *Orchestrator {
	cfg := Opts{Policy: DefaultPolicy()}
	for _, opt := range opts {
		opt(&cfg)
	}

	o := &Orchestrator{
		agent:      agent,
		policy:     cfg.Policy,
		sessions:   sessions,
		classifier: classifier,
		reconciler: reconciler,
		locks:      session.NewKeyedMutex(),
	}
	o.handlers = map[models.Intent]Handler{
		models.IntentSalesInquiry:   NewSalesFlow(leads, agent),
		models.IntentPropertySearch: NewPropertySearchFlow(leads, agent, cfg.Policy),
		models.IntentBooking:        NewBookingFlow(leads, agent),
		models.IntentKnowledgeBase:  knowledgeBaseHandler(),
		models.IntentGeneralChat:    HandlerFunc(o.generalChat),
	}
	for intent, h := range cfg.Handlers {
		o.handlers[intent] = h
	}
	return o
}

func (o *Orchestrator) generalChat(ctx context.Context, tc *TurnContext) (string, error) {
	return generalChatReply(o.policy.AssistantName, o.agent, tc.ContactName), nil
}

// ContactFromConversationID returns the user part of a chat id such as "27821234567@s.whatsapp.net".
func ContactFromConversationID(conversationID string) string {
	if i := strings.IndexByte(conversationID, '@'); i >= 0 {
		return conversationID[:i]
	}
	return conversationID
}

// HandleTurn produces the reply for one inbound message. It never fails: every
// downstream error degrades to a user-facing reply. Turns of the same
// conversation are processed one at a time.
func (o *Orchestrator) HandleTurn(ctx context.Context, t Turn) string {
	unlock := o.locks.Lock(t.ConversationID)
	defer unlock()

	if t.Contact == "" {
		t.Contact = ContactFromConversationID(t.ConversationID)
	}

	sess, err := o.sessions.GetOrCreate(ctx, t.ConversationID)
	if err != nil {
		slog.Error("Orchestrator.HandleTurn: session load failed, starting fresh", "conversationID", t.ConversationID, "error", err)
		sess = models.NewSession(t.ConversationID, timeNow())
	}

	intent := o.resolveIntent(ctx, sess, t.Message)
	slog.Info("Orchestrator.HandleTurn: determined intent", "conversationID", t.ConversationID, "intent", intent)

	tc := &TurnContext{Turn: t, Session: sess}
	reply, err := o.dispatch(ctx, intent, tc)
	if err != nil {
		slog.Error("Orchestrator.HandleTurn: handler failed, falling back to general chat", "conversationID", t.ConversationID, "intent", intent, "error", err)
		reply = generalChatReply(o.policy.AssistantName, o.agent, t.ContactName)
		sess.ClearFlow()
	}

	if reply != "" {
		leadID, err := o.reconciler.Reconcile(ctx, o.agent.ID, t.Contact, t.ContactName, t.Message, reply)
		if err != nil {
			slog.Error("Orchestrator.HandleTurn: lead reconciliation failed", "conversationID", t.ConversationID, "error", err)
		} else {
			sess.LeadID = leadID
		}
	}

	if sess.HasActiveFlow() {
		if err := o.sessions.Save(ctx, sess); err != nil {
			slog.Error("Orchestrator.HandleTurn: session save failed", "conversationID", t.ConversationID, "error", err)
		}
	} else if err := o.sessions.Clear(ctx, t.ConversationID); err != nil {
		slog.Error("Orchestrator.HandleTurn: session clear failed", "conversationID", t.ConversationID, "error", err)
	}
	return reply
}

// resolveIntent forces the active flow's intent and otherwise asks the classifier.
// A session holding an unrecognized flow is reset to general chat.
func (o *Orchestrator) resolveIntent(ctx context.Context, sess *models.Session, msg string) models.Intent {
	if sess.HasActiveFlow() {
		forced := sess.ActiveFlow.Intent()
		if forced != "" {
			return forced
		}
		slog.Warn("Orchestrator.resolveIntent: unknown active flow, resetting session", "conversationID", sess.ConversationID, "activeFlow", sess.ActiveFlow)
		sess.ClearFlow()
		return models.IntentGeneralChat
	}

	result, err := o.classifier.Classify(ctx, msg)
	if err != nil {
		slog.Warn("Orchestrator.resolveIntent: classifier failed, defaulting to general_chat", "conversationID", sess.ConversationID, "error", err)
		return models.IntentGeneralChat
	}
	slog.Debug("Orchestrator.resolveIntent: router output", "intent", result.Intent, "confidence", result.Confidence)
	if result.Confidence < o.policy.ConfidenceThreshold {
		slog.Debug("Orchestrator.resolveIntent: low confidence, defaulting to general_chat", "confidence", result.Confidence)
		return models.IntentGeneralChat
	}
	if !models.IsValidIntent(result.Intent) {
		return models.IntentGeneralChat
	}
	return result.Intent
}

// dispatch runs the handler for intent and turns a panic into an error.
func (o *Orchestrator) dispatch(ctx context.Context, intent models.Intent, tc *TurnContext) (reply string, err error) {
	h, ok := o.handlers[intent]
	if !ok {
		h = o.handlers[models.IntentGeneralChat]
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %s panicked: %v", intent, r)
		}
	}()
	return h.Handle(ctx, tc)
}
