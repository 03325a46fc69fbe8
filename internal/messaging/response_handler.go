package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// FallbackReply is sent when processing a message fails unexpectedly.
const FallbackReply = "Sorry, I had an error processing your message."

// TurnHandler produces the assistant reply for one inbound message.
type TurnHandler interface {
	HandleTurn(ctx context.Context, t flow.Turn) string
}

// ResponseHandler routes inbound messages from a messaging service to the
// orchestrator and sends the replies back.
type ResponseHandler struct {
	msgService   Service
	orchestrator TurnHandler
	leads        store.LeadStore
	dedup        store.DedupRepo
	agentID      string
	wg           sync.WaitGroup
}

// HandlerOption configures a ResponseHandler.
type HandlerOption func(*ResponseHandler)

// WithDedup drops inbound messages whose id was already recorded.
func WithDedup(repo store.DedupRepo) HandlerOption {
	return func(rh *ResponseHandler) { rh.dedup = repo }
}

// NewResponseHandler creates a ResponseHandler for the given agent.
func NewResponseHandler(msgService Service, orchestrator TurnHandler, leads store.LeadStore, agentID string, opts ...HandlerOption) *ResponseHandler {
	rh := &ResponseHandler{
		msgService:   msgService,
		orchestrator: orchestrator,
		leads:        leads,
		agentID:      agentID,
	}
	for _, opt := range opts {
		opt(rh)
	}
	return rh
}

// Start consumes Messages() until the channel closes or ctx is done.
// Each message is processed on its own goroutine.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler.Start: processing inbound messages")
	go func() {
		defer slog.Info("ResponseHandler.Start: stopped processing inbound messages")
		for {
			select {
			case msg, ok := <-rh.msgService.Messages():
				if !ok {
					slog.Debug("ResponseHandler.Start: messages channel closed")
					return
				}
				rh.wg.Add(1)
				go func(m models.InboundMessage) {
					defer rh.wg.Done()
					if err := rh.ProcessMessage(ctx, m); err != nil {
						slog.Error("ResponseHandler: failed to process message", "error", err, "conversationID", m.ConversationID)
					}
				}(msg)
			case <-ctx.Done():
				slog.Debug("ResponseHandler.Start: stopping due to context cancellation")
				return
			}
		}
	}()
}

// Wait blocks until in-flight messages have been processed.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}

// ProcessMessage handles one inbound message end to end.
func (rh *ResponseHandler) ProcessMessage(ctx context.Context, msg models.InboundMessage) error {
	if msg.ConversationID == "" || msg.Body == "" {
		return fmt.Errorf("inbound message missing conversation or body")
	}

	if rh.dedup != nil && msg.ID != "" {
		fresh, err := rh.dedup.RecordInbound(msg.ID, msg.ConversationID)
		if err != nil {
			slog.Warn("ResponseHandler.ProcessMessage: dedup record failed, processing anyway", "error", err, "messageID", msg.ID)
		} else if !fresh {
			slog.Debug("ResponseHandler.ProcessMessage: duplicate message skipped", "messageID", msg.ID)
			return nil
		} else {
			defer func() {
				if err := rh.dedup.MarkProcessed(msg.ID); err != nil {
					slog.Warn("ResponseHandler.ProcessMessage: mark processed failed", "error", err, "messageID", msg.ID)
				}
			}()
		}
	}

	contact := msg.Contact
	if contact == "" {
		contact = flow.ContactFromConversationID(msg.ConversationID)
	}

	handled, err := rh.handleHumanHandled(ctx, contact, msg.Body)
	if err != nil {
		slog.Error("ResponseHandler.ProcessMessage: human hand-off append failed", "error", err, "contact", contact)
	}
	if handled {
		return nil
	}

	reply := rh.handleTurn(ctx, flow.Turn{
		ConversationID: msg.ConversationID,
		Contact:        contact,
		ContactName:    msg.ContactName,
		Message:        msg.Body,
	})
	if reply == "" {
		return nil
	}
	if err := rh.msgService.SendMessage(ctx, contact, reply); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// handleHumanHandled records the message and reports true when the agent has
// taken the conversation over.
func (rh *ResponseHandler) handleHumanHandled(ctx context.Context, contact, body string) (bool, error) {
	lead, err := rh.leads.FindLeadByContact(ctx, rh.agentID, contact)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		slog.Warn("ResponseHandler.handleHumanHandled: lead lookup failed", "error", err, "contact", contact)
		return false, nil
	}
	if !lead.IsHumanHandled() {
		return false, nil
	}
	slog.Info("ResponseHandler: lead is human-handled, bot stays silent", "leadID", lead.ID)
	entry := models.TranscriptEntry{Role: models.RoleUser, Content: body, Timestamp: time.Now()}
	return true, rh.leads.AppendTranscript(ctx, lead.ID, entry)
}

// handleTurn calls the orchestrator, turning a panic into the fallback reply.
func (rh *ResponseHandler) handleTurn(ctx context.Context, t flow.Turn) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ResponseHandler.handleTurn: recovered from panic", "panic", r, "conversationID", t.ConversationID)
			reply = FallbackReply
		}
	}()
	return rh.orchestrator.HandleTurn(ctx, t)
}
