package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// AgentIDHeader identifies the agent calling the send endpoint.
const AgentIDHeader = "X-Agent-Id"

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, okResponse{OK: true})
}

// sendMessageHandler sends an agent-written message to a lead and records it in the transcript.
func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	start := time.Now()
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.sendMessageHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)).Decode(&req); err != nil {
		slog.Warn("Server.sendMessageHandler: failed to decode JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if err := req.Validate(); err != nil {
		if errors.Is(err, models.ErrMessageTooLong) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "leadId and message are required")
		return
	}
	agentID := strings.TrimSpace(r.Header.Get(AgentIDHeader))
	if agentID == "" {
		writeError(w, http.StatusUnauthorized, "Missing agent id header")
		return
	}

	ctx := r.Context()
	lead, err := s.leads.GetLead(ctx, req.LeadID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("Server.sendMessageHandler: lead not found", "leadID", req.LeadID)
		writeError(w, http.StatusNotFound, "Lead not found")
		return
	}
	if err != nil {
		slog.Error("Server.sendMessageHandler: lead lookup failed", "error", err, "leadID", req.LeadID)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if lead.AgentID != agentID {
		slog.Warn("Server.sendMessageHandler: agent mismatch", "leadID", lead.ID, "leadAgentID", lead.AgentID, "agentID", agentID)
		writeError(w, http.StatusForbidden, "Agent not allowed to send for this lead")
		return
	}
	if lead.Contact == "" {
		writeError(w, http.StatusBadRequest, "Lead has no contact number")
		return
	}

	if !s.msgService.Ready() {
		slog.Error("Server.sendMessageHandler: messaging service not ready")
		writeError(w, http.StatusServiceUnavailable, "WhatsApp client not ready")
		return
	}

	registered, err := s.msgService.IsOnWhatsApp(ctx, lead.Contact)
	if err != nil {
		slog.Warn("Server.sendMessageHandler: registration check failed", "error", err, "contact", lead.Contact)
	}
	if !registered {
		slog.Warn("Server.sendMessageHandler: recipient not on WhatsApp", "contact", lead.Contact)
		writeError(w, http.StatusUnprocessableEntity, "Recipient phone number is not a WhatsApp user")
		return
	}

	if err := s.msgService.SendMessage(ctx, lead.Contact, req.Message); err != nil {
		slog.Error("Server.sendMessageHandler: send failed", "error", err, "leadID", lead.ID)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse{Error: "Failed to send WhatsApp message", Detail: err.Error()})
		return
	}

	sentBy := req.SentBy
	if sentBy == "" {
		sentBy = agentID
	}
	entry := models.TranscriptEntry{Role: models.RoleAgent, Content: req.Message, Timestamp: time.Now(), SentBy: sentBy}
	if err := s.leads.AppendTranscript(ctx, lead.ID, entry); err != nil {
		slog.Error("Server.sendMessageHandler: transcript append failed after send", "error", err, "leadID", lead.ID)
		writeJSONResponse(w, http.StatusAccepted, okResponse{OK: true, Warning: "message_sent_but_store_failed", Detail: err.Error()})
		return
	}

	slog.Info("Server.sendMessageHandler: agent message sent", "leadID", lead.ID, "elapsed", time.Since(start))
	writeJSONResponse(w, http.StatusOK, okResponse{OK: true})
}
