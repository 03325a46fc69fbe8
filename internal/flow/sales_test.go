package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

func salesTurn(f *SalesFlow, sess *models.Session, msg string) string {
	reply, _ := f.Handle(context.Background(), &TurnContext{
		Turn:    Turn{ConversationID: sess.ConversationID, ContactName: "Thandi", Message: msg},
		Session: sess,
	})
	return reply
}

func TestSalesFlow_Steps(t *testing.T) {
	f := NewSalesFlow(store.NewInMemoryStore(), testAgent)
	sess := models.NewSession("chat", time.Now())

	reply := salesTurn(f, sess, "I'm interested")
	if !strings.Contains(reply, "what's your budget range?") || sess.Step() != models.StepAskBudget {
		t.Fatalf("unexpected start: %q step=%s", reply, sess.Step())
	}
	if sess.Sales.ContactName != "Thandi" {
		t.Errorf("contact name not stored: %+v", sess.Sales)
	}

	salesTurn(f, sess, "R1m")
	if sess.Step() != models.StepAskTimeline || sess.Sales.Budget != "R1m" {
		t.Fatalf("budget step failed: %+v", sess.Sales)
	}
	salesTurn(f, sess, "soon")
	if sess.Step() != models.StepAskPreferences || sess.Sales.Timeline != "soon" {
		t.Fatalf("timeline step failed: %+v", sess.Sales)
	}
	reply = salesTurn(f, sess, "pool")
	if sess.HasActiveFlow() || sess.Sales != nil {
		t.Errorf("flow not cleared: %+v", sess)
	}
	if !strings.Contains(reply, "Budget: R1m") || !strings.Contains(reply, "Timeline: soon") || !strings.Contains(reply, "Preferences: pool") {
		t.Errorf("summary incomplete: %q", reply)
	}
}

func TestSalesFlow_NoLeadIDSkipsUpdate(t *testing.T) {
	st := &failingLeadStore{InMemoryStore: store.NewInMemoryStore(), failQualify: true}
	f := NewSalesFlow(st, testAgent)
	sess := models.NewSession("chat", time.Now())
	sess.StartSales(models.StepAskPreferences, "Thandi")

	reply := salesTurn(f, sess, "garden")
	if !strings.Contains(reply, "Thank you, Thandi!") {
		t.Errorf("expected summary, got %q", reply)
	}
}

func TestSalesFlow_QualifyFailureIsLoggedOnly(t *testing.T) {
	st := &failingLeadStore{InMemoryStore: store.NewInMemoryStore(), failQualify: true}
	f := NewSalesFlow(st, testAgent)
	sess := models.NewSession("chat", time.Now())
	sess.StartSales(models.StepAskPreferences, "Thandi")
	sess.LeadID = "lead-1"

	reply := salesTurn(f, sess, "garden")
	if !strings.Contains(reply, "Preferences: garden") || sess.HasActiveFlow() {
		t.Errorf("qualification failure should not change the reply: %q", reply)
	}
}

func TestSalesFlow_UnknownStepResets(t *testing.T) {
	f := NewSalesFlow(store.NewInMemoryStore(), testAgent)
	sess := models.NewSession("chat", time.Now())
	sess.StartSales("bogus", "Thandi")

	reply := salesTurn(f, sess, "hello?")
	if reply != "How can I help you today, Thandi?" {
		t.Errorf("unexpected reply %q", reply)
	}
	if sess.HasActiveFlow() {
		t.Error("flow should be cleared")
	}
}
