package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

type mockGenerator struct {
	out        string
	err        error
	userPrompt string
	schema     Schema
}

func (m *mockGenerator) GenerateStructured(ctx context.Context, systemPrompt, userPrompt string, schema Schema) (string, error) {
	m.userPrompt = userPrompt
	m.schema = schema
	return m.out, m.err
}

func TestClassify_Success(t *testing.T) {
	gen := &mockGenerator{out: `{"intent":"property_search","confidence":0.95}`}
	c := &IntentClassifier{gen: gen}
	got, err := c.Classify(context.Background(), "Show me houses in Klerksdorp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Intent != models.IntentPropertySearch || got.Confidence != 0.95 {
		t.Errorf("unexpected classification: %+v", got)
	}
	if !strings.Contains(gen.userPrompt, "Show me houses in Klerksdorp") {
		t.Errorf("message not forwarded: %q", gen.userPrompt)
	}
	if gen.schema.Name != "intent_router" {
		t.Errorf("expected intent_router schema, got %q", gen.schema.Name)
	}
}

func TestClassify_UnknownIntentFallsBack(t *testing.T) {
	c := &IntentClassifier{gen: &mockGenerator{out: `{"intent":"mortgage_calc","confidence":0.99}`}}
	got, err := c.Classify(context.Background(), "what's my bond repayment")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Intent != models.IntentGeneralChat {
		t.Errorf("expected general_chat, got %s", got.Intent)
	}
}

func TestClassify_ClampsConfidence(t *testing.T) {
	cases := map[string]float64{
		`{"intent":"booking_request","confidence":1.7}`:  1,
		`{"intent":"booking_request","confidence":-0.2}`: 0,
	}
	for raw, want := range cases {
		c := &IntentClassifier{gen: &mockGenerator{out: raw}}
		got, err := c.Classify(context.Background(), "book")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Confidence != want {
			t.Errorf("%s: expected confidence %v, got %v", raw, want, got.Confidence)
		}
	}
}

func TestClassify_Errors(t *testing.T) {
	c := &IntentClassifier{gen: &mockGenerator{err: errors.New("timeout")}}
	if _, err := c.Classify(context.Background(), "hi"); err == nil {
		t.Error("expected generator error to propagate")
	}
	c = &IntentClassifier{gen: &mockGenerator{out: "not json"}}
	if _, err := c.Classify(context.Background(), "hi"); err == nil {
		t.Error("expected parse error")
	}
}

func TestRouterSchema_ListsAllIntents(t *testing.T) {
	props := routerSchema().Definition["properties"].(map[string]any)
	enum := props["intent"].(map[string]any)["enum"].([]string)
	if len(enum) != len(models.Intents) {
		t.Fatalf("expected %d labels, got %d", len(models.Intents), len(enum))
	}
	for i, label := range enum {
		if label != string(models.Intents[i]) {
			t.Errorf("label %d: expected %s, got %s", i, models.Intents[i], label)
		}
	}
}
