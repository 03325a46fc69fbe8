package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func completionWith(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGenerateStructured_Success(t *testing.T) {
	mock := &mockChatService{resp: completionWith(`{"intent":"general_chat","confidence":0.9}`)}
	client := &Client{chat: mock, model: "test-model"}
	out, err := client.GenerateStructured(context.Background(), "system prompt", "user prompt", routerSchema())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != `{"intent":"general_chat","confidence":0.9}` {
		t.Errorf("unexpected content %q", out)
	}
	if len(mock.params.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(mock.params.Messages))
	}
	if mock.params.ResponseFormat.OfJSONSchema == nil || mock.params.ResponseFormat.OfJSONSchema.JSONSchema.Name != "intent_router" {
		t.Errorf("expected strict JSON schema response format")
	}
	if mock.params.Model != "test-model" {
		t.Errorf("expected model test-model, got %s", mock.params.Model)
	}
}

func TestGenerateStructured_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.GenerateStructured(context.Background(), "sys", "usr", routerSchema())
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGenerateStructured_NoChoices(t *testing.T) {
	mockResp := openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}
	client := &Client{chat: &mockChatService{resp: mockResp}}
	_, err := client.GenerateStructured(context.Background(), "sys", "usr", routerSchema())
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil || cli.model != "gpt-4o" {
		t.Errorf("expected client with model gpt-4o, got %+v", cli)
	}
}
