package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
)

// fakeCompleter records requests and replays canned responses.
type fakeCompleter struct {
	resp  openai.ChatCompletionResponse
	err   error
	calls []openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls = append(f.calls, req)
	return f.resp, f.err
}

func (f *fakeCompleter) ListModels(context.Context) (openai.ModelsList, error) {
	return openai.ModelsList{}, f.err
}

func TestOpenAIClient_ChatToolCall(t *testing.T) {
	fake := &fakeCompleter{resp: openai.ChatCompletionResponse{
		Model:   "gpt-4o-mini",
		Created: 1760000000,
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   "call_1",
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      "check_availability",
						Arguments: `{"room_type":"suite","guests":3}`,
					},
				}},
			},
		}},
		Usage: openai.Usage{PromptTokens: 120, CompletionTokens: 9},
	}}

	c := NewOpenAIClientWithAPI(fake, nil)
	tools := []map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        "check_availability",
			"description": "Check rooms",
			"parameters":  map[string]any{"type": "object"},
		},
	}}
	resp, err := c.Chat(context.Background(), "gpt-4o-mini", []Message{
		{Role: "system", Content: "be a concierge"},
		{Role: "user", Content: "any suites?"},
	}, tools)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	req := fake.calls[0]
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if len(req.Tools) != 1 || req.Tools[0].Function.Name != "check_availability" {
		t.Errorf("tools = %+v", req.Tools)
	}

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	call := resp.Message.ToolCalls[0]
	if call.ID != "call_1" || call.Function.Arguments["room_type"] != "suite" {
		t.Errorf("call = %+v", call)
	}
	if call.Function.Arguments["guests"] != float64(3) {
		t.Errorf("guests = %v (%T)", call.Function.Arguments["guests"], call.Function.Arguments["guests"])
	}
	if resp.InputTokens != 120 || resp.OutputTokens != 9 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
	if resp.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestOpenAIClient_BadArguments(t *testing.T) {
	fake := &fakeCompleter{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				ToolCalls: []openai.ToolCall{{Function: openai.FunctionCall{Name: "book_room", Arguments: "{not json"}}},
			},
		}},
	}}

	resp, err := NewOpenAIClientWithAPI(fake, nil).Chat(context.Background(), "m", nil, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got := resp.Message.ToolCalls[0].Function.Arguments["_raw"]; got != "{not json" {
		t.Errorf("_raw = %v", got)
	}
	if resp.Message.Role != "assistant" {
		t.Errorf("Role = %q, want assistant", resp.Message.Role)
	}
}

func TestOpenAIClient_Errors(t *testing.T) {
	c := NewOpenAIClientWithAPI(&fakeCompleter{err: errors.New("rate limited")}, nil)
	if _, err := c.Chat(context.Background(), "m", nil, nil); err == nil {
		t.Error("Chat should surface API errors")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping should surface API errors")
	}

	empty := NewOpenAIClientWithAPI(&fakeCompleter{}, nil)
	if _, err := empty.Chat(context.Background(), "m", nil, nil); err == nil {
		t.Error("Chat should fail on a response without choices")
	}
}

func TestConvertToOpenAI_ToolRoundTrip(t *testing.T) {
	msgs := convertToOpenAI([]Message{
		{Role: "assistant", ToolCalls: []ToolCall{{Function: FunctionCall{Name: "get_pricing"}}}},
		{Role: "tool", Content: `{"success":true}`, ToolCallID: "call_get_pricing_0"},
	})

	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	tc := msgs[0].ToolCalls[0]
	if tc.ID != "call_get_pricing_0" {
		t.Errorf("generated ID = %q", tc.ID)
	}
	if tc.Function.Arguments != "{}" {
		t.Errorf("nil arguments encoded as %q, want {}", tc.Function.Arguments)
	}
	if msgs[1].ToolCallID != tc.ID {
		t.Errorf("tool response ID %q does not match call %q", msgs[1].ToolCallID, tc.ID)
	}
}
