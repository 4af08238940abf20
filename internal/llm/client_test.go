package llm

import (
	"context"
	"testing"

	"github.com/nugget/frontdesk/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		provider string
		wantErr  bool
	}{
		{provider: "openai"},
		{provider: "ollama"},
		{provider: "cerebras", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			c, err := New(config.LLMConfig{Provider: tt.provider, TimeoutSec: 5}, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q) error = %v, wantErr %v", tt.provider, err, tt.wantErr)
			}
			if !tt.wantErr && c == nil {
				t.Fatal("New returned a nil client")
			}
		})
	}
}

// scriptedClient answers every Chat with the same message.
type scriptedClient struct {
	reply string
}

func (s scriptedClient) Chat(context.Context, string, []Message, []map[string]any) (*ChatResponse, error) {
	return &ChatResponse{Message: Message{Role: "assistant", Content: s.reply}}, nil
}

func (scriptedClient) Ping(context.Context) error { return nil }

func TestComplete(t *testing.T) {
	got, err := Complete(context.Background(), scriptedClient{reply: "  summary text \n"}, "m", "p")
	if err != nil || got != "summary text" {
		t.Errorf("Complete() = %q, %v", got, err)
	}
	if _, err := Complete(context.Background(), scriptedClient{reply: "   "}, "m", "p"); err == nil {
		t.Error("Complete should reject an empty reply")
	}
}
