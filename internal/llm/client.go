// Package llm provides the language-model clients behind a conversation.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/frontdesk/internal/config"
)

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// tools are OpenAI-format function definitions; nil disables tool use.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// New builds the client selected by cfg.Provider.
func New(cfg config.LLMConfig, logger *slog.Logger) (Client, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, timeout, logger), nil
	case "ollama":
		return NewOllamaClient(cfg.BaseURL, timeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Complete runs a single-prompt, tool-free completion and returns the
// trimmed reply text.
func Complete(ctx context.Context, c Client, model, prompt string) (string, error) {
	resp, err := c.Chat(ctx, model, []Message{{Role: "user", Content: prompt}}, nil)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty completion from %s", model)
	}
	return text, nil
}
