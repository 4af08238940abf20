package window

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/frontdesk/internal/llm"
	"github.com/nugget/frontdesk/internal/prompts"
	"github.com/nugget/frontdesk/internal/session"
)

// LLMSummarizer asks the conversation's language model for the summary.
type LLMSummarizer struct {
	client llm.Client
	model  string
}

// NewLLMSummarizer creates a summarizer that uses model on client.
func NewLLMSummarizer(client llm.Client, model string) *LLMSummarizer {
	return &LLMSummarizer{client: client, model: model}
}

// Summarize renders the entries as a transcript and asks the model to
// condense it. An earlier summary in the span is carried in as context.
func (s *LLMSummarizer) Summarize(ctx context.Context, system session.Entry, entries []session.Entry) (string, error) {
	return llm.Complete(ctx, s.client, s.model, prompts.CompactionPrompt(system.Content, transcript(entries)))
}

func transcript(entries []session.Entry) string {
	var sb strings.Builder
	for _, e := range entries {
		role := string(e.Role)
		if e.Summary {
			role = "Earlier summary"
		} else if role != "" {
			role = strings.ToUpper(role[:1]) + role[1:]
		}
		fmt.Fprintf(&sb, "%s: %s\n\n", role, e.Content)
	}
	return sb.String()
}

// SimpleSummarizer builds an extractive summary without a model. It is
// selected with conversation.context.summarizer: simple.
type SimpleSummarizer struct{}

// Summarize lists the guest's short utterances as topics.
func (SimpleSummarizer) Summarize(_ context.Context, _ session.Entry, entries []session.Entry) (string, error) {
	var topics []string
	var earlier string
	for _, e := range entries {
		switch {
		case e.Summary:
			earlier = e.Content
		case e.Role == session.RoleUser && len(e.Content) < 100:
			topics = append(topics, "- "+e.Content)
		}
	}

	var sb strings.Builder
	if earlier != "" {
		sb.WriteString("Earlier:\n")
		sb.WriteString(earlier)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Guest said:\n")
	if len(topics) == 0 {
		sb.WriteString("- General conversation\n")
	}
	for _, t := range topics[max(0, len(topics)-5):] {
		sb.WriteString(t + "\n")
	}
	return sb.String(), nil
}
