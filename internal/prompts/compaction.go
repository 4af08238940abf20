package prompts

import (
	"fmt"
	"strings"
)

// compactionTemplate is the prompt sent to an LLM to condense the older part
// of a live phone conversation. The first format verb is the agent's standing
// instructions, the second is the conversation text.
const compactionTemplate = `You are condensing the earlier part of a phone call between a hotel guest and the front desk agent. The agent will continue the call using only your summary plus the most recent exchanges.

The agent's standing instructions (for context only, do not summarize them):
%s

Record, as short bullet points:
1. Who the guest is (name, contact details they gave)
2. Bookings discussed, with confirmation numbers, dates, room types, and party size
3. Actions already taken (lookups, bookings, changes, cancellations) and their results
4. Open requests or questions the agent has not yet answered

Copy confirmation numbers, dates, and prices exactly. Keep the summary under 300 words.

Conversation:
%s

Summary:`

// CompactionPrompt returns the fully interpolated prompt for conversation
// compaction. The caller passes the pinned system instructions and the
// formatted conversation text (role: content pairs) to be condensed.
func CompactionPrompt(system string, conversationText string) string {
	if strings.TrimSpace(system) == "" {
		system = "(none)"
	}
	return fmt.Sprintf(compactionTemplate, system, conversationText)
}
