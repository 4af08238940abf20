// Package prompts contains the LLM prompt templates used by frontdesk.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation, benefit from compile-time embedding,
// and can be validated by tests. Operators may replace the concierge persona
// with conversation.system_prompt_file; the internal prompts (compaction
// summaries) always come from here.
//
// Convention: each prompt category gets its own file (concierge.go,
// compaction.go) with an exported function that accepts the dynamic parts and
// returns the fully interpolated prompt string.
package prompts
