package worker

import (
	"fmt"
	"strings"
)

// maxRecentDecisions caps how many shared-state decisions are folded into
// the system prompt.
const maxRecentDecisions = 5

// rolePrompts maps agent roles to their base instructions. Unknown roles
// fall back to the general prompt.
var rolePrompts = map[string]string{
	"general": "You are an autonomous agent working inside a shared universe. " +
		"Complete the task you were given using the tools available to you. " +
		"Be concrete and finish the work rather than describing it.",
	"task-creator": "You are a planning agent. Break the given objective into " +
		"concrete, actionable tasks and create each one with the create_task tool. " +
		"Each task needs a clear title and enough description to act on without " +
		"further context.",
	"coder": "You are a software engineering agent with a git worktree. " +
		"Read the existing code before changing it, keep changes minimal and " +
		"consistent with the surrounding style, and verify your edits by reading " +
		"them back.",
	"reviewer": "You are a code review agent. Inspect the worktree, identify " +
		"defects and risky changes, and record your findings clearly. Do not " +
		"modify code.",
}

// buildSystemPrompt assembles the per-turn system prompt: role
// instructions, universe context, turn counters, and a digest of shared
// state (context summary plus the most recent decisions).
func buildSystemPrompt(role, universeName string, turn, maxTurns int, state *SharedState) string {
	base, ok := rolePrompts[role]
	if !ok {
		base = rolePrompts["general"]
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Universe: %s\n", universeName)
	fmt.Fprintf(&b, "Turn %d of %d.\n", turn, maxTurns)

	if state != nil {
		if summary := state.ContextSummaryCopy(); summary != "" {
			b.WriteString("\nContext so far:\n")
			b.WriteString(summary)
			b.WriteString("\n")
		}
		if decisions := state.RecentDecisions(maxRecentDecisions); len(decisions) > 0 {
			b.WriteString("\nRecent decisions:\n")
			for _, d := range decisions {
				fmt.Fprintf(&b, "- %s\n", d)
			}
		}
	}
	return b.String()
}
