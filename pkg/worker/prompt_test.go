package worker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSystemPromptBasics(t *testing.T) {
	state := NewSharedState()
	prompt := buildSystemPrompt("coder", "alpha", 2, 10, state)

	assert.Contains(t, prompt, "Universe: alpha")
	assert.Contains(t, prompt, "Turn 2 of 10.")
	assert.Contains(t, prompt, "software engineering agent")
	assert.NotContains(t, prompt, "Context so far")
	assert.NotContains(t, prompt, "Recent decisions")
}

func TestBuildSystemPromptUnknownRoleFallsBack(t *testing.T) {
	prompt := buildSystemPrompt("astronaut", "alpha", 1, 10, NewSharedState())
	assert.Contains(t, prompt, "autonomous agent")
}

func TestBuildSystemPromptIncludesSharedState(t *testing.T) {
	state := NewSharedState()
	state.SetContextSummary("we decided to use Go")
	for i := 1; i <= 7; i++ {
		state.AddDecision(fmt.Sprintf("decision %d", i))
	}

	prompt := buildSystemPrompt("general", "alpha", 1, 10, state)

	assert.Contains(t, prompt, "we decided to use Go")
	// Only the most recent five decisions make it in.
	assert.NotContains(t, prompt, "decision 1")
	assert.NotContains(t, prompt, "decision 2")
	for i := 3; i <= 7; i++ {
		assert.Contains(t, prompt, fmt.Sprintf("decision %d", i))
	}
	// Oldest first.
	assert.Less(t,
		strings.Index(prompt, "decision 3"),
		strings.Index(prompt, "decision 7"))
}

func TestSharedStateRecentDecisions(t *testing.T) {
	state := NewSharedState()
	assert.Nil(t, state.RecentDecisions(5))

	state.AddDecision("a")
	state.AddDecision("b")
	assert.Equal(t, []string{"a", "b"}, state.RecentDecisions(5))
	assert.Equal(t, []string{"b"}, state.RecentDecisions(1))
}
