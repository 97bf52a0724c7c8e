package worker

import "sync"

// SharedState is the per-universe scratchpad agents read from and write
// to across turns. Access is mutexed because agents run as concurrent
// goroutines within one universe.
type SharedState struct {
	mu             sync.Mutex
	plan           string
	decisions      []string
	knowledge      map[string]string
	fileManifest   []string
	contextSummary string
	blockers       []string
	agentNotes     map[string]string
}

// NewSharedState returns an empty state bag.
func NewSharedState() *SharedState {
	return &SharedState{
		knowledge:  make(map[string]string),
		agentNotes: make(map[string]string),
	}
}

// AddDecision appends one decision to the shared log.
func (s *SharedState) AddDecision(decision string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, decision)
}

// RecentDecisions returns up to n of the most recent decisions, oldest
// first.
func (s *SharedState) RecentDecisions(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.decisions) == 0 || n <= 0 {
		return nil
	}
	start := len(s.decisions) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, len(s.decisions)-start)
	copy(out, s.decisions[start:])
	return out
}

// SetContextSummary replaces the rolling summary.
func (s *SharedState) SetContextSummary(summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contextSummary = summary
}

// ContextSummaryCopy returns the current summary.
func (s *SharedState) ContextSummaryCopy() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contextSummary
}

// SetPlan replaces the shared plan.
func (s *SharedState) SetPlan(plan string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = plan
}

// AddBlocker records an obstacle other agents should know about.
func (s *SharedState) AddBlocker(blocker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockers = append(s.blockers, blocker)
}

// SetKnowledge stores a shared fact under a key.
func (s *SharedState) SetKnowledge(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knowledge[key] = value
}

// SetNote stores a per-agent note keyed by agent name.
func (s *SharedState) SetNote(agentName, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentNotes[agentName] = note
}

// RecordFile adds a path to the shared file manifest.
func (s *SharedState) RecordFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileManifest = append(s.fileManifest, path)
}
