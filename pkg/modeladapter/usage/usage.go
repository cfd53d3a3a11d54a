// Package usage keeps token accounting for model calls. The society reports
// the combined count of both agents after a run.
package usage

import (
	"fmt"
	"sync"
)

// TokenCount is the usage of one call or a sum of calls.
type TokenCount struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (tc TokenCount) Total() int { return tc.InputTokens + tc.OutputTokens }

func (tc TokenCount) Add(other TokenCount) TokenCount {
	tc.InputTokens += other.InputTokens
	tc.OutputTokens += other.OutputTokens
	return tc
}

// String renders the count the way run summaries print it.
func (tc TokenCount) String() string {
	return fmt.Sprintf("%d (input %d, output %d)", tc.Total(), tc.InputTokens, tc.OutputTokens)
}

// Tracker keeps a running total and the latest call. Safe for concurrent
// use; the zero value is ready.
type Tracker struct {
	mu      sync.Mutex
	total   TokenCount
	last    TokenCount
	hasLast bool
}

// Add records one call.
func (t *Tracker) Add(tc TokenCount) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total = t.total.Add(tc)
	t.last, t.hasLast = tc, true
}

// Last returns the most recent call, or false before the first one.
func (t *Tracker) Last() (TokenCount, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.last, t.hasLast
}

func (t *Tracker) Total() TokenCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.total
}

// Sum totals trackers, counting each distinct tracker once. Two agents
// sharing one model share its tracker. nil trackers are skipped.
func Sum(trackers ...*Tracker) TokenCount {
	var (
		total TokenCount
		seen  = make(map[*Tracker]struct{}, len(trackers))
	)

	for _, t := range trackers {
		if t == nil {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		total = total.Add(t.Total())
	}

	return total
}
