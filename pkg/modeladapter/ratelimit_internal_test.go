package modeladapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPruneWindow_DropsExpiredEntries(t *testing.T) {
	r := &RateLimitedCompleter{}
	now := time.Now()

	const n = 500
	for i := range n {
		r.window = append(r.window, tokenEntry{
			timestamp:   now.Add(-2 * time.Minute).Add(time.Duration(i) * time.Millisecond),
			inputTokens: 10,
		})
	}
	r.window = append(r.window, tokenEntry{timestamp: now, inputTokens: 7, outputTokens: 3})

	capBefore := cap(r.window)
	r.pruneWindow(now)

	assert.Len(t, r.window, 1)
	assert.Less(t, cap(r.window), capBefore)

	in, out := r.windowTotals()
	assert.Equal(t, 7, in)
	assert.Equal(t, 3, out)
}
