package usage_test

import (
	"sync"
	"testing"

	"github.com/germanamz/owl/pkg/modeladapter/usage"
	"github.com/stretchr/testify/assert"
)

func TestTokenCount(t *testing.T) {
	tc := usage.TokenCount{InputTokens: 100, OutputTokens: 50}

	assert.Equal(t, 150, tc.Total())
	assert.Equal(t, usage.TokenCount{InputTokens: 101, OutputTokens: 52}, tc.Add(usage.TokenCount{InputTokens: 1, OutputTokens: 2}))
	assert.Equal(t, "150 (input 100, output 50)", tc.String())
	assert.Equal(t, 0, usage.TokenCount{}.Total())
}

func TestTracker(t *testing.T) {
	var tr usage.Tracker

	_, ok := tr.Last()
	assert.False(t, ok)

	tr.Add(usage.TokenCount{InputTokens: 10, OutputTokens: 5})
	tr.Add(usage.TokenCount{InputTokens: 20, OutputTokens: 10})

	assert.Equal(t, usage.TokenCount{InputTokens: 30, OutputTokens: 15}, tr.Total())

	last, ok := tr.Last()
	assert.True(t, ok)
	assert.Equal(t, 20, last.InputTokens)
}

func TestTracker_Concurrent(t *testing.T) {
	var tr usage.Tracker
	var wg sync.WaitGroup

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Add(usage.TokenCount{InputTokens: 2, OutputTokens: 1})
		}()
	}
	wg.Wait()

	assert.Equal(t, 150, tr.Total().Total())
	assert.Equal(t, usage.TokenCount{InputTokens: 100, OutputTokens: 50}, tr.Total())
}

func TestSum(t *testing.T) {
	var a, b usage.Tracker
	a.Add(usage.TokenCount{InputTokens: 3, OutputTokens: 1})
	b.Add(usage.TokenCount{InputTokens: 4, OutputTokens: 2})

	assert.Equal(t, usage.TokenCount{InputTokens: 7, OutputTokens: 3}, usage.Sum(&a, nil, &b))
	assert.Equal(t, usage.TokenCount{InputTokens: 7, OutputTokens: 3}, usage.Sum(&a, &b, &a), "shared trackers count once")
}
