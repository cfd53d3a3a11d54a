package engine

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// EventKind says what happened during a run.
type EventKind string

const (
	EventAttemptStart  EventKind = "attempt_start"
	EventAttemptFailed EventKind = "attempt_failed"
	EventRound         EventKind = "round"
	EventToolCall      EventKind = "tool_call"
	EventRunCompleted  EventKind = "run_completed"
	EventRunFailed     EventKind = "run_failed"
)

// Event is one notification from RunWithRetries. Data depends on Kind:
//
//	EventRound                         society.Round
//	EventToolCall                      ToolCallData
//	EventAttemptFailed, EventRunFailed error
//	EventRunCompleted                  society.Result
type Event struct {
	Kind      EventKind
	RunID     string
	Attempt   int
	Agent     string
	Timestamp time.Time
	Data      any
}

// ToolCallData is a finished tool call as the assistant saw it.
type ToolCallData struct {
	Name      string
	Arguments string
	Result    string
	IsError   bool
}

// Subscription is a buffered feed of events. Read C until it is closed by
// Unsubscribe.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	kinds   []EventKind
	dropped atomic.Int64
}

// Dropped counts events lost because the buffer was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

func (s *Subscription) wants(k EventKind) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, k)
}

// EventBus fans events out to subscribers without ever blocking the run.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*Subscription]struct{})}
}

// Subscribe opens a feed with room for buf events. With kinds given only
// those kinds are delivered.
func (b *EventBus) Subscribe(buf int, kinds ...EventKind) *Subscription {
	ch := make(chan Event, buf)
	sub := &Subscription{C: ch, ch: ch, kinds: kinds}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe closes sub's channel. Calling it twice is harmless.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish stamps e with the current time when it has none and offers it to
// every interested subscriber. Full buffers drop the event.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if !sub.wants(e.Kind) {
			continue
		}

		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}
