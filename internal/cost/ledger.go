// Package cost tracks LLM spend per session as an append-only event log.
package cost

import (
	"sync"
	"time"
)

// Event is one operation's worth of token and dollar accounting.
type Event struct {
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	InputCost      float64   `json:"input_cost"`
	OutputCost     float64   `json:"output_cost"`
	WebSearchCalls int       `json:"web_search_calls"`
	WebSearchCost  float64   `json:"web_search_cost"`
	TotalCost      float64   `json:"total_cost"`
	OperationTag   string    `json:"operation_tag"`
	Timestamp      time.Time `json:"timestamp"`
}

// Summary is the rollup of every event recorded so far.
type Summary struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	InputCost      float64 `json:"input_cost"`
	OutputCost     float64 `json:"output_cost"`
	WebSearchCalls int     `json:"web_search_calls"`
	WebSearchCost  float64 `json:"web_search_cost"`
	TotalCost      float64 `json:"total_cost"`
	Operations     int     `json:"operations"`
}

// Ledger is the per-session append-only cost log. Events arrive in completion
// order; subscribers receive them incrementally in that same order.
type Ledger struct {
	mu          sync.Mutex
	events      []Event
	summary     Summary
	subscribers []chan Event
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Record appends an event, updates the rollup and fans it out to subscribers.
func (l *Ledger) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.TotalCost = ev.InputCost + ev.OutputCost + ev.WebSearchCost

	l.mu.Lock()
	l.events = append(l.events, ev)
	l.summary.InputTokens += ev.InputTokens
	l.summary.OutputTokens += ev.OutputTokens
	l.summary.InputCost += ev.InputCost
	l.summary.OutputCost += ev.OutputCost
	l.summary.WebSearchCalls += ev.WebSearchCalls
	l.summary.WebSearchCost += ev.WebSearchCost
	l.summary.TotalCost += ev.TotalCost
	l.summary.Operations++

	// Fan out while still holding mu: cancel closes channels under the same
	// lock, so a send can never race a close.
	for _, ch := range l.subscribers {
		select {
		case ch <- ev:
		default: // slow consumer drops, the rollup stays authoritative
		}
	}
	l.mu.Unlock()
}

// Subscribe returns a channel of future events and a cancel function. The
// channel is buffered so the recording path never blocks on a consumer.
// Cancel is idempotent.
func (l *Ledger) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	l.mu.Lock()
	l.subscribers = append(l.subscribers, ch)
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, sub := range l.subscribers {
			if sub == ch {
				l.subscribers = append(l.subscribers[:i], l.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Events returns a copy of the full event log.
func (l *Ledger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// Summary returns the current rollup.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.summary
}
