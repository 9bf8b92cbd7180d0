package events

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxWait bounds Recorder.Wait when no explicit limit is configured.
const DefaultMaxWait = 5 * time.Second

type recordKey struct {
	eventType  string
	identifier string
}

// Recorder remembers observed events so callers can block until the one
// completing their command has arrived. Each observation satisfies one Wait.
type Recorder struct {
	mu       sync.Mutex
	seen     map[recordKey]int
	consumed map[recordKey]int
	changed  chan struct{}
	maxWait  time.Duration
	metrics  *Metrics
}

type RecorderOption func(*Recorder)

func WithMaxWait(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.maxWait = d
		}
	}
}

func WithRecorderMetrics(m *Metrics) RecorderOption {
	return func(r *Recorder) {
		r.metrics = m
	}
}

func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		seen:     make(map[recordKey]int),
		consumed: make(map[recordKey]int),
		changed:  make(chan struct{}),
		maxWait:  DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes the recorder to every event on bus.
func (r *Recorder) Attach(bus *Bus) *Recorder {
	bus.SubscribeAll(r.Record)
	return r
}

// Record is a Listener that stores event and wakes waiters.
func (r *Recorder) Record(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[recordKey{event.Type, event.Identifier}]++
	close(r.changed)
	r.changed = make(chan struct{})
	return nil
}

// Wait blocks until an event of eventType for identifier has been observed
// that no earlier Wait consumed, and consumes it. It returns false when the
// max wait elapses or ctx ends first. Giving up has no effect on the command
// that should have produced the event.
func (r *Recorder) Wait(ctx context.Context, eventType, identifier string) bool {
	timer := time.NewTimer(r.maxWait)
	defer timer.Stop()

	key := recordKey{eventType, identifier}
	for {
		r.mu.Lock()
		found := r.seen[key] > r.consumed[key]
		if found {
			r.consumed[key]++
		}
		changed := r.changed
		r.mu.Unlock()
		if found {
			return true
		}

		select {
		case <-changed:
		case <-timer.C:
			r.timedOut(eventType)
			return false
		case <-ctx.Done():
			r.timedOut(eventType)
			return false
		}
	}
}

// Count reports how many events of eventType for identifier were observed,
// consumed or not.
func (r *Recorder) Count(eventType, identifier string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[recordKey{eventType, identifier}]
}

func (r *Recorder) timedOut(eventType string) {
	if r.metrics != nil {
		r.metrics.IncrementWaitTimeout(eventType)
	}
}
