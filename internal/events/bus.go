package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultListenerTimeout = time.Minute

// Bus is an in-process publish/subscribe hub. Listeners run on their own
// goroutines so Emit never blocks the caller's transaction.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
	wildcard  []Listener
	logger    *slog.Logger
	metrics   *Metrics
	timeout   time.Duration
	inflight  sync.WaitGroup
}

type BusOption func(*Bus)

func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

func WithMetrics(m *Metrics) BusOption {
	return func(b *Bus) {
		b.metrics = m
	}
}

func WithListenerTimeout(d time.Duration) BusOption {
	return func(b *Bus) {
		b.timeout = d
	}
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		listeners: make(map[string][]Listener),
		logger:    slog.Default(),
		timeout:   defaultListenerTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers listener for one event type.
func (b *Bus) Subscribe(eventType string, listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[eventType] = append(b.listeners[eventType], listener)
}

// SubscribeAll registers listener for every event type.
func (b *Bus) SubscribeAll(listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, listener)
}

// Emit dispatches event to its listeners asynchronously. Listener failures
// are logged and never reach the emitter.
func (b *Bus) Emit(_ context.Context, event Event) error {
	b.mu.RLock()
	targets := make([]Listener, 0, len(b.listeners[event.Type])+len(b.wildcard))
	targets = append(targets, b.listeners[event.Type]...)
	targets = append(targets, b.wildcard...)
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.IncrementEmitted(event.Type)
	}

	for _, l := range targets {
		b.inflight.Add(1)
		go func(l Listener) {
			defer b.inflight.Done()
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			defer cancel()
			if err := l(ctx, event); err != nil {
				b.logger.Error("event listener failed",
					"event", event.Type,
					"identifier", event.Identifier,
					"tenant", event.Tenant,
					"error", err,
				)
			}
		}(l)
	}
	return nil
}

// Drain waits for in-flight listeners, bounded by ctx.
func (b *Bus) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
