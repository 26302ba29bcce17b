package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Async hands messages to next on a background goroutine. When the buffer
// is full new messages are dropped and counted; Notify never blocks.
type Async struct {
	next   Notifier
	ch     chan Message
	logger *slog.Logger

	dropped atomic.Uint64
	sent    atomic.Uint64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts the delivery goroutine. logger must not itself forward to
// a notifier, or delivery failures would loop back into the queue.
func NewAsync(next Notifier, buffer int, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		next:   next,
		ch:     make(chan Message, buffer),
		logger: logger.With("component", "notify"),
		done:   make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Async) Notify(_ context.Context, msg Message) error {
	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return nil
	}
	select {
	case a.ch <- msg:
	default:
		a.dropped.Add(1)
	}
	return nil
}

func (a *Async) loop() {
	defer close(a.done)
	for msg := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.next.Notify(ctx, msg); err != nil {
			a.logger.Warn("notification delivery failed", "level", msg.Level, "err", err)
		} else {
			a.sent.Add(1)
		}
		cancel()
	}
}

// Close stops accepting messages and waits until the queue is drained or ctx
// expires.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) Dropped() uint64 { return a.dropped.Load() }

func (a *Async) Sent() uint64 { return a.sent.Load() }
