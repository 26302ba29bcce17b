package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

var ErrAlreadySubscribed = errors.New("subscriber already registered")

// Subscriber reacts to a change notification. Implementations must be
// comparable (pointer receivers) so duplicate subscriptions can be detected.
type Subscriber interface {
	OnChange(ctx context.Context) error
}

// DispatchStrategy delivers one notification to a snapshot of subscribers.
type DispatchStrategy func(ctx context.Context, subs []Subscriber) error

// Sequential calls subscribers one after another in subscription order.
// A failing subscriber does not stop the others; all errors are joined.
func Sequential(ctx context.Context, subs []Subscriber) error {
	var errs []error
	for _, sub := range subs {
		if err := sub.OnChange(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FanOut calls every subscriber on its own goroutine and waits for all of
// them. It returns the first error observed.
func FanOut(ctx context.Context, subs []Subscriber) error {
	var g errgroup.Group
	for _, sub := range subs {
		g.Go(func() error { return sub.OnChange(ctx) })
	}
	return g.Wait()
}

// Signal is a per-instance list of subscribers notified when something
// changes, e.g. the credential store after a successful mutation.
type Signal struct {
	name     string
	dispatch DispatchStrategy
	logger   *slog.Logger

	mu   sync.Mutex
	subs []Subscriber
}

func NewSignal(name string, dispatch DispatchStrategy, logger *slog.Logger) *Signal {
	if dispatch == nil {
		dispatch = Sequential
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Signal{
		name:     name,
		dispatch: dispatch,
		logger:   logger.With("component", "signal", "signal", name),
	}
}

func (s *Signal) Subscribe(sub Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.subs {
		if existing == sub {
			s.logger.Error("subscriber already registered")
			return ErrAlreadySubscribed
		}
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Unsubscribe removes sub and reports whether it was registered.
func (s *Signal) Unsubscribe(sub Subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.subs {
		if existing == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Signal) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Notify delivers the change to every current subscriber. The subscriber
// list is copied first so subscribers may (un)subscribe while being called.
func (s *Signal) Notify(ctx context.Context) error {
	s.mu.Lock()
	subs := make([]Subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	if len(subs) == 0 {
		return nil
	}
	err := s.dispatch(ctx, subs)
	if err != nil {
		s.logger.Warn("subscriber failed", "err", err)
	}
	return err
}
