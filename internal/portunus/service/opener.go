package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Opener releases the door strike.
type Opener interface {
	Open(ctx context.Context) error
}

// TimedOpener keeps the door released for a fixed hold time after each
// Open; opening an already open door extends the hold. Door events (if
// set) are notified on every Open.
type TimedOpener struct {
	hold   time.Duration
	events *Signal
	logger *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
	open  bool
	gen   uint64
	opens uint64
}

var _ Opener = (*TimedOpener)(nil)

func NewTimedOpener(hold time.Duration, events *Signal, logger *slog.Logger) *TimedOpener {
	if hold <= 0 {
		hold = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TimedOpener{hold: hold, events: events, logger: logger.With("component", "door")}
}

func (o *TimedOpener) Open(ctx context.Context) error {
	o.mu.Lock()
	if o.timer != nil {
		o.timer.Stop()
	}
	o.open = true
	o.opens++
	o.gen++
	gen := o.gen
	o.timer = time.AfterFunc(o.hold, func() { o.close(gen) })
	o.mu.Unlock()

	o.logger.Info("door opened", "hold", o.hold.String())

	if o.events != nil {
		return o.events.Notify(ctx)
	}
	return nil
}

// close ignores timers superseded by a later Open.
func (o *TimedOpener) close(gen uint64) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	o.open = false
	o.mu.Unlock()
	o.logger.Info("door closed")
}

func (o *TimedOpener) IsOpen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open
}

// Opens returns how many times the door has been released.
func (o *TimedOpener) Opens() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}
