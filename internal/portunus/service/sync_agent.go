package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

// ErrAgentStarted is returned by Start on an agent that was already started
// or stopped.
var ErrAgentStarted = errors.New("sync agent already started")

// TokenSource fetches the complete authorized token list from the
// credential store, either in-process or through a remote gateway.
type TokenSource interface {
	FetchTokens(ctx context.Context) ([]types.Token, error)
}

// SyncConfig holds the parameters for NewSyncAgent.
type SyncConfig struct {
	DoorID string

	// Interval between periodic refreshes. Defaults to 8 hours; a negative
	// value disables the timer so only startup and signals refresh.
	Interval time.Duration
}

// SyncAgent keeps an AuthCache in step with the credential store. It
// refreshes once on Start, on every tick of its interval and whenever the
// change signal it is subscribed to fires.
type SyncAgent struct {
	doorID   string
	source   TokenSource
	cache    *AuthCache
	interval time.Duration
	logger   *slog.Logger

	// serialises refreshes from the timer and from signals
	refreshMu sync.Mutex

	statMu   sync.RWMutex
	lastSync time.Time
	lastErr  error
	syncs    uint64

	lifeMu  sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ Subscriber = (*SyncAgent)(nil)

// NewSyncAgent creates an agent but does not start it.
func NewSyncAgent(src TokenSource, cache *AuthCache, cfg SyncConfig, logger *slog.Logger) *SyncAgent {
	if cfg.Interval == 0 {
		cfg.Interval = 8 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncAgent{
		doorID:   cfg.DoorID,
		source:   src,
		cache:    cache,
		interval: cfg.Interval,
		logger:   logger.With("component", "sync_agent", "door_id", cfg.DoorID),
		done:     make(chan struct{}),
	}
}

// Refresh fetches the token list and reconciles the cache against it. On a
// fetch failure the cache keeps its previous content.
func (a *SyncAgent) Refresh(ctx context.Context) error {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	fetched, err := a.source.FetchTokens(ctx)
	if err != nil {
		a.record(err)
		a.logger.Error("token fetch failed, keeping cached tokens", "err", err, "cached", a.cache.Len())
		return fmt.Errorf("sync %s: %w", a.doorID, err)
	}

	added, removed := a.cache.Reconcile(fetched)
	a.record(nil)
	if added > 0 || removed > 0 {
		a.logger.Info("authorization cache updated", "added", added, "removed", removed, "total", a.cache.Len())
	} else {
		a.logger.Debug("authorization cache already current", "total", a.cache.Len())
	}
	return nil
}

// OnChange makes the agent a Signal subscriber.
func (a *SyncAgent) OnChange(ctx context.Context) error {
	return a.Refresh(ctx)
}

func (a *SyncAgent) record(err error) {
	a.statMu.Lock()
	defer a.statMu.Unlock()
	a.lastErr = err
	if err == nil {
		a.lastSync = time.Now().UTC()
		a.syncs++
	}
}

// Status reports the outcome of the most recent refresh.
func (a *SyncAgent) Status() types.DoorStatus {
	a.statMu.RLock()
	defer a.statMu.RUnlock()

	st := types.DoorStatus{
		DoorID:       a.doorID,
		CachedTokens: a.cache.Len(),
		Syncs:        a.syncs,
	}
	if !a.lastSync.IsZero() {
		st.LastSync = a.lastSync.Format(time.RFC3339Nano)
	}
	if a.lastErr != nil {
		st.LastSyncError = a.lastErr.Error()
	}
	return st
}

// Healthy reports whether the last refresh succeeded.
func (a *SyncAgent) Healthy() bool {
	a.statMu.RLock()
	defer a.statMu.RUnlock()
	return a.syncs > 0 && a.lastErr == nil
}

// Start runs an initial refresh synchronously, then refreshes on the
// configured interval in the background until ctx is cancelled or Stop is
// called. The initial refresh error is returned but the loop starts anyway.
// An agent starts at most once.
func (a *SyncAgent) Start(ctx context.Context) error {
	a.lifeMu.Lock()
	if a.started || a.stopped {
		a.lifeMu.Unlock()
		return ErrAgentStarted
	}
	a.started = true
	ctx, a.cancel = context.WithCancel(ctx)
	a.lifeMu.Unlock()

	err := a.Refresh(ctx)

	if a.interval < 0 {
		a.logger.Info("periodic sync disabled")
		close(a.done)
		return err
	}

	go a.loop(ctx)

	a.logger.Info("sync agent started", "interval", a.interval.String())
	return err
}

// Stop signals the loop to exit and waits for it. It returns at once on an
// agent that was never started and is safe to call more than once.
func (a *SyncAgent) Stop() {
	a.lifeMu.Lock()
	a.stopped = true
	started, cancel := a.started, a.cancel
	a.lifeMu.Unlock()

	if !started {
		return
	}
	cancel()
	<-a.done
}

func (a *SyncAgent) loop(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = a.Refresh(ctx)
		}
	}
}
