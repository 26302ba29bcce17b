package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/logging"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/store"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

// ChangeNotifier is told after every successful store mutation.
type ChangeNotifier interface {
	Notify(ctx context.Context) error
}

// Dispatcher routes parsed requests to the credential store. It owns the
// store-wide lock: every store call, from any connection or in-process
// caller, runs while holding it.
type Dispatcher struct {
	mu      sync.Mutex
	store   store.CredentialStore
	changed ChangeNotifier
	logger  *slog.Logger

	healthy    atomic.Bool
	ioFailures atomic.Uint64
}

func NewDispatcher(st store.CredentialStore, changed ChangeNotifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		store:   st,
		changed: changed,
		logger:  logger.With("component", "gateway"),
	}
	d.healthy.Store(true)
	return d
}

// Healthy is false after a store I/O failure until the next store call
// succeeds.
func (d *Dispatcher) Healthy() bool { return d.healthy.Load() }

func (d *Dispatcher) IOFailures() uint64 { return d.ioFailures.Load() }

// HandleLine parses and dispatches one request line and returns the
// response line without terminator.
func (d *Dispatcher) HandleLine(ctx context.Context, line string) string {
	req, err := ParseRequest(line)
	if err != nil {
		d.logger.Debug("rejected request", "reason", "grammar")
		return ""
	}
	return d.Handle(ctx, req)
}

// Handle dispatches a parsed request.
func (d *Dispatcher) Handle(ctx context.Context, req Request) string {
	if (req.Command == CmdAddToken || req.Command == CmdDeleteToken) && req.Token == "" {
		d.logger.Debug("rejected request", "command", req.Command, "reason", "missing token")
		return ""
	}

	resp, st, err := d.dispatch(ctx, req)
	d.observe(ctx, string(req.Command), err)
	if err != nil {
		return ""
	}

	d.logger.Debug("request handled", "command", req.Command, "admin", req.Admin, "target", req.Target, "status", st)
	if st != store.StatusOK {
		return ""
	}
	if req.Command.Mutates() && d.changed != nil {
		if err := d.changed.Notify(ctx); err != nil {
			d.logger.Warn("change notification failed", "command", req.Command, "err", err)
		}
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) (string, store.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch req.Command {
	case CmdSearch:
		return d.store.GetRecord(ctx, req.Admin, req.Password, req.Target)
	case CmdAddToken:
		st, err := d.store.AddToken(ctx, req.Admin, req.Password, req.Target, req.Token)
		return "", st, err
	case CmdDeleteToken:
		st, err := d.store.DeleteToken(ctx, req.Admin, req.Password, req.Target, req.Token)
		return "", st, err
	case CmdDeleteAll:
		st, err := d.store.DeleteAllTokens(ctx, req.Admin, req.Password, req.Target)
		return "", st, err
	case CmdListTokens:
		toks, st, err := d.store.ListAllTokens(ctx, req.Admin, req.Password)
		if err != nil || st != store.StatusOK {
			return "", st, err
		}
		return encodeTokenList(toks), st, nil
	default:
		return "", store.StatusInvalidArgument, nil
	}
}

// observe records the outcome of a store call for health reporting.
func (d *Dispatcher) observe(ctx context.Context, op string, err error) {
	if err == nil {
		d.healthy.Store(true)
		return
	}
	if !errors.Is(err, store.ErrStoreIO) {
		d.logger.Error("credential store call failed", "op", op, "err", err)
		return
	}
	d.healthy.Store(false)
	d.ioFailures.Add(1)
	logging.Fatal(ctx, d.logger, "credential store failure", "op", op, "err", err)
}

// ListTokens fetches every token under the store lock. It backs LocalSource.
func (d *Dispatcher) ListTokens(ctx context.Context, admin types.Identifier, password string) ([]types.Token, store.Status, error) {
	d.mu.Lock()
	toks, st, err := d.store.ListAllTokens(ctx, admin, password)
	d.mu.Unlock()

	d.observe(ctx, "listTokens", err)
	return toks, st, err
}

// EnsureRecord creates rec under the store lock when it is missing.
func (d *Dispatcher) EnsureRecord(ctx context.Context, rec types.Record) (bool, error) {
	d.mu.Lock()
	created, err := d.store.EnsureRecord(ctx, rec)
	d.mu.Unlock()

	d.observe(ctx, "ensureRecord", err)
	return created, err
}
