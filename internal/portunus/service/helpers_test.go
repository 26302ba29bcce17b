package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tokens(ids ...string) []types.Token {
	out := make([]types.Token, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.NewAuthorized(types.Identifier(id)))
	}
	return out
}

// fakeSource serves a mutable token list and counts fetches.
type fakeSource struct {
	mu      sync.Mutex
	tokens  []types.Token
	err     error
	fetches int
}

func (f *fakeSource) set(toks []types.Token, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens, f.err = toks, err
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeSource) FetchTokens(context.Context) ([]types.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]types.Token, len(f.tokens))
	copy(out, f.tokens)
	return out, nil
}

var errFetch = errors.New("gateway unreachable")

// countingOpener records Open calls and can be made to fail.
type countingOpener struct {
	mu    sync.Mutex
	opens int
	err   error
}

func (o *countingOpener) Open(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.opens++
	return nil
}

func (o *countingOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// recorder is a Subscriber appending its name to a shared log.
type recorder struct {
	name string
	mu   *sync.Mutex
	log  *[]string
	err  error
}

func (r *recorder) OnChange(context.Context) error {
	r.mu.Lock()
	*r.log = append(*r.log, r.name)
	r.mu.Unlock()
	return r.err
}
