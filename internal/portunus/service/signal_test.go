package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/service"
)

func newRecorders(names ...string) ([]*recorder, *[]string) {
	var mu sync.Mutex
	log := &[]string{}
	out := make([]*recorder, 0, len(names))
	for _, n := range names {
		out = append(out, &recorder{name: n, mu: &mu, log: log})
	}
	return out, log
}

func TestSignal_SequentialInSubscriptionOrder(t *testing.T) {
	sig := service.NewSignal("credentials", service.Sequential, silentLogger())
	recs, log := newRecorders("a", "b", "c")
	for _, r := range recs {
		require.NoError(t, sig.Subscribe(r))
	}

	require.NoError(t, sig.Notify(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, *log)
}

func TestSignal_DuplicateSubscriptionRejected(t *testing.T) {
	sig := service.NewSignal("credentials", nil, silentLogger())
	recs, log := newRecorders("a")

	require.NoError(t, sig.Subscribe(recs[0]))
	assert.ErrorIs(t, sig.Subscribe(recs[0]), service.ErrAlreadySubscribed)
	assert.Equal(t, 1, sig.Len())

	require.NoError(t, sig.Notify(context.Background()))
	assert.Equal(t, []string{"a"}, *log)
}

func TestSignal_Unsubscribe(t *testing.T) {
	sig := service.NewSignal("credentials", nil, silentLogger())
	recs, log := newRecorders("a", "b")
	for _, r := range recs {
		require.NoError(t, sig.Subscribe(r))
	}

	assert.True(t, sig.Unsubscribe(recs[0]))
	assert.False(t, sig.Unsubscribe(recs[0]))

	require.NoError(t, sig.Notify(context.Background()))
	assert.Equal(t, []string{"b"}, *log)
}

func TestSignal_NoSubscribersIsNoop(t *testing.T) {
	sig := service.NewSignal("credentials", nil, silentLogger())
	assert.NoError(t, sig.Notify(context.Background()))
}

func TestSignal_SequentialContinuesPastFailure(t *testing.T) {
	sig := service.NewSignal("credentials", service.Sequential, silentLogger())
	recs, log := newRecorders("a", "b")
	boom := errors.New("boom")
	recs[0].err = boom
	for _, r := range recs {
		require.NoError(t, sig.Subscribe(r))
	}

	err := sig.Notify(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, *log)
}

// blockingSub waits until all peers have started, which only completes when
// they run concurrently.
type blockingSub struct {
	started *sync.WaitGroup
	calls   *atomic.Int32
}

func (b *blockingSub) OnChange(ctx context.Context) error {
	b.calls.Add(1)
	b.started.Done()
	done := make(chan struct{})
	go func() { b.started.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-time.After(2 * time.Second):
		return errors.New("peers did not run concurrently")
	}
}

func TestSignal_FanOutRunsConcurrently(t *testing.T) {
	sig := service.NewSignal("door_events", service.FanOut, silentLogger())

	const n = 4
	var started sync.WaitGroup
	started.Add(n)
	var calls atomic.Int32
	for i := 0; i < n; i++ {
		require.NoError(t, sig.Subscribe(&blockingSub{started: &started, calls: &calls}))
	}

	require.NoError(t, sig.Notify(context.Background()))
	assert.Equal(t, int32(n), calls.Load())
}
