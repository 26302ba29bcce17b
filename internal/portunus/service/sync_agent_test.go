package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/service"
)

func newTestAgent(src *fakeSource, interval time.Duration) (*service.SyncAgent, *service.AuthCache) {
	cache := service.NewAuthCache()
	agent := service.NewSyncAgent(src, cache, service.SyncConfig{DoorID: "door_main", Interval: interval}, silentLogger())
	return agent, cache
}

func TestSyncAgent_RefreshReconciles(t *testing.T) {
	src := &fakeSource{tokens: tokens("tok1", "tok2")}
	agent, cache := newTestAgent(src, -1)
	ctx := context.Background()

	require.NoError(t, agent.Refresh(ctx))
	assert.Equal(t, tokens("tok1", "tok2"), cache.Snapshot())

	src.set(tokens("tok2"), nil)
	require.NoError(t, agent.Refresh(ctx))
	assert.Equal(t, tokens("tok2"), cache.Snapshot())
}

func TestSyncAgent_RefreshTwiceIsStable(t *testing.T) {
	src := &fakeSource{tokens: tokens("tok1")}
	agent, cache := newTestAgent(src, -1)
	ctx := context.Background()

	require.NoError(t, agent.Refresh(ctx))
	first := cache.Snapshot()
	require.NoError(t, agent.Refresh(ctx))
	assert.Equal(t, first, cache.Snapshot())
	assert.Equal(t, uint64(2), agent.Status().Syncs)
}

func TestSyncAgent_FetchFailureKeepsCache(t *testing.T) {
	src := &fakeSource{tokens: tokens("tok1")}
	agent, cache := newTestAgent(src, -1)
	ctx := context.Background()

	require.NoError(t, agent.Refresh(ctx))
	require.True(t, agent.Healthy())

	src.set(nil, errFetch)
	err := agent.Refresh(ctx)
	assert.ErrorIs(t, err, errFetch)
	assert.True(t, cache.Has("tok1"), "a failed fetch must not empty the cache")
	assert.False(t, agent.Healthy())

	st := agent.Status()
	assert.Equal(t, 1, st.CachedTokens)
	assert.Contains(t, st.LastSyncError, "gateway unreachable")
	assert.NotEmpty(t, st.LastSync)
}

func TestSyncAgent_SignalTriggersRefresh(t *testing.T) {
	src := &fakeSource{}
	agent, cache := newTestAgent(src, -1)
	sig := service.NewSignal("credentials", service.Sequential, silentLogger())
	require.NoError(t, sig.Subscribe(agent))

	src.set(tokens("tok9"), nil)
	require.NoError(t, sig.Notify(context.Background()))
	assert.True(t, cache.Has("tok9"))
}

func TestSyncAgent_StartRefreshesImmediately(t *testing.T) {
	src := &fakeSource{tokens: tokens("tok1")}
	agent, cache := newTestAgent(src, time.Hour)

	require.NoError(t, agent.Start(context.Background()))
	defer agent.Stop()

	assert.True(t, cache.Has("tok1"))
	assert.Equal(t, 1, src.count())
}

func TestSyncAgent_PeriodicRefresh(t *testing.T) {
	src := &fakeSource{tokens: tokens("tok1")}
	agent, cache := newTestAgent(src, 10*time.Millisecond)

	require.NoError(t, agent.Start(context.Background()))
	defer agent.Stop()

	src.set(tokens("tok2"), nil)
	assert.Eventually(t, func() bool {
		return cache.Has("tok2") && !cache.Has("tok1")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSyncAgent_StartReportsInitialFailure(t *testing.T) {
	src := &fakeSource{err: errFetch}
	agent, _ := newTestAgent(src, time.Hour)

	err := agent.Start(context.Background())
	assert.ErrorIs(t, err, errFetch)
	agent.Stop()
}

func TestSyncAgent_StopIsIdempotent(t *testing.T) {
	agent, _ := newTestAgent(&fakeSource{}, time.Hour)
	require.NoError(t, agent.Start(context.Background()))

	agent.Stop()
	agent.Stop()
}

func TestSyncAgent_StopAfterContextCancel(t *testing.T) {
	agent, _ := newTestAgent(&fakeSource{}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, agent.Start(ctx))

	cancel()
	done := make(chan struct{})
	go func() { agent.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancel")
	}
}

func TestSyncAgent_StopWithoutStartReturns(t *testing.T) {
	agent, _ := newTestAgent(&fakeSource{}, time.Hour)

	done := make(chan struct{})
	go func() { agent.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on an agent that was never started")
	}
	assert.ErrorIs(t, agent.Start(context.Background()), service.ErrAgentStarted)
}

func TestSyncAgent_SecondStartIsRejected(t *testing.T) {
	for _, interval := range []time.Duration{-1, time.Hour} {
		agent, _ := newTestAgent(&fakeSource{}, interval)
		require.NoError(t, agent.Start(context.Background()))

		assert.ErrorIs(t, agent.Start(context.Background()), service.ErrAgentStarted, "interval %v", interval)
		agent.Stop()
	}
}
