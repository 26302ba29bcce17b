package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLevel(t *testing.T) {
	for _, in := range []string{"info", "ERROR", " fatal "} {
		_, err := ParseLevel(in)
		assert.NoError(t, err, in)
	}
	_, err := ParseLevel("warn")
	assert.ErrorIs(t, err, ErrUnknownLevel)
}

func TestAsync_DeliversInOrder(t *testing.T) {
	mem := &Memory{}
	a := NewAsync(mem, 8, silentLogger())

	for _, txt := range []string{"one", "two", "three"} {
		require.NoError(t, a.Notify(context.Background(), Message{Level: LevelInfo, Text: txt}))
	}
	require.NoError(t, a.Close(context.Background()))

	msgs := mem.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, "three", msgs[2].Text)
	assert.False(t, msgs[0].Time.IsZero())
	assert.Equal(t, uint64(3), a.Sent())
}

// blockingNotifier holds the delivery goroutine until released.
type blockingNotifier struct {
	release chan struct{}
}

func (b *blockingNotifier) Notify(ctx context.Context, _ Message) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func TestAsync_DropsWhenFull(t *testing.T) {
	b := &blockingNotifier{release: make(chan struct{})}
	a := NewAsync(b, 1, silentLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = a.Notify(context.Background(), Message{Level: LevelError, Text: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	assert.GreaterOrEqual(t, a.Dropped(), uint64(8))

	close(b.release)
	require.NoError(t, a.Close(context.Background()))
}

func TestAsync_NotifyAfterCloseIsDropped(t *testing.T) {
	a := NewAsync(&Memory{}, 1, silentLogger())
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))

	assert.NoError(t, a.Notify(context.Background(), Message{Level: LevelInfo}))
	assert.Equal(t, uint64(1), a.Dropped())
}

func TestHistory_KeepsRecentPerLevel(t *testing.T) {
	h := NewHistory(nil, 2)
	ctx := context.Background()
	for _, txt := range []string{"a", "b", "c"} {
		require.NoError(t, h.Notify(ctx, Message{Level: LevelInfo, Text: txt}))
	}
	require.NoError(t, h.Notify(ctx, Message{Level: LevelError, Text: "e"}))

	recent := h.Recent(LevelInfo)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Text)
	assert.Equal(t, "c", recent[1].Text)
	assert.Len(t, h.Recent(LevelError), 1)
}

func TestHistory_ClearPropagates(t *testing.T) {
	mem := &Memory{}
	h := NewHistory(mem, 10)
	ctx := context.Background()
	require.NoError(t, h.Notify(ctx, Message{Level: LevelFatal, Text: "disk gone"}))
	require.NoError(t, h.Notify(ctx, Message{Level: LevelInfo, Text: "door opened"}))

	n, err := h.Clear(ctx, LevelFatal)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, h.Recent(LevelFatal))
	assert.Len(t, h.Recent(LevelInfo), 1)

	assert.Equal(t, []Level{LevelFatal}, mem.Cleared())
	require.Len(t, mem.Messages(), 1)
	assert.Equal(t, LevelInfo, mem.Messages()[0].Level)
}
