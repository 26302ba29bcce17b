package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/service"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/store"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/store/memory"
)

func TestEventPruner_DisabledWhenRetentionZero(t *testing.T) {
	ms := memory.NewAccessEventStore()
	pruner := service.NewEventPruner(ms, service.PrunerConfig{
		RetentionDays: 0,
		IntervalHours: 1,
	}, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pruner.Start(ctx)
	// Stop should return immediately without error.
	pruner.Stop()
}

func TestEventPruner_PrunesOnStart(t *testing.T) {
	ms := memory.NewAccessEventStore()
	ctx := context.Background()

	old := store.AccessEventRecord{EventID: "old", ReceivedAt: time.Now().UTC().AddDate(0, 0, -40)}
	recent := store.AccessEventRecord{EventID: "recent", ReceivedAt: time.Now().UTC().AddDate(0, 0, -1)}
	for _, ev := range []store.AccessEventRecord{old, recent} {
		if err := ms.RecordEvent(ctx, ev); err != nil {
			t.Fatalf("insert %s: %v", ev.EventID, err)
		}
	}

	pruner := service.NewEventPruner(ms, service.PrunerConfig{
		RetentionDays: 30,
		IntervalHours: 1,
	}, silentLogger())
	pruner.Start(ctx)
	defer pruner.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(ms.Events()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	events := ms.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 surviving event, got %d", len(events))
	}
	if events[0].EventID != "recent" {
		t.Errorf("expected recent event to survive, got %q", events[0].EventID)
	}
}

func TestEventPruner_StopIsIdempotent(t *testing.T) {
	ms := memory.NewAccessEventStore()
	pruner := service.NewEventPruner(ms, service.PrunerConfig{
		RetentionDays: 30,
		IntervalHours: 1,
	}, silentLogger())

	pruner.Start(context.Background())
	pruner.Stop()
	pruner.Stop()
}
