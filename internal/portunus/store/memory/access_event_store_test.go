package memory

import (
	"context"
	"testing"
	"time"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/store"
)

func TestAccessEventStore_PruneOlderThan(t *testing.T) {
	s := NewAccessEventStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old-1", "old-2", "new-1"} {
		at := base.Add(time.Duration(i) * time.Hour)
		if err := s.RecordEvent(ctx, store.AccessEventRecord{EventID: id, ReceivedAt: at}); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}

	n, err := s.PruneOlderThan(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned, got %d", n)
	}
	ev := s.Events()
	if len(ev) != 1 || ev[0].EventID != "new-1" {
		t.Errorf("unexpected remaining events: %+v", ev)
	}
}
