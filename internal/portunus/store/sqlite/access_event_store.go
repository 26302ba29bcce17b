package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/Gostdragon/IoT-Door-Control-System/internal/db"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/store"
)

type AccessEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

var _ store.AccessEventStore = (*AccessEventStore)(nil)

func NewAccessEventStore(db *sql.DB, writer *dbpkg.Worker) *AccessEventStore {
	return &AccessEventStore{db: db, writer: writer}
}

func (s *AccessEventStore) RecordEvent(ctx context.Context, rec store.AccessEventRecord) error {
	now := time.Now().UTC()
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = now
	}
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = now
	}
	if rec.EventID == "" {
		return fmt.Errorf("RecordEvent: event id is required")
	}

	var requestedMs any
	if rec.RequestedAt != nil {
		requestedMs = rec.RequestedAt.UTC().UnixMilli()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_events(
  event_id, door_id, module_id, token_id, received_at_ms, requested_at_ms,
  decision_granted, door_opened, decision_reason, decided_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.EventID, rec.DoorID, rec.ModuleID, rec.TokenID,
			rec.ReceivedAt.UTC().UnixMilli(), requestedMs,
			boolInt(rec.Granted), boolInt(rec.Opened), rec.Reason,
			rec.DecidedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("RecordEvent insert: %w", err)
		}
		return nil
	})
}

// PruneOlderThan deletes events received before cutoff and returns the
// number of rows removed. Uses idx_access_events_received.
func (s *AccessEventStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM access_events
WHERE received_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
