package store

import (
	"context"
	"time"
)

// AccessEventRecord captures a single access decision for the audit log.
type AccessEventRecord struct {
	EventID     string // uuid, assigned by the service when empty
	DoorID      string
	ModuleID    string
	TokenID     string
	ReceivedAt  time.Time
	RequestedAt *time.Time // optional device-reported timestamp
	Granted     bool
	Opened      bool
	Reason      string
	DecidedAt   time.Time
}

// AccessEventStore persists access decisions as an append-only audit log.
type AccessEventStore interface {
	RecordEvent(ctx context.Context, rec AccessEventRecord) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
