package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Snapshot is a point-in-time capture of an aggregate's folded state,
// tagged with the revision it was taken at so replay only needs to apply
// events after that point.
type Snapshot struct {
	AggregateID   string
	AggregateType AggregateType
	State         json.RawMessage
	Revision      int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SnapshotStore persists and retrieves snapshots. A snapshot at a lower
// or equal revision than the one already stored for an aggregate is
// dropped silently by Set — snapshots only ever move forward.
type SnapshotStore interface {
	// Get returns the latest snapshot for an aggregate, or
	// (nil, nil) if none has been taken yet.
	Get(ctx context.Context, aggregateID string) (*Snapshot, error)

	// Set stores a snapshot, replacing any existing one only if the new
	// revision is strictly greater.
	Set(ctx context.Context, snapshot Snapshot) error
}
