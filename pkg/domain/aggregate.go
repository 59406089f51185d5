package domain

//go:generate moq -out mocks/aggregate_root_mock.go . AggregateRoot
//go:generate moq -out mocks/repository_mock.go . Repository

import (
	"context"
	"encoding/json"
)

// AggregateRoot defines the interface for domain aggregates in event sourcing.
// An aggregate is a cluster of domain objects that can be treated as a single unit
// for data changes. It ensures consistency boundaries and encapsulates business logic.
//
// Key principles:
//   - Aggregates are consistency boundaries
//   - Aggregates generate events when their state changes
//   - State changes are applied through business methods, not direct field access
type AggregateRoot interface {
	// ID returns the unique identifier of the aggregate.
	ID() string

	// Version returns the current revision of the aggregate: the
	// sequence number of the last event folded into its state.
	Version() int64

	// UncommittedEvents returns events generated by business operations
	// but not yet persisted to the event store.
	UncommittedEvents() []Event

	// MarkEventsAsCommitted clears the uncommitted events after they have
	// been successfully persisted.
	MarkEventsAsCommitted()

	// LoadFromHistory reconstructs the aggregate state from a sequence of
	// events, in revision order. It must not generate new events.
	LoadFromHistory(events []Event)
}

// Snapshotable is implemented by aggregates whose state can be captured
// and restored as a single JSON blob, short-circuiting full replay from
// the beginning of the stream.
type Snapshotable interface {
	AggregateRoot

	// ToSnapshot serializes the aggregate's current state.
	ToSnapshot() (json.RawMessage, error)

	// FromSnapshot restores state from a previously captured snapshot at
	// the given revision. Events with a later revision must still be
	// applied on top via LoadFromHistory.
	FromSnapshot(state json.RawMessage, revision int64) error
}

// Repository defines the interface for aggregate persistence using event sourcing.
type Repository[T AggregateRoot] interface {
	// Save persists the aggregate by storing its uncommitted events,
	// returning a ConflictError if the aggregate's expected revision has
	// already been taken by a concurrent writer.
	Save(ctx context.Context, aggregate T) error

	// Load retrieves an aggregate by its id, reconstructing it from
	// stored events (and a snapshot, if the store is Snapshotable).
	// Returns a NotFoundError if no events exist for the id.
	Load(ctx context.Context, id string) (T, error)
}
