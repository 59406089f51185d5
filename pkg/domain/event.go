// Package domain provides core domain layer interfaces and types for implementing
// event sourcing and CQRS over an append-only event store.
//
// This package defines the fundamental abstractions for:
//   - Domain events and event handling
//   - Aggregate roots and repositories
//   - Event sourcing infrastructure
//   - Domain errors
//
// The domain layer is kept pure with no external dependencies, following
// clean architecture principles.
package domain

//go:generate moq -out mocks/event_store_mock.go -pkg mocks . EventStore
//go:generate moq -out mocks/event_dispatcher_mock.go -pkg mocks . EventDispatcher
//go:generate moq -out mocks/event_handler_mock.go -pkg mocks . EventHandler
//go:generate moq -out mocks/unit_of_work_mock.go -pkg mocks . UnitOfWork
//go:generate moq -out mocks/event_mock.go -pkg mocks . Event
//go:generate moq -out mocks/envelope_mock.go -pkg mocks . Envelope

import (
	"context"
	"time"
)

// AggregateType identifies which aggregate kind a stream of events belongs to.
// The set is a closed enumeration; UserAggregate is the only member today.
type AggregateType string

const (
	UserAggregate AggregateType = "USER"
)

// EventKind is the closed enumeration of event kinds this core persists.
type EventKind string

const (
	UserCreated     EventKind = "USER_CREATED"
	UserUpdated     EventKind = "USER_UPDATED"
	UserDeleted     EventKind = "USER_DELETED"
	PasswordChanged EventKind = "PASSWORD_CHANGED"
)

// Event represents a domain event that captures something significant that happened
// in the business domain. Events are immutable facts about what occurred and are
// used for event sourcing, integration, and building read models.
//
// Events should:
//   - Use past tense names (UserCreated, OrderShipped)
//   - Contain all necessary data to understand what happened
//   - Be immutable once created
type Event interface {
	// EventID returns the stable identity assigned to this event when it
	// was created by the aggregate, not when it was stored. A retried
	// Save call carries the same id, which is what lets the store
	// recognize "this event again" instead of minting a fresh row.
	EventID() string

	// EventType returns the closed event kind (e.g. "USER_CREATED").
	EventType() EventKind

	// EventVersion returns the schema version of this event's payload,
	// stored as a separate field from the kind rather than baked into a
	// Go type name, so the deserializer can evolve payloads over time.
	EventVersion() string

	// AggregateID returns the id of the aggregate that generated this event.
	AggregateID() string

	// AggregateType returns the aggregate kind that generated this event.
	AggregateType() AggregateType

	// SequenceNo returns the revision of the aggregate after this event.
	// Revisions are 1-based and monotonically increasing per aggregate.
	SequenceNo() int64

	// CreatedAt returns the timestamp when this event was created, in UTC.
	CreatedAt() time.Time

	// Payload returns the event-specific data as JSON bytes.
	Payload() []byte

	// SetSequenceNo sets the revision for this event. Called by the
	// aggregate when the event is appended to its uncommitted list.
	SetSequenceNo(sequenceNo int64)
}

// Envelope wraps a domain event with the metadata the store assigns on
// persistence: a stable event id distinct from the aggregate id, and the
// time the event was actually written (as opposed to the event's own
// business CreatedAt).
type Envelope interface {
	Event() Event
	Metadata() map[string]interface{}
	EventID() string
	Timestamp() time.Time
}

// EventStore provides append-only persistence for domain events, keyed by
// aggregate id and ordered by revision.
//
// Implementations must:
//   - Persist a batch of events for one aggregate atomically
//   - Reject a batch whose expected next revision has already been taken
//     by translating the unique-index violation into a ConflictError
//   - Treat re-appending an event with an id already stored as a no-op,
//     so retried commits are safe
type EventStore interface {
	// Save persists a batch of events atomically and returns envelopes with metadata.
	Save(ctx context.Context, events []Event) ([]Envelope, error)

	// Load retrieves all events for a specific aggregate, ordered by revision.
	Load(ctx context.Context, aggregateID string) ([]Envelope, error)

	// LoadFromSequence retrieves events for an aggregate with revision
	// strictly greater than sequenceNo, for resuming replay after a
	// snapshot taken at that revision.
	LoadFromSequence(ctx context.Context, aggregateID string, sequenceNo int64) ([]Envelope, error)

	// LoadUntil retrieves events for an aggregate with CreatedAt <= at, in
	// revision order, for point-in-time replay.
	LoadUntil(ctx context.Context, aggregateID string, at time.Time) ([]Envelope, error)

	// Search finds events matching a flat conjunction of filters, most
	// recent first, used for the advisory uniqueness pre-check on create.
	Search(ctx context.Context, aggregateType AggregateType, kind EventKind, payloadContains map[string]string, limit int) ([]Envelope, error)
}

// EventDispatcher handles the distribution of events to registered handlers,
// implementing the publish-subscribe pattern for event-driven architecture.
//
// Two implementations satisfy this interface: a synchronous dispatcher that
// calls handlers in-process inside the writer's own transaction, and an
// asynchronous dispatcher that hands events to a durable broker for a
// separate worker process to consume.
type EventDispatcher interface {
	// Dispatch sends a batch of event envelopes to all registered handlers
	// that are subscribed to the respective event types.
	Dispatch(ctx context.Context, envelopes []Envelope) error

	// Subscribe registers an event handler to receive events of a specific kind.
	Subscribe(eventType EventKind, handler EventHandler) error

	// Start initializes the dispatcher, setting up any necessary resources.
	Start() error
}

// EventHandler processes domain events to implement various event-driven patterns,
// most commonly building and maintaining read-model projections.
type EventHandler interface {
	// Handle processes a single event envelope. Handlers must be
	// idempotent, since events may be delivered more than once under
	// async dispatch.
	Handle(ctx context.Context, envelope Envelope) error

	// EventTypes returns the event kinds this handler can process.
	EventTypes() []EventKind
}

// UnitOfWork manages the transactional boundary for a single command:
// persist registered events, then dispatch them, all inside one database
// transaction. Nesting is not supported — calling Commit or Rollback a
// second time on an already-committed unit of work is an error.
type UnitOfWork interface {
	// RegisterEvents adds events to be persisted when Commit is called.
	RegisterEvents(events []Event)

	// Commit persists all registered events atomically and then dispatches
	// them. If dispatch fails under sync mode, the whole transaction rolls
	// back; under async mode, dispatch only enqueues a broker message and
	// failures there do not unwind the already-committed transaction.
	Commit(ctx context.Context) ([]Envelope, error)

	// Rollback discards all registered events without persisting them.
	Rollback() error
}
