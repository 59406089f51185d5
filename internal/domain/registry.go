package domain

import (
	"encoding/json"
	"time"

	"github.com/nireo/usercore/pkg/eventcodec"
	pkgdomain "github.com/nireo/usercore/pkg/domain"
)

// RegisterDecoders wires every typed user event into reg under schema
// version v1, so the event store and the async dispatcher's worker side
// can both revive a stored (kind, payload) pair into its concrete Go type.
func RegisterDecoders(reg *eventcodec.Registry) {
	reg.Register(pkgdomain.UserCreated, eventVersionV1, decodeUserCreated)
	reg.Register(pkgdomain.UserUpdated, eventVersionV1, decodeUserUpdated)
	reg.Register(pkgdomain.PasswordChanged, eventVersionV1, decodePasswordChanged)
	reg.Register(pkgdomain.UserDeleted, eventVersionV1, decodeUserDeleted)
}

func decodeUserCreated(payload json.RawMessage, eventID, aggregateID string, revision int64, createdAt time.Time) (pkgdomain.Event, error) {
	var e UserCreated
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	e.baseEvent = baseEvent{EventId: eventID, Kind: pkgdomain.UserCreated, AggregateId: aggregateID, Revision: revision, OccurredAt: createdAt}
	return &e, nil
}

func decodeUserUpdated(payload json.RawMessage, eventID, aggregateID string, revision int64, createdAt time.Time) (pkgdomain.Event, error) {
	var e UserUpdated
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	e.baseEvent = baseEvent{EventId: eventID, Kind: pkgdomain.UserUpdated, AggregateId: aggregateID, Revision: revision, OccurredAt: createdAt}
	return &e, nil
}

func decodePasswordChanged(payload json.RawMessage, eventID, aggregateID string, revision int64, createdAt time.Time) (pkgdomain.Event, error) {
	var e PasswordChanged
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	e.baseEvent = baseEvent{EventId: eventID, Kind: pkgdomain.PasswordChanged, AggregateId: aggregateID, Revision: revision, OccurredAt: createdAt}
	return &e, nil
}

func decodeUserDeleted(payload json.RawMessage, eventID, aggregateID string, revision int64, createdAt time.Time) (pkgdomain.Event, error) {
	var e UserDeleted
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	e.baseEvent = baseEvent{EventId: eventID, Kind: pkgdomain.UserDeleted, AggregateId: aggregateID, Revision: revision, OccurredAt: createdAt}
	return &e, nil
}
