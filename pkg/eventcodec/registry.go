// Package eventcodec maps a persisted (kind, version) pair back to the
// concrete, typed domain.Event Go value it was marshaled from.
//
// The event store itself is domain-agnostic: it only knows how to store and
// retrieve a kind string, a version string and a JSON payload. Reviving a
// typed event from those three values is the codec's job, kept separate so
// the store never needs to import internal/domain.
package eventcodec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nireo/usercore/pkg/domain"
)

// Decoder builds a typed domain.Event from a stored payload plus the
// envelope fields the store already knows (the event's own stable id,
// aggregate id, revision, creation time), which concrete event
// constructors need filled in. eventID must be carried through
// unchanged: it is the same id the event was created with, not a fresh
// one minted on replay.
type Decoder func(payload json.RawMessage, eventID, aggregateID string, revision int64, createdAt time.Time) (domain.Event, error)

// Registry is a (kind, version) -> Decoder lookup table. Unknown kinds are
// fatal; an unknown version for a known kind falls back to the latest
// registered version for that kind, logging a warning, per the versioned
// event design.
type Registry struct {
	decoders map[domain.EventKind]map[string]Decoder
	latest   map[domain.EventKind]string
	logger   domain.Logger
}

// ErrUnknownEventKind is returned when no decoder is registered for a
// persisted event's kind at all.
type ErrUnknownEventKind struct {
	Kind domain.EventKind
}

func (e ErrUnknownEventKind) Error() string {
	return fmt.Sprintf("eventcodec: no decoder registered for event kind %q", e.Kind)
}

// NewRegistry creates an empty registry. logger may be nil, in which case
// version-fallback warnings are dropped.
func NewRegistry(logger domain.Logger) *Registry {
	return &Registry{
		decoders: make(map[domain.EventKind]map[string]Decoder),
		latest:   make(map[domain.EventKind]string),
		logger:   logger,
	}
}

// Register associates a decoder with a (kind, version) pair. The last
// version registered for a kind becomes that kind's fallback.
func (r *Registry) Register(kind domain.EventKind, version string, decode Decoder) {
	if r.decoders[kind] == nil {
		r.decoders[kind] = make(map[string]Decoder)
	}
	r.decoders[kind][version] = decode
	r.latest[kind] = version
}

// Decode reconstructs the typed event for a stored record, preserving the
// id it was originally persisted under.
func (r *Registry) Decode(kind domain.EventKind, version string, payload json.RawMessage, eventID, aggregateID string, revision int64, createdAt time.Time) (domain.Event, error) {
	versions, ok := r.decoders[kind]
	if !ok {
		return nil, ErrUnknownEventKind{Kind: kind}
	}

	decode, ok := versions[version]
	if !ok {
		fallback := r.latest[kind]
		if r.logger != nil {
			r.logger.Warn("unknown event version, falling back to latest registered version",
				"kind", kind, "version", version, "fallback_version", fallback)
		}
		decode = versions[fallback]
	}

	return decode(payload, eventID, aggregateID, revision, createdAt)
}
