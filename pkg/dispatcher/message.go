// Package dispatcher implements domain.EventDispatcher with two
// strategies: a synchronous dispatcher that calls handlers in-process,
// and an asynchronous one that hands envelopes to a durable broker for a
// separate worker process to consume.
package dispatcher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/segmentio/ksuid"

	"github.com/nireo/usercore/pkg/domain"
	"github.com/nireo/usercore/pkg/eventcodec"
)

// wireEnvelope is the broker message contract: enough of the envelope and
// underlying event to let a worker process reconstruct both without
// sharing Go types with the writer process.
type wireEnvelope struct {
	TaskName      string          `json:"task_name"`
	EventID       string          `json:"event_id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Kind          string          `json:"kind"`
	Version       string          `json:"version"`
	Revision      int64           `json:"revision"`
	CreatedAt     time.Time       `json:"created_at"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"event_payload_serialized"`
	Metadata      map[string]any  `json:"metadata"`
}

// topicForKind names the broker topic for an event kind ("projection."
// followed by the kind); the same string is the message's task_name. One
// topic per kind mirrors how the synchronous dispatcher routes by event
// kind.
func topicForKind(kind domain.EventKind) string {
	return "projection." + string(kind)
}

func encodeEnvelope(envelope domain.Envelope) (*message.Message, error) {
	event := envelope.Event()

	wire := wireEnvelope{
		TaskName:      topicForKind(event.EventType()),
		EventID:       envelope.EventID(),
		AggregateID:   event.AggregateID(),
		AggregateType: string(event.AggregateType()),
		Kind:          string(event.EventType()),
		Version:       event.EventVersion(),
		Revision:      event.SequenceNo(),
		CreatedAt:     event.CreatedAt(),
		Timestamp:     envelope.Timestamp(),
		Payload:       event.Payload(),
		Metadata:      envelope.Metadata(),
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("usercore: encode broker message: %w", err)
	}

	// The broker message id is a k-sortable ksuid, distinct from the
	// domain event id carried inside the payload: it identifies this
	// particular delivery attempt on the queue, not the event itself, and
	// its lexical order doubles as an approximate enqueue-time ordering
	// for anyone inspecting the broker directly.
	msg := message.NewMessage(ksuid.New().String(), data)
	msg.Metadata.Set("kind", wire.Kind)
	msg.Metadata.Set("aggregate_id", wire.AggregateID)
	msg.Metadata.Set("event_id", wire.EventID)
	return msg, nil
}

func decodeEnvelope(msg *message.Message, registry *eventcodec.Registry) (domain.Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		return nil, fmt.Errorf("usercore: decode broker message: %w", err)
	}

	event, err := registry.Decode(domain.EventKind(wire.Kind), wire.Version, wire.Payload, wire.EventID, wire.AggregateID, wire.Revision, wire.CreatedAt)
	if err != nil {
		return nil, err
	}

	return &wireEnvelopeAdapter{
		event:     event,
		eventID:   wire.EventID,
		metadata:  wire.Metadata,
		timestamp: wire.Timestamp,
	}, nil
}

type wireEnvelopeAdapter struct {
	event     domain.Event
	eventID   string
	metadata  map[string]any
	timestamp time.Time
}

func (e *wireEnvelopeAdapter) Event() domain.Event             { return e.event }
func (e *wireEnvelopeAdapter) Metadata() map[string]interface{} { return e.metadata }
func (e *wireEnvelopeAdapter) EventID() string                  { return e.eventID }
func (e *wireEnvelopeAdapter) Timestamp() time.Time             { return e.timestamp }
