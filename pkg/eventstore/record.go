// Package eventstore implements the append-only event store on top of GORM,
// one table per aggregate type, keyed by a unique (aggregate_id, revision)
// index for optimistic concurrency.
package eventstore

import (
	"time"

	"github.com/nireo/usercore/pkg/domain"
)

// record is the database schema for a single stored event. One table per
// aggregate type is created (see TableName), but the column layout is
// shared, so a second aggregate type can reuse this schema unchanged.
type record struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)"`
	AggregateID   string    `gorm:"type:varchar(36);uniqueIndex:idx_aggregate_revision,priority:1"`
	AggregateType string    `gorm:"type:varchar(32);index"`
	Kind          string    `gorm:"type:varchar(64);index"`
	Version       string    `gorm:"type:varchar(16)"`
	Revision      int64     `gorm:"uniqueIndex:idx_aggregate_revision,priority:2"`
	Payload       string    `gorm:"type:text"`
	Metadata      string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"index"`
	StoredAt      time.Time
}

func tableName(t domain.AggregateType) string {
	switch t {
	case domain.UserAggregate:
		return "user_events"
	default:
		return "events_" + string(t)
	}
}

// envelope implements domain.Envelope over a reconstructed domain.Event.
type envelope struct {
	event     domain.Event
	eventID   string
	metadata  map[string]interface{}
	timestamp time.Time
}

func (e *envelope) Event() domain.Event                  { return e.event }
func (e *envelope) Metadata() map[string]interface{}      { return e.metadata }
func (e *envelope) EventID() string                       { return e.eventID }
func (e *envelope) Timestamp() time.Time                  { return e.timestamp }
