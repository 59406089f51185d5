package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nireo/usercore/pkg/domain"
	"github.com/nireo/usercore/pkg/eventcodec"
)

// GormEventStore is a domain.EventStore backed by GORM, one table per
// aggregate type. Concurrency control rests entirely on the
// (aggregate_id, revision) unique index: a Save that collides on it is
// translated into a domain.ConflictError rather than leaking the driver's
// own constraint-violation error.
type GormEventStore struct {
	db       *gorm.DB
	table    string
	registry *eventcodec.Registry
	logger   domain.Logger
}

// NewGormEventStore migrates the backing table for aggregateType and
// returns a ready store. One store instance serves one aggregate type.
func NewGormEventStore(db *gorm.DB, aggregateType domain.AggregateType, registry *eventcodec.Registry, logger domain.Logger) (*GormEventStore, error) {
	table := tableName(aggregateType)
	if err := db.Table(table).AutoMigrate(&record{}); err != nil {
		return nil, domain.NewInfrastructureError("eventstore", "migrate event table", err)
	}
	return &GormEventStore{
		db:       db.Table(table),
		table:    table,
		registry: registry,
		logger:   logger,
	}, nil
}

// Save appends events to the store inside a transaction it opens itself.
// Events must already carry the revision they are to occupy (set via
// domain.Event.SetSequenceNo by the aggregate before calling Save); a
// collision on the unique (aggregate_id, revision) index comes back as a
// domain.ConflictError. Re-saving an event whose id was already stored is
// a no-op: the caller gets back an envelope for it without a second row
// being written.
func (s *GormEventStore) Save(ctx context.Context, events []domain.Event) ([]domain.Envelope, error) {
	if len(events) == 0 {
		return nil, nil
	}

	var envelopes []domain.Envelope
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		envelopes, err = s.appendTx(ctx, tx, events)
		return err
	})
	if err != nil {
		return nil, err
	}
	return envelopes, nil
}

// SaveTx appends events using tx instead of opening its own transaction,
// so a caller that already owns a transaction — the GORM unit of work, so
// that event append, dispatch, and a snapshot upsert commit or roll back
// together — can fold the append into it.
func (s *GormEventStore) SaveTx(ctx context.Context, tx *gorm.DB, events []domain.Event) ([]domain.Envelope, error) {
	if len(events) == 0 {
		return nil, nil
	}
	return s.appendTx(ctx, tx, events)
}

func (s *GormEventStore) appendTx(ctx context.Context, tx *gorm.DB, events []domain.Event) ([]domain.Envelope, error) {
	scoped := tx.WithContext(ctx).Table(s.table)
	envelopes := make([]domain.Envelope, 0, len(events))
	for _, event := range events {
		metadata := map[string]interface{}{}
		metadataJSON, err := json.Marshal(metadata)
		if err != nil {
			return nil, domain.NewInfrastructureError("eventstore", "marshal metadata", err)
		}

		rec := record{
			ID:            event.EventID(),
			AggregateID:   event.AggregateID(),
			AggregateType: string(event.AggregateType()),
			Kind:          string(event.EventType()),
			Version:       event.EventVersion(),
			Revision:      event.SequenceNo(),
			Payload:       string(event.Payload()),
			Metadata:      string(metadataJSON),
			CreatedAt:     event.CreatedAt(),
			StoredAt:      time.Now().UTC(),
		}

		if err := scoped.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&rec).Error; err != nil {
			if isUniqueViolation(err) {
				return nil, domain.NewConcurrencyConflict(event.AggregateID(), event.SequenceNo(), -1)
			}
			return nil, domain.NewInfrastructureError("eventstore", "insert event", err)
		}

		envelopes = append(envelopes, &envelope{
			event:     event,
			eventID:   rec.ID,
			metadata:  metadata,
			timestamp: rec.StoredAt,
		})
	}
	return envelopes, nil
}

// Load returns every event for an aggregate in revision order.
func (s *GormEventStore) Load(ctx context.Context, aggregateID string) ([]domain.Envelope, error) {
	return s.LoadFromSequence(ctx, aggregateID, 0)
}

// LoadFromSequence returns events with revision strictly greater than
// sinceRevision, in revision order. Passing 0 loads the full history.
func (s *GormEventStore) LoadFromSequence(ctx context.Context, aggregateID string, sinceRevision int64) ([]domain.Envelope, error) {
	var records []record
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND revision > ?", aggregateID, sinceRevision).
		Order("revision ASC").
		Find(&records).Error
	if err != nil {
		return nil, domain.NewInfrastructureError("eventstore", "load events", err)
	}
	return s.decodeAll(records)
}

// LoadUntil returns events for an aggregate created at or before the
// given time, in revision order, enabling point-in-time replay.
func (s *GormEventStore) LoadUntil(ctx context.Context, aggregateID string, at time.Time) ([]domain.Envelope, error) {
	var records []record
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND created_at <= ?", aggregateID, at).
		Order("revision ASC").
		Find(&records).Error
	if err != nil {
		return nil, domain.NewInfrastructureError("eventstore", "load events until", err)
	}
	return s.decodeAll(records)
}

// Search is an advisory scan over stored payloads, used by command
// handlers to pre-check uniqueness constraints (e.g. "does a live user
// already have this email") before attempting a write. It is advisory
// only: the authoritative guard remains the unique revision index plus
// whatever read-model uniqueness check the caller layers on top. Results
// are ordered most recent first by CreatedAt; a non-positive limit falls
// back to defaultSearchLimit.
func (s *GormEventStore) Search(ctx context.Context, aggregateType domain.AggregateType, kind domain.EventKind, payloadContains map[string]string, limit int) ([]domain.Envelope, error) {
	const defaultSearchLimit = 200

	query := s.db.WithContext(ctx).Where("aggregate_type = ? AND kind = ?", string(aggregateType), string(kind))
	for field, value := range payloadContains {
		needle := fmt.Sprintf(`"%s":"%s"`, field, escapeForLike(value))
		query = query.Where("payload LIKE ?", "%"+needle+"%")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	query = query.Limit(limit)

	var records []record
	if err := query.Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, domain.NewInfrastructureError("eventstore", "search events", err)
	}
	return s.decodeAll(records)
}

func (s *GormEventStore) decodeAll(records []record) ([]domain.Envelope, error) {
	envelopes := make([]domain.Envelope, 0, len(records))
	for _, rec := range records {
		event, err := s.registry.Decode(domain.EventKind(rec.Kind), rec.Version, json.RawMessage(rec.Payload), rec.ID, rec.AggregateID, rec.Revision, rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("usercore: decode stored event %s: %w", rec.ID, err)
		}

		var metadata map[string]interface{}
		if rec.Metadata != "" {
			if err := json.Unmarshal([]byte(rec.Metadata), &metadata); err != nil {
				metadata = map[string]interface{}{}
			}
		}

		envelopes = append(envelopes, &envelope{
			event:     event,
			eventID:   rec.ID,
			metadata:  metadata,
			timestamp: rec.StoredAt,
		})
	}
	return envelopes, nil
}

func escapeForLike(s string) string {
	replacer := strings.NewReplacer("%", "\\%", "_", "\\_")
	return replacer.Replace(s)
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate") {
		return true
	}
	var uniqueErr interface{ Unwrap() error }
	if errors.As(err, &uniqueErr) {
		return isUniqueViolation(uniqueErr.Unwrap())
	}
	return false
}
