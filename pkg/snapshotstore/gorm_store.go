// Package snapshotstore implements domain.SnapshotStore on top of GORM.
// Snapshots only ever move forward: a Set for a revision at or below the
// one already stored is dropped, guarded by an upsert predicate rather
// than a read-then-write round trip.
package snapshotstore

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nireo/usercore/pkg/domain"
)

type record struct {
	AggregateID   string `gorm:"primaryKey;type:varchar(36)"`
	AggregateType string `gorm:"type:varchar(32);index"`
	State         string `gorm:"type:text"`
	Revision      int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (record) TableName() string { return "user_snapshots" }

// GormSnapshotStore is a domain.SnapshotStore backed by GORM. Concurrent
// Set calls for the same aggregate are coalesced with singleflight so a
// burst of dispatcher retries after a blip doesn't hammer the table with
// redundant upserts for an identical revision.
type GormSnapshotStore struct {
	db    *gorm.DB
	group singleflight.Group
}

// NewGormSnapshotStore migrates the snapshot table and returns a ready
// store.
func NewGormSnapshotStore(db *gorm.DB) (*GormSnapshotStore, error) {
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, domain.NewInfrastructureError("snapshotstore", "migrate snapshot table", err)
	}
	return &GormSnapshotStore{db: db}, nil
}

// Get returns the latest snapshot for an aggregate, or (nil, nil) if
// none exists yet.
func (s *GormSnapshotStore) Get(ctx context.Context, aggregateID string) (*domain.Snapshot, error) {
	var rec record
	err := s.db.WithContext(ctx).Where("aggregate_id = ?", aggregateID).First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, domain.NewInfrastructureError("snapshotstore", "load snapshot", err)
	}

	return &domain.Snapshot{
		AggregateID:   rec.AggregateID,
		AggregateType: domain.AggregateType(rec.AggregateType),
		State:         []byte(rec.State),
		Revision:      rec.Revision,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}, nil
}

// Set stores snapshot, upserting only when the incoming revision is
// strictly greater than what is already on record.
func (s *GormSnapshotStore) Set(ctx context.Context, snapshot domain.Snapshot) error {
	key := snapshot.AggregateID
	_, err, _ := s.group.Do(key, func() (interface{}, error) {
		return nil, s.upsert(ctx, s.db, snapshot)
	})
	return err
}

// SetTx stores snapshot using tx instead of the store's own connection,
// letting a caller that already owns a transaction (the GORM unit of
// work) fold the snapshot upsert into it alongside the event append and
// dispatch. Concurrent-call coalescing via singleflight is skipped here:
// the caller's transaction already serializes this write.
func (s *GormSnapshotStore) SetTx(ctx context.Context, tx *gorm.DB, snapshot domain.Snapshot) error {
	return s.upsert(ctx, tx, snapshot)
}

func (s *GormSnapshotStore) upsert(ctx context.Context, db *gorm.DB, snapshot domain.Snapshot) error {
	now := time.Now().UTC()
	rec := record{
		AggregateID:   snapshot.AggregateID,
		AggregateType: string(snapshot.AggregateType),
		State:         string(snapshot.State),
		Revision:      snapshot.Revision,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	result := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "aggregate_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"state", "revision", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Lt{Column: "user_snapshots.revision", Value: snapshot.Revision},
		}},
	}).Create(&rec)

	if result.Error != nil {
		return domain.NewInfrastructureError("snapshotstore", "store snapshot", result.Error)
	}
	return nil
}
