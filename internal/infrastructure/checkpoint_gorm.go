package infrastructure

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	pkgdomain "github.com/nireo/usercore/pkg/domain"
)

// checkpointRecord records the last event revision successfully folded
// into the read model for one aggregate.
type checkpointRecord struct {
	AggregateID string `gorm:"primaryKey;type:varchar(36)"`
	Revision    int64
	UpdatedAt   time.Time
}

func (checkpointRecord) TableName() string { return "projection_checkpoints" }

// GormCheckpointRepository is an application.CheckpointRepository backed
// by GORM.
type GormCheckpointRepository struct {
	db *gorm.DB
}

// NewGormCheckpointRepository migrates the checkpoint table and returns a
// ready repository.
func NewGormCheckpointRepository(db *gorm.DB) (*GormCheckpointRepository, error) {
	if err := db.AutoMigrate(&checkpointRecord{}); err != nil {
		return nil, pkgdomain.NewInfrastructureError("checkpoint", "migrate projection_checkpoints table", err)
	}
	return &GormCheckpointRepository{db: db}, nil
}

func (r *GormCheckpointRepository) LastRevision(ctx context.Context, aggregateID string) (int64, error) {
	var rec checkpointRecord
	err := r.db.WithContext(ctx).Where("aggregate_id = ?", aggregateID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, pkgdomain.NewInfrastructureError("checkpoint", "read checkpoint", err)
	}
	return rec.Revision, nil
}

// Advance upserts the checkpoint, guarded so a revision can never move
// backward even under concurrent, out-of-order delivery.
func (r *GormCheckpointRepository) Advance(ctx context.Context, aggregateID string, revision int64) error {
	rec := checkpointRecord{AggregateID: aggregateID, Revision: revision, UpdatedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "aggregate_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"revision", "updated_at"}),
		Where: clause.Where{
			Exprs: []clause.Expression{clause.Lt{Column: "projection_checkpoints.revision", Value: revision}},
		},
	}).Create(&rec).Error
	if err != nil {
		return pkgdomain.NewInfrastructureError("checkpoint", "advance checkpoint", err)
	}
	return nil
}
