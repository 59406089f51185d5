package infrastructure

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nireo/usercore/internal/application"
	pkgdomain "github.com/nireo/usercore/pkg/domain"
)

// userReadModelRecord is the GORM-mapped row for the user read model.
// Username and email carry a unique index so the authoritative
// uniqueness guard lives in the database, not just in the advisory
// event-store pre-check.
//
// SQLite enforces a plain UNIQUE index across all rows including
// soft-deleted ones; Postgres can express the stricter "unique only
// among live rows" rule with a partial index
// (CREATE UNIQUE INDEX ... WHERE deleted_at IS NULL), which GORM's
// struct tags cannot express directly. AutoMigrate here gives every
// backend the plain unique index; a Postgres deployment that wants to
// let a deleted user's username be reused should layer on the partial
// index itself via a migration, as noted in this repo's design notes.
type userReadModelRecord struct {
	AggregateID   string `gorm:"primaryKey;type:varchar(36)"`
	Username      string `gorm:"uniqueIndex;type:varchar(64);not null"`
	Email         string `gorm:"uniqueIndex;type:varchar(255);not null"`
	FirstName     string `gorm:"type:varchar(128)"`
	LastName      string `gorm:"type:varchar(128)"`
	PasswordHash  string `gorm:"type:varchar(255);not null"`
	HashingMethod string `gorm:"type:varchar(32);not null"`
	Role          string `gorm:"type:varchar(32);not null;default:user"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time `gorm:"index"`
}

func (userReadModelRecord) TableName() string { return "user_read_models" }

func (r userReadModelRecord) toRow() application.ReadModelRow {
	return application.ReadModelRow{
		AggregateID:   r.AggregateID,
		Username:      r.Username,
		Email:         r.Email,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		PasswordHash:  r.PasswordHash,
		HashingMethod: r.HashingMethod,
		Role:          r.Role,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		DeletedAt:     r.DeletedAt,
	}
}

func fromRow(row application.ReadModelRow) userReadModelRecord {
	return userReadModelRecord{
		AggregateID:   row.AggregateID,
		Username:      row.Username,
		Email:         row.Email,
		FirstName:     row.FirstName,
		LastName:      row.LastName,
		PasswordHash:  row.PasswordHash,
		HashingMethod: row.HashingMethod,
		Role:          row.Role,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		DeletedAt:     row.DeletedAt,
	}
}

// GormReadModelRepository is an application.ReadModelRepository backed by
// GORM.
type GormReadModelRepository struct {
	db *gorm.DB
}

// NewGormReadModelRepository migrates the user read model table and
// returns a ready repository.
func NewGormReadModelRepository(db *gorm.DB) (*GormReadModelRepository, error) {
	if err := db.AutoMigrate(&userReadModelRecord{}); err != nil {
		return nil, pkgdomain.NewInfrastructureError("read_model", "migrate user_read_models table", err)
	}
	return &GormReadModelRepository{db: db}, nil
}

func (r *GormReadModelRepository) GetByID(ctx context.Context, aggregateID string) (*application.ReadModelRow, error) {
	var rec userReadModelRecord
	err := r.db.WithContext(ctx).Where("aggregate_id = ? AND deleted_at IS NULL", aggregateID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgdomain.NewInfrastructureError("read_model", "get user row", err)
	}
	row := rec.toRow()
	return &row, nil
}

func (r *GormReadModelRepository) GetByIDIncludingDeleted(ctx context.Context, aggregateID string) (*application.ReadModelRow, error) {
	var rec userReadModelRecord
	err := r.db.WithContext(ctx).Unscoped().Where("aggregate_id = ?", aggregateID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgdomain.NewInfrastructureError("read_model", "get user row including deleted", err)
	}
	row := rec.toRow()
	return &row, nil
}

func (r *GormReadModelRepository) List(ctx context.Context, page, pageSize int, username, email string) ([]application.ReadModelRow, int, error) {
	query := r.db.WithContext(ctx).Model(&userReadModelRecord{}).Where("deleted_at IS NULL")
	if username != "" {
		query = query.Where("username = ?", username)
	}
	if email != "" {
		query = query.Where("email = ?", email)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, pkgdomain.NewInfrastructureError("read_model", "count user rows", err)
	}

	var recs []userReadModelRecord
	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&recs).Error
	if err != nil {
		return nil, 0, pkgdomain.NewInfrastructureError("read_model", "list user rows", err)
	}

	rows := make([]application.ReadModelRow, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, rec.toRow())
	}
	return rows, int(total), nil
}

func (r *GormReadModelRepository) Upsert(ctx context.Context, row application.ReadModelRow) error {
	rec := fromRow(row)
	err := r.db.WithContext(ctx).Unscoped().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "aggregate_id"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return pkgdomain.NewInfrastructureError("read_model", "upsert user row", err)
	}
	return nil
}

// SoftDelete marks the row deleted and tombstones its username/email by
// appending the aggregate id to each. SQLite (the test and single-node
// default backend via glebarez/sqlite) has no partial-index predicate to
// express "unique among live rows only", so the plain unique index above
// would otherwise block a brand new user from ever reusing a deleted
// user's username or email. Tombstoning the values frees them up while
// leaving the row itself in place, still readable through
// GetByIDIncludingDeleted. A Postgres deployment may instead express this
// with a partial unique index (`WHERE deleted_at IS NULL`) and skip the
// tombstoning, since Postgres supports that predicate directly.
func (r *GormReadModelRepository) SoftDelete(ctx context.Context, aggregateID string, deletedAt time.Time) error {
	var rec userReadModelRecord
	err := r.db.WithContext(ctx).Where("aggregate_id = ? AND deleted_at IS NULL", aggregateID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return pkgdomain.NewInfrastructureError("read_model", "find user row to soft delete", err)
	}

	tombstone := "#deleted#" + aggregateID
	result := r.db.WithContext(ctx).Model(&userReadModelRecord{}).
		Where("aggregate_id = ? AND deleted_at IS NULL", aggregateID).
		Updates(map[string]interface{}{
			"deleted_at": deletedAt,
			"username":   rec.Username + tombstone,
			"email":      rec.Email + tombstone,
		})
	if result.Error != nil {
		return pkgdomain.NewInfrastructureError("read_model", "soft delete user row", result.Error)
	}
	return nil
}
