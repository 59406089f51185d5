package application

import (
	"context"
	"time"
)

// ReadModelRow is the persisted shape of one user's projected state —
// the row a projection writes and a query handler reads, independent of
// the storage technology behind ReadModelRepository.
type ReadModelRow struct {
	AggregateID   string
	Username      string
	Email         string
	FirstName     string
	LastName      string
	PasswordHash  string
	HashingMethod string
	Role          string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

func (r ReadModelRow) ToView() UserView {
	return UserView{
		AggregateID: r.AggregateID,
		Username:    r.Username,
		Email:       r.Email,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Role:        r.Role,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		DeletedAt:   r.DeletedAt,
	}
}

// ReadModelRepository is the storage contract projections write to and
// query handlers read from.
type ReadModelRepository interface {
	// GetByID returns the row for aggregateID, or nil if absent or
	// soft-deleted.
	GetByID(ctx context.Context, aggregateID string) (*ReadModelRow, error)

	// GetByIDIncludingDeleted returns the row regardless of deletion
	// state, used by projections that must find a soft-deleted row to
	// apply a later, out-of-order update to.
	GetByIDIncludingDeleted(ctx context.Context, aggregateID string) (*ReadModelRow, error)

	// List returns non-deleted rows matching the optional exact
	// username/email filters, newest first, along with the total count
	// of matching rows.
	List(ctx context.Context, page, pageSize int, username, email string) ([]ReadModelRow, int, error)

	// Upsert inserts or fully replaces a row.
	Upsert(ctx context.Context, row ReadModelRow) error

	// SoftDelete marks a row as deleted at the given time. A missing row
	// is a no-op.
	SoftDelete(ctx context.Context, aggregateID string, deletedAt time.Time) error
}
