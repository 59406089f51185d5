package application

import (
	"time"

	"github.com/nireo/usercore/pkg/application"
)

// GetUserQuery fetches a single live user by aggregate id from the read
// model.
type GetUserQuery struct {
	AggregateID string `json:"aggregate_id"`
}

func (q GetUserQuery) QueryType() string { return "GetUser" }

func (q GetUserQuery) Validate() error {
	if q.AggregateID == "" {
		return application.NewValidationError("aggregate_id", "aggregate_id cannot be empty")
	}
	return nil
}

// ListUsersQuery paginates over non-deleted read-model rows, optionally
// filtered by exact username/email.
type ListUsersQuery struct {
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

func (q ListUsersQuery) QueryType() string { return "ListUsers" }

func (q ListUsersQuery) Validate() error {
	if q.Page < 1 {
		return application.NewValidationError("page", "page must be greater than 0")
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		return application.NewValidationError("page_size", "page_size must be between 1 and 100")
	}
	return nil
}

// GetUserAtTimeQuery replays the event stream up to a point in time,
// never touching the read model.
type GetUserAtTimeQuery struct {
	AggregateID string    `json:"aggregate_id"`
	Timestamp   time.Time `json:"timestamp"`
}

func (q GetUserAtTimeQuery) QueryType() string { return "GetUserAtTime" }

func (q GetUserAtTimeQuery) Validate() error {
	if q.AggregateID == "" {
		return application.NewValidationError("aggregate_id", "aggregate_id cannot be empty")
	}
	return nil
}

// UserView is the shape returned by every user-facing query.
type UserView struct {
	AggregateID string     `json:"aggregate_id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Role        string     `json:"role"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// ListUsersResult is ListUsers's paginated contract: results, a total
// count, the page/page_size echoed back, and next/previous page links.
type ListUsersResult struct {
	Results  []UserView `json:"results"`
	Count    int        `json:"count"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Next     *string    `json:"next"`
	Previous *string    `json:"previous"`
}
