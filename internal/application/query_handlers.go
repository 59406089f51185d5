package application

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"

	internaldomain "github.com/nireo/usercore/internal/domain"
	pkgapp "github.com/nireo/usercore/pkg/application"
	pkgdomain "github.com/nireo/usercore/pkg/domain"
	"github.com/nireo/usercore/pkg/security"
)

// QueryDeps is the set of collaborators the query handlers need.
type QueryDeps struct {
	ReadModel  ReadModelRepository
	EventStore pkgdomain.EventStore
	Logger     pkgdomain.Logger
	Security   *security.SecurityErrorHandler // nil skips sanitization
}

// NewGetUserHandler builds the Handler for GetUserQuery.
func NewGetUserHandler(deps QueryDeps) pkgapp.Handler[pkgapp.Query, any] {
	return func(ctx context.Context, log pkgdomain.Logger, p pkgapp.Payload[pkgapp.Query]) (pkgapp.Response[any], error) {
		q, ok := p.Data.(GetUserQuery)
		if !ok {
			return pkgapp.Response[any]{}, fmt.Errorf("usercore: expected GetUserQuery, got %T", p.Data)
		}

		row, err := deps.ReadModel.GetByID(ctx, q.AggregateID)
		if err != nil {
			err = wrapInfraError(deps.Security, "query_handler", "read user row", err)
			return pkgapp.Response[any]{Error: err}, err
		}
		if row == nil {
			err = pkgdomain.NewNotFoundError("user", q.AggregateID)
			return pkgapp.Response[any]{Error: err}, err
		}

		return pkgapp.Response[any]{Data: row.ToView()}, nil
	}
}

// NewListUsersHandler builds the Handler for ListUsersQuery. A read-model
// error degrades to an empty result rather than propagating, so a listing
// page never 5xxs just because the projection lags or hiccups.
func NewListUsersHandler(deps QueryDeps) pkgapp.Handler[pkgapp.Query, any] {
	return func(ctx context.Context, log pkgdomain.Logger, p pkgapp.Payload[pkgapp.Query]) (pkgapp.Response[any], error) {
		q, ok := p.Data.(ListUsersQuery)
		if !ok {
			return pkgapp.Response[any]{}, fmt.Errorf("usercore: expected ListUsersQuery, got %T", p.Data)
		}

		rows, total, err := deps.ReadModel.List(ctx, q.Page, q.PageSize, q.Username, q.Email)
		if err != nil {
			if log != nil {
				log.Warn("list users degraded to empty result after read-model error", "error", err)
			}
			return pkgapp.Response[any]{Data: ListUsersResult{Page: q.Page, PageSize: q.PageSize}}, nil
		}

		views := make([]UserView, 0, len(rows))
		for _, row := range rows {
			views = append(views, row.ToView())
		}

		totalPages := int(math.Ceil(float64(total) / float64(q.PageSize)))
		result := ListUsersResult{
			Results:  views,
			Count:    total,
			Page:     q.Page,
			PageSize: q.PageSize,
			Next:     pageLink(q, q.Page+1, totalPages),
			Previous: pageLink(q, q.Page-1, totalPages),
		}

		return pkgapp.Response[any]{Data: result}, nil
	}
}

func pageLink(q ListUsersQuery, page, totalPages int) *string {
	if page < 1 || page > totalPages {
		return nil
	}
	values := url.Values{}
	values.Set("page", strconv.Itoa(page))
	values.Set("page_size", strconv.Itoa(q.PageSize))
	if q.Username != "" {
		values.Set("username", q.Username)
	}
	if q.Email != "" {
		values.Set("email", q.Email)
	}
	link := "/users/?" + values.Encode()
	return &link
}

// NewGetUserAtTimeHandler builds the Handler for GetUserAtTimeQuery: a
// pure event-stream replay that never consults the read model.
func NewGetUserAtTimeHandler(deps QueryDeps) pkgapp.Handler[pkgapp.Query, any] {
	return func(ctx context.Context, log pkgdomain.Logger, p pkgapp.Payload[pkgapp.Query]) (pkgapp.Response[any], error) {
		q, ok := p.Data.(GetUserAtTimeQuery)
		if !ok {
			return pkgapp.Response[any]{}, fmt.Errorf("usercore: expected GetUserAtTimeQuery, got %T", p.Data)
		}

		envelopes, err := deps.EventStore.LoadUntil(ctx, q.AggregateID, q.Timestamp)
		if err != nil {
			err = wrapInfraError(deps.Security, "query_handler", "replay event stream", err)
			return pkgapp.Response[any]{Error: err}, err
		}
		if len(envelopes) == 0 {
			err = pkgdomain.NewNotFoundError("user", q.AggregateID)
			return pkgapp.Response[any]{Error: err}, err
		}

		events := make([]pkgdomain.Event, 0, len(envelopes))
		for _, envelope := range envelopes {
			events = append(events, envelope.Event())
		}

		user := internaldomain.NewUser(q.AggregateID)
		user.LoadFromHistory(events)

		view := UserView{
			AggregateID: user.ID(),
			Username:    user.Username,
			Email:       user.Email,
			FirstName:   user.FirstName,
			LastName:    user.LastName,
			Role:        user.Role,
			CreatedAt:   user.CreatedAt,
			UpdatedAt:   user.UpdatedAt,
			DeletedAt:   user.DeletedAt,
		}
		return pkgapp.Response[any]{Data: view}, nil
	}
}
