package application

import (
	pkgapp "github.com/nireo/usercore/pkg/application"
)

// commandMiddleware wraps every registered command handler with a
// validation-then-logging decorator chain: ValidationMiddleware (the
// outermost layer) runs each command's Validate() before the handler ever
// touches the event store, LoggingMiddleware traces entry/exit around it,
// and ErrorHandlingMiddleware, the innermost layer wrapped directly around
// the handler, recovers a panicking handler so one bad command can't take
// the dispatching goroutine down with it.
func commandMiddleware() []pkgapp.Middleware[pkgapp.Command, struct{}] {
	return []pkgapp.Middleware[pkgapp.Command, struct{}]{
		pkgapp.ValidationMiddleware[pkgapp.Command, struct{}](),
		pkgapp.LoggingMiddleware[pkgapp.Command, struct{}](),
		pkgapp.ErrorHandlingMiddleware[pkgapp.Command, struct{}](),
	}
}

func queryMiddleware() []pkgapp.Middleware[pkgapp.Query, any] {
	return []pkgapp.Middleware[pkgapp.Query, any]{
		pkgapp.ValidationMiddleware[pkgapp.Query, any](),
		pkgapp.LoggingMiddleware[pkgapp.Query, any](),
		pkgapp.ErrorHandlingMiddleware[pkgapp.Query, any](),
	}
}

// NewCommandBus builds a pkg/application.CommandBus with every user
// command handler registered under its CommandType, so callers (the
// worker's sibling processes, an embedding program, or tests) can dispatch
// by command name instead of importing each handler constructor directly.
func NewCommandBus(deps CommandDeps) pkgapp.CommandBus {
	bus := pkgapp.NewCommandBus()
	middleware := commandMiddleware()
	bus.Register(CreateUserCommand{}.CommandType(), NewCreateUserHandler(deps), middleware...)
	bus.Register(UpdateUserCommand{}.CommandType(), NewUpdateUserHandler(deps), middleware...)
	bus.Register(ChangePasswordCommand{}.CommandType(), NewChangePasswordHandler(deps), middleware...)
	bus.Register(DeleteUserCommand{}.CommandType(), NewDeleteUserHandler(deps), middleware...)
	return bus
}

// NewQueryBus builds a pkg/application.QueryBus with every user query
// handler registered under its QueryType.
func NewQueryBus(deps QueryDeps) pkgapp.QueryBus {
	bus := pkgapp.NewQueryBus()
	middleware := queryMiddleware()
	bus.Register(GetUserQuery{}.QueryType(), NewGetUserHandler(deps), middleware...)
	bus.Register(ListUsersQuery{}.QueryType(), NewListUsersHandler(deps), middleware...)
	bus.Register(GetUserAtTimeQuery{}.QueryType(), NewGetUserAtTimeHandler(deps), middleware...)
	return bus
}
