package application

import (
	"context"
	"fmt"

	internaldomain "github.com/nireo/usercore/internal/domain"
	pkgapp "github.com/nireo/usercore/pkg/application"
	pkgdomain "github.com/nireo/usercore/pkg/domain"
	"github.com/nireo/usercore/pkg/security"
)

// CommandDeps is the set of collaborators every command handler needs.
// One instance is shared across handlers; NewUnitOfWork must hand back a
// fresh domain.UnitOfWork per call, since a unit of work is single-use.
type CommandDeps struct {
	EventStore    pkgdomain.EventStore
	SnapshotStore pkgdomain.SnapshotStore // nil disables the snapshot fast path
	Logger        pkgdomain.Logger
	NewUnitOfWork func() pkgdomain.UnitOfWork
	Security      *security.SecurityErrorHandler // nil skips sanitization
}

// wrapInfraError builds an InfrastructureError whose cause has been run
// through the security error handler first, so a raw driver error (which
// may echo a DSN, file path, or credential) never reaches a command
// caller unredacted. With no Security configured the cause passes through.
func wrapInfraError(sec *security.SecurityErrorHandler, component, operation string, err error) error {
	if sec != nil {
		err = sec.HandleSystemError(err, operation)
	}
	return pkgdomain.NewInfrastructureError(component, operation, err)
}

// loadUser reconstructs the user aggregate identified by aggregateID,
// using the latest snapshot as a replay watermark when snapshots are
// enabled, per the command handler protocol's steps 2–4.
func loadUser(ctx context.Context, deps CommandDeps, aggregateID string) (*internaldomain.User, error) {
	user := internaldomain.NewUser(aggregateID)
	watermark := int64(0)

	if deps.SnapshotStore != nil {
		snapshot, err := deps.SnapshotStore.Get(ctx, aggregateID)
		if err != nil {
			return nil, wrapInfraError(deps.Security, "command_handler", "load snapshot", err)
		}
		if snapshot != nil {
			if err := user.FromSnapshot(snapshot.State, snapshot.Revision); err != nil {
				return nil, wrapInfraError(deps.Security, "command_handler", "restore snapshot", err)
			}
			watermark = snapshot.Revision
		}
	}

	envelopes, err := deps.EventStore.LoadFromSequence(ctx, aggregateID, watermark)
	if err != nil {
		return nil, wrapInfraError(deps.Security, "command_handler", "load event stream", err)
	}

	events := make([]pkgdomain.Event, 0, len(envelopes))
	for _, envelope := range envelopes {
		events = append(events, envelope.Event())
	}
	user.LoadFromHistory(events)

	return user, nil
}

// noopLogger discards every call; it lets commit build an
// ApplicationService without a nil-logger guard even when a caller
// configured CommandDeps without one.
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Fatal(string, ...interface{}) {}

// snapshotRegistrar is implemented by a unit of work that can fold a
// snapshot upsert into its own commit transaction (pkg/unitofwork.GormUnitOfWork
// does). Where it isn't available, commit falls back to upserting the
// snapshot as a best-effort step after Commit has already run.
type snapshotRegistrar interface {
	RegisterSnapshot(snapshot pkgdomain.Snapshot)
}

// buildSnapshot serializes user's current state into the snapshot commit
// will persist, or returns (nil, nil) if serialization fails — a
// malformed snapshot is dropped rather than failing the command, since
// the event stream remains the source of truth regardless.
func buildSnapshot(user *internaldomain.User, logger pkgdomain.Logger) *pkgdomain.Snapshot {
	state, err := user.ToSnapshot()
	if err != nil {
		if logger != nil {
			logger.Warn("snapshot serialization failed, skipping snapshot", "aggregate_id", user.ID(), "error", err)
		}
		return nil
	}
	return &pkgdomain.Snapshot{
		AggregateID:   user.ID(),
		AggregateType: pkgdomain.UserAggregate,
		State:         state,
		Revision:      user.Version(),
	}
}

// commit runs step 6–7 of the protocol: register the aggregate's
// uncommitted events and a fresh snapshot of its post-apply state, then
// append the events, dispatch them, and upsert the snapshot inside one
// unit of work. When the unit of work supports it, all three run inside
// the same database transaction, so a handler failure during dispatch or
// a failed snapshot write rolls back the event append as well, rather
// than leaving the read model or snapshot store out of step with an
// already-committed event. The commit itself runs through an
// ApplicationService built fresh around this call's single-use unit of
// work, so the transaction bracket (log, commit-or-rollback, log) lives
// in one place rather than being reimplemented per handler.
func commit(ctx context.Context, deps CommandDeps, user *internaldomain.User) error {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	uow := deps.NewUnitOfWork()
	uow.RegisterEvents(user.UncommittedEvents())

	var deferredSnapshot *pkgdomain.Snapshot
	if deps.SnapshotStore != nil {
		if snapshot := buildSnapshot(user, logger); snapshot != nil {
			if registrar, ok := uow.(snapshotRegistrar); ok {
				registrar.RegisterSnapshot(*snapshot)
			} else {
				deferredSnapshot = snapshot
			}
		}
	}

	service := pkgapp.NewApplicationService(uow, logger)
	if err := service.ExecuteInTransaction(ctx, func(ctx context.Context, uow pkgdomain.UnitOfWork) error {
		return nil
	}); err != nil {
		return err
	}
	user.MarkEventsAsCommitted()

	if deferredSnapshot != nil {
		if err := deps.SnapshotStore.Set(ctx, *deferredSnapshot); err != nil && logger != nil {
			logger.Warn("snapshot upsert failed after commit", "aggregate_id", user.ID(), "error", err)
		}
	}

	return nil
}

// uniquenessCheck runs an advisory search over stored events before
// creating a user, returning a typed conflict if any stored USER_CREATED
// event (including one for a since-deleted user) already carries the same
// username or email. The authoritative
// guard remains the read model's unique index.
func uniquenessCheck(ctx context.Context, store pkgdomain.EventStore, field, value string) error {
	envelopes, err := store.Search(ctx, pkgdomain.UserAggregate, pkgdomain.UserCreated, map[string]string{field: value}, 1)
	if err != nil {
		return pkgdomain.NewInfrastructureError("command_handler", "uniqueness pre-check", err)
	}
	if len(envelopes) > 0 {
		return pkgdomain.NewUniquenessConflict("", fmt.Sprintf("%s already exists", field))
	}
	return nil
}

// NewCreateUserHandler builds the Handler for CreateUserCommand.
func NewCreateUserHandler(deps CommandDeps) pkgapp.Handler[pkgapp.Command, struct{}] {
	return func(ctx context.Context, log pkgdomain.Logger, p pkgapp.Payload[pkgapp.Command]) (pkgapp.Response[struct{}], error) {
		cmd, ok := p.Data.(CreateUserCommand)
		if !ok {
			return pkgapp.Response[struct{}]{}, fmt.Errorf("usercore: expected CreateUserCommand, got %T", p.Data)
		}

		if err := uniquenessCheck(ctx, deps.EventStore, "username", cmd.Username); err != nil {
			return pkgapp.Response[struct{}]{Error: err}, err
		}
		if err := uniquenessCheck(ctx, deps.EventStore, "email", cmd.Email); err != nil {
			return pkgapp.Response[struct{}]{Error: err}, err
		}

		user, err := loadUser(ctx, deps, cmd.AggregateID)
		if err != nil {
			return pkgapp.Response[struct{}]{Error: err}, err
		}

		if err := user.CreateUser(cmd.Username, cmd.Email, cmd.FirstName, cmd.LastName, cmd.PasswordHash, cmd.HashingMethod, cmd.Role); err != nil {
			return pkgapp.Response[struct{}]{Error: err}, err
		}

		if err := commit(ctx, deps, user); err != nil {
			return pkgapp.Response[struct{}]{Error: err}, err
		}

		log.Info("user created", "aggregate_id", cmd.AggregateID, "username", cmd.Username)
		return pkgapp.Response[struct{}]{Metadata: map[string]any{"revision": user.Version()}}, nil
	}
}

// NewUpdateUserHandler builds the Handler for UpdateUserCommand.
func NewUpdateUserHandler(deps CommandDeps) pkgapp.Handler[pkgapp.Command, struct{}] {
	return func(ctx context.Context, log pkgdomain.Logger, p pkgapp.Payload[pkgapp.Command]) (pkgapp.Response[struct{}], error) {
		cmd, ok := p.Data.(UpdateUserCommand)
		if !ok {
			return pkgapp.Response[struct{}]{}, fmt.Errorf("usercore: expected UpdateUserCommand, got %T", p.Data)
		}

		user, err := loadUser(ctx, deps, cmd.AggregateID)
		if err != nil {
			return pkgapp.Response[struct{}]{Error: err}, err
		}

		if err := user.UpdateUser(cmd.FirstName, cmd.LastName, cmd.Email); err != nil {
			return pkgapp.Response[struct{}]{Error: err}, err
		}

		if err := commit(ctx, deps, user); err != nil {
			return pkgapp.Response[struct{}]{Error: err}, err
		}

		log.Info("user updated", "aggregate_id", cmd.AggregateID)
		return pkgapp.Response[struct{}]{Metadata: map[string]any{"revision": user.Version()}}, nil
	}
}

// NewChangePasswordHandler builds the Handler for ChangePasswordCommand.
func NewChangePasswordHandler(deps CommandDeps) pkgapp.Handler[pkgapp.Command, struct{}] {
	return func(ctx context.Context, log pkgdomain.Logger, p pkgapp.Payload[pkgapp.Command]) (pkgapp.Response[struct{}], error) {
		cmd, ok := p.Data.(ChangePasswordCommand)
		if !ok {
			return pkgapp.Response[struct{}]{}, fmt.Errorf("usercore: expected ChangePasswordCommand, got %T", p.Data)
		}

		user, err := loadUser(ctx, deps, cmd.AggregateID)
		if err != nil {
			return pkgapp.Response[struct{}]{Error: err}, err
		}

		if err := user.ChangePassword(cmd.NewHash, cmd.HashingMethod); err != nil {
			return pkgapp.Response[struct{}]{Error: err}, err
		}

		if err := commit(ctx, deps, user); err != nil {
			return pkgapp.Response[struct{}]{Error: err}, err
		}

		log.Info("password changed", "aggregate_id", cmd.AggregateID)
		return pkgapp.Response[struct{}]{Metadata: map[string]any{"revision": user.Version()}}, nil
	}
}

// NewDeleteUserHandler builds the Handler for DeleteUserCommand.
func NewDeleteUserHandler(deps CommandDeps) pkgapp.Handler[pkgapp.Command, struct{}] {
	return func(ctx context.Context, log pkgdomain.Logger, p pkgapp.Payload[pkgapp.Command]) (pkgapp.Response[struct{}], error) {
		cmd, ok := p.Data.(DeleteUserCommand)
		if !ok {
			return pkgapp.Response[struct{}]{}, fmt.Errorf("usercore: expected DeleteUserCommand, got %T", p.Data)
		}

		user, err := loadUser(ctx, deps, cmd.AggregateID)
		if err != nil {
			return pkgapp.Response[struct{}]{Error: err}, err
		}

		if err := user.DeleteUser(); err != nil {
			return pkgapp.Response[struct{}]{Error: err}, err
		}

		if err := commit(ctx, deps, user); err != nil {
			return pkgapp.Response[struct{}]{Error: err}, err
		}

		log.Info("user deleted", "aggregate_id", cmd.AggregateID)
		return pkgapp.Response[struct{}]{Metadata: map[string]any{"revision": user.Version()}}, nil
	}
}
