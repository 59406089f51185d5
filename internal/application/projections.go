package application

import (
	"context"
	"fmt"
	"time"

	internaldomain "github.com/nireo/usercore/internal/domain"
	pkgdomain "github.com/nireo/usercore/pkg/domain"
)

// EmailProvider sends transactional email. The user_created_email
// projection is its only caller; it never touches the read model.
type EmailProvider interface {
	SendWelcomeEmail(ctx context.Context, email, username string) error
}

// UserProjector folds user events into the read model. Every Handle call
// must be idempotent: async dispatch may redeliver an envelope, and
// Checkpoints (when non-nil) is consulted to skip anything at or below the
// last revision already folded for that aggregate, and to defer (via
// ErrOutOfOrder) anything that arrives ahead of its predecessor.
type UserProjector struct {
	ReadModel   ReadModelRepository
	Checkpoints CheckpointRepository
	Email       EmailProvider
	Logger      pkgdomain.Logger
}

// NewUserProjector builds a UserProjector. email may be nil, in which case
// the user_created_email side effect is skipped entirely.
func NewUserProjector(readModel ReadModelRepository, checkpoints CheckpointRepository, email EmailProvider, logger pkgdomain.Logger) *UserProjector {
	return &UserProjector{ReadModel: readModel, Checkpoints: checkpoints, Email: email, Logger: logger}
}

// EventTypes reports every kind this projector handles.
func (p *UserProjector) EventTypes() []pkgdomain.EventKind {
	return []pkgdomain.EventKind{
		pkgdomain.UserCreated,
		pkgdomain.UserUpdated,
		pkgdomain.UserDeleted,
		pkgdomain.PasswordChanged,
	}
}

// Handle dispatches to the per-kind handler and, on success, advances the
// checkpoint past this event's revision.
func (p *UserProjector) Handle(ctx context.Context, envelope pkgdomain.Envelope) error {
	event := envelope.Event()
	aggregateID := event.AggregateID()
	revision := event.SequenceNo()

	action, err := checkpointGuard(ctx, p.Checkpoints, aggregateID, revision)
	if err != nil {
		return pkgdomain.NewProjectionError("user_projector", event.EventType(), aggregateID, err)
	}
	switch action {
	case skipCheckpoint:
		if p.Logger != nil {
			p.Logger.Info("skipping already-projected event", "aggregate_id", aggregateID, "revision", revision)
		}
		return nil
	case deferCheckpoint:
		if p.Logger != nil {
			p.Logger.Warn("deferring out-of-order event pending its predecessor", "aggregate_id", aggregateID, "revision", revision)
		}
		return fmt.Errorf("%w: aggregate %s revision %d", ErrOutOfOrder, aggregateID, revision)
	}

	var handleErr error
	switch e := event.(type) {
	case *internaldomain.UserCreated:
		handleErr = p.handleUserCreated(ctx, e)
	case *internaldomain.UserUpdated:
		handleErr = p.handleUserUpdated(ctx, e)
	case *internaldomain.UserDeleted:
		handleErr = p.handleUserDeleted(ctx, e)
	case *internaldomain.PasswordChanged:
		handleErr = p.handlePasswordChanged(ctx, e)
	default:
		return pkgdomain.NewProjectionError("user_projector", event.EventType(), aggregateID, fmt.Errorf("unexpected event type %T", event))
	}
	if handleErr != nil {
		return pkgdomain.NewProjectionError("user_projector", event.EventType(), aggregateID, handleErr)
	}

	if p.Checkpoints != nil {
		if err := p.Checkpoints.Advance(ctx, aggregateID, revision); err != nil && p.Logger != nil {
			p.Logger.Warn("checkpoint advance failed after successful projection", "aggregate_id", aggregateID, "revision", revision, "error", err)
		}
	}
	return nil
}

// handleUserCreated inserts the row, then fires the user_created_email
// side effect. The side effect never blocks the projection: a send
// failure is logged but does not fail Handle, since read-model
// consistency must not depend on an external mail provider.
func (p *UserProjector) handleUserCreated(ctx context.Context, e *internaldomain.UserCreated) error {
	now := e.CreatedAt()
	row := ReadModelRow{
		AggregateID:   e.AggregateID(),
		Username:      e.Username,
		Email:         e.Email,
		FirstName:     e.FirstName,
		LastName:      e.LastName,
		PasswordHash:  e.PasswordHash,
		HashingMethod: e.HashingMethod,
		Role:          e.Role,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.ReadModel.Upsert(ctx, row); err != nil {
		return err
	}

	if p.Email != nil {
		if err := p.Email.SendWelcomeEmail(ctx, e.Email, e.Username); err != nil && p.Logger != nil {
			p.Logger.Warn("welcome email send failed", "aggregate_id", e.AggregateID(), "error", err)
		}
	}
	return nil
}

// handleUserUpdated overwrites only the fields the command carried,
// creating the row if it is somehow missing (an async worker can observe
// user_updated before user_created under adversarial redelivery).
func (p *UserProjector) handleUserUpdated(ctx context.Context, e *internaldomain.UserUpdated) error {
	row, err := p.ReadModel.GetByIDIncludingDeleted(ctx, e.AggregateID())
	if err != nil {
		return err
	}
	if row == nil {
		row = &ReadModelRow{AggregateID: e.AggregateID(), CreatedAt: e.CreatedAt()}
	}
	if e.FirstName != nil {
		row.FirstName = *e.FirstName
	}
	if e.LastName != nil {
		row.LastName = *e.LastName
	}
	if e.Email != nil {
		row.Email = *e.Email
	}
	row.UpdatedAt = e.CreatedAt()
	return p.ReadModel.Upsert(ctx, *row)
}

// handleUserDeleted soft-deletes the row. A missing row is a no-op: there
// is nothing left to mark deleted.
func (p *UserProjector) handleUserDeleted(ctx context.Context, e *internaldomain.UserDeleted) error {
	return p.ReadModel.SoftDelete(ctx, e.AggregateID(), e.CreatedAt())
}

// handlePasswordChanged overwrites the stored password hash, creating the
// row if missing. This mirrors user_updated's create-if-missing behavior
// and is a known edge case: a freshly created row from this path will be
// missing every other field until user_created (or user_updated) catches
// up.
func (p *UserProjector) handlePasswordChanged(ctx context.Context, e *internaldomain.PasswordChanged) error {
	row, err := p.ReadModel.GetByIDIncludingDeleted(ctx, e.AggregateID())
	if err != nil {
		return err
	}
	if row == nil {
		row = &ReadModelRow{AggregateID: e.AggregateID(), CreatedAt: e.CreatedAt()}
	}
	row.PasswordHash = e.PasswordHash
	row.HashingMethod = e.HashingMethod
	row.UpdatedAt = e.CreatedAt()
	return p.ReadModel.Upsert(ctx, *row)
}

// noopEmailProvider logs instead of sending, the default when no real
// transactional email integration is configured.
type noopEmailProvider struct {
	logger pkgdomain.Logger
}

// NewNoopEmailProvider returns an EmailProvider that only logs.
func NewNoopEmailProvider(logger pkgdomain.Logger) EmailProvider {
	return &noopEmailProvider{logger: logger}
}

func (n *noopEmailProvider) SendWelcomeEmail(ctx context.Context, email, username string) error {
	if n.logger != nil {
		n.logger.Info("welcome email suppressed, no email provider configured", "email", email, "username", username, "at", time.Now().UTC())
	}
	return nil
}
