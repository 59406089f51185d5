// Package domain holds the in-scope aggregate of this core: the user.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pkgdomain "github.com/nireo/usercore/pkg/domain"
)

// Typed domain errors for every precondition in the aggregate's method
// table. Each is a pkgdomain.ValidationError, BusinessRuleError or
// NotFoundError so a caller can recover the error-envelope category without a type switch
// over every one of these.
var (
	ErrUsernameTooShort       = pkgdomain.NewValidationError("username", "must be at least 3 characters", nil)
	ErrInvalidEmailFormat     = pkgdomain.NewValidationError("email", "must contain '@'", nil)
	ErrPasswordRequired       = pkgdomain.NewValidationError("password_hash", "must not be empty", nil)
	ErrNoFieldsToUpdate       = pkgdomain.NewValidationError("", "at least one field must be provided", nil)
	ErrCannotUpdateDeletedUser = pkgdomain.NewBusinessRuleError("user_deleted", "cannot update a deleted user")
	ErrUserAlreadyDeleted     = pkgdomain.NewBusinessRuleError("user_deleted", "user is already deleted")
	ErrPasswordMustBeDifferent = pkgdomain.NewBusinessRuleError("password_unchanged", "new password must differ from the current one")
	ErrUserAlreadyExists      = pkgdomain.NewBusinessRuleError("user_exists", "user already exists")
	ErrUserNotFound           = pkgdomain.NewNotFoundError("user", "")
)

// User is the sole in-scope aggregate: the event-sourced projection of one
// user's identity and credentials.
type User struct {
	id                   string
	lastAppliedRevision  int64

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

	uncommitted []pkgdomain.Event
}

// NewUser returns an empty aggregate instance ready to either create a new
// user or be hydrated via LoadFromHistory.
func NewUser(id string) *User {
	return &User{id: id}
}

func (u *User) ID() string           { return u.id }
func (u *User) Version() int64       { return u.lastAppliedRevision }
func (u *User) IsDeleted() bool      { return u.DeletedAt != nil }

func (u *User) UncommittedEvents() []pkgdomain.Event { return u.uncommitted }

func (u *User) MarkEventsAsCommitted() { u.uncommitted = nil }

// CreateUser is the only intent valid on a fresh (never-applied) aggregate.
func (u *User) CreateUser(username, email, firstName, lastName, passwordHash, hashingMethod, role string) error {
	if u.lastAppliedRevision != 0 {
		return ErrUserAlreadyExists
	}
	if len(username) < 3 {
		return ErrUsernameTooShort
	}
	if !strings.Contains(email, "@") {
		return ErrInvalidEmailFormat
	}
	if passwordHash == "" {
		return ErrPasswordRequired
	}

	event := NewUserCreated(u.id, username, email, firstName, lastName, passwordHash, hashingMethod, role)
	u.apply(event, true)
	return nil
}

// UpdateUser patches first_name/last_name/email. A nil pointer leaves the
// field unchanged; at least one must be non-nil.
func (u *User) UpdateUser(firstName, lastName, email *string) error {
	if err := u.requireExistsAndLive(); err != nil {
		return err
	}
	if firstName == nil && lastName == nil && email == nil {
		return ErrNoFieldsToUpdate
	}
	if email != nil && !strings.Contains(*email, "@") {
		return ErrInvalidEmailFormat
	}

	event := NewUserUpdated(u.id, firstName, lastName, email)
	u.apply(event, true)
	return nil
}

// ChangePassword replaces the stored hash, refusing a hash identical to
// the current one.
func (u *User) ChangePassword(newHash, hashingMethod string) error {
	if err := u.requireExistsAndLive(); err != nil {
		return err
	}
	if newHash == "" {
		return ErrPasswordRequired
	}
	if newHash == u.PasswordHash {
		return ErrPasswordMustBeDifferent
	}

	event := NewPasswordChanged(u.id, newHash, hashingMethod)
	u.apply(event, true)
	return nil
}

// DeleteUser soft-deletes the aggregate; it refuses a second delete.
func (u *User) DeleteUser() error {
	if u.lastAppliedRevision == 0 {
		return ErrUserNotFound
	}
	if u.IsDeleted() {
		return ErrUserAlreadyDeleted
	}

	event := NewUserDeleted(u.id)
	u.apply(event, true)
	return nil
}

func (u *User) requireExistsAndLive() error {
	if u.lastAppliedRevision == 0 {
		return ErrUserNotFound
	}
	if u.IsDeleted() {
		return ErrCannotUpdateDeletedUser
	}
	return nil
}

// LoadFromHistory reconstructs state by folding events in revision order.
// It never generates new events.
func (u *User) LoadFromHistory(events []pkgdomain.Event) {
	for _, event := range events {
		if event.SequenceNo() <= u.lastAppliedRevision {
			continue
		}
		u.apply(event, false)
	}
}

// apply folds a single event into aggregate state. When generated is true
// the event is new and gets appended to the uncommitted list and assigned
// the next revision; when false (replay) the event already carries its
// revision.
func (u *User) apply(event pkgdomain.Event, generated bool) {
	if generated {
		event.SetSequenceNo(u.lastAppliedRevision + 1)
	}

	switch e := event.(type) {
	case *UserCreated:
		u.Username = e.Username
		u.Email = e.Email
		u.FirstName = e.FirstName
		u.LastName = e.LastName
		u.PasswordHash = e.PasswordHash
		u.HashingMethod = e.HashingMethod
		u.Role = e.Role
		u.CreatedAt = e.CreatedAt()
		u.UpdatedAt = e.CreatedAt()
	case *UserUpdated:
		if e.FirstName != nil {
			u.FirstName = *e.FirstName
		}
		if e.LastName != nil {
			u.LastName = *e.LastName
		}
		if e.Email != nil {
			u.Email = *e.Email
		}
		u.UpdatedAt = e.CreatedAt()
	case *PasswordChanged:
		u.PasswordHash = e.PasswordHash
		u.HashingMethod = e.HashingMethod
		u.UpdatedAt = e.CreatedAt()
	case *UserDeleted:
		deletedAt := e.CreatedAt()
		u.DeletedAt = &deletedAt
	}

	u.lastAppliedRevision = event.SequenceNo()
	if generated {
		u.uncommitted = append(u.uncommitted, event)
	}
}

// snapshotState is the JSON shape persisted and restored by ToSnapshot/
// FromSnapshot. Timestamps are strings so a malformed one can be coerced to
// the zero value instead of failing the whole decode.
type snapshotState struct {
	Username      string  `json:"username"`
	Email         string  `json:"email"`
	FirstName     string  `json:"first_name"`
	LastName      string  `json:"last_name"`
	PasswordHash  string  `json:"password_hash"`
	HashingMethod string  `json:"hashing_method"`
	Role          string  `json:"role"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
	DeletedAt     *string `json:"deleted_at,omitempty"`
}

// ToSnapshot serializes all scalar fields and timestamps.
func (u *User) ToSnapshot() (json.RawMessage, error) {
	state := snapshotState{
		Username:      u.Username,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		PasswordHash:  u.PasswordHash,
		HashingMethod: u.HashingMethod,
		Role:          u.Role,
		CreatedAt:     u.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:     u.UpdatedAt.Format(time.RFC3339Nano),
	}
	if u.DeletedAt != nil {
		s := u.DeletedAt.Format(time.RFC3339Nano)
		state.DeletedAt = &s
	}
	return json.Marshal(state)
}

// FromSnapshot restores state at the given revision. Malformed timestamps
// are coerced to the zero time rather than raising, per spec.
func (u *User) FromSnapshot(raw json.RawMessage, revision int64) error {
	var state snapshotState
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("usercore: decode snapshot: %w", err)
	}

	u.Username = state.Username
	u.Email = state.Email
	u.FirstName = state.FirstName
	u.LastName = state.LastName
	u.PasswordHash = state.PasswordHash
	u.HashingMethod = state.HashingMethod
	u.Role = state.Role
	u.CreatedAt = parseTimeOrZero(state.CreatedAt)
	u.UpdatedAt = parseTimeOrZero(state.UpdatedAt)
	if state.DeletedAt != nil {
		t := parseTimeOrZero(*state.DeletedAt)
		u.DeletedAt = &t
	}
	u.lastAppliedRevision = revision
	return nil
}

func parseTimeOrZero(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
