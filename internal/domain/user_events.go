package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	pkgdomain "github.com/nireo/usercore/pkg/domain"
)

const eventVersionV1 = "v1"

// baseEvent carries the fields every typed user event needs to satisfy
// pkgdomain.Event, so each concrete event only has to embed it and add its
// own payload fields.
type baseEvent struct {
	EventId     string              `json:"-"`
	Kind        pkgdomain.EventKind `json:"-"`
	AggregateId string              `json:"-"`
	Revision    int64               `json:"-"`
	OccurredAt  time.Time           `json:"-"`
}

func (b baseEvent) EventID() string                        { return b.EventId }
func (b baseEvent) EventType() pkgdomain.EventKind         { return b.Kind }
func (b baseEvent) EventVersion() string                   { return eventVersionV1 }
func (b baseEvent) AggregateID() string                    { return b.AggregateId }
func (b baseEvent) AggregateType() pkgdomain.AggregateType { return pkgdomain.UserAggregate }
func (b baseEvent) SequenceNo() int64                      { return b.Revision }
func (b baseEvent) CreatedAt() time.Time                   { return b.OccurredAt }
func (b *baseEvent) SetSequenceNo(seq int64)                { b.Revision = seq }

// UserCreated is raised by CreateUser.
type UserCreated struct {
	baseEvent
	Username      string `json:"username"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	PasswordHash  string `json:"password_hash"`
	HashingMethod string `json:"hashing_method"`
	Role          string `json:"role"`
}

func NewUserCreated(aggregateID, username, email, firstName, lastName, passwordHash, hashingMethod, role string) *UserCreated {
	return &UserCreated{
		baseEvent: baseEvent{
			EventId:     uuid.NewString(),
			Kind:        pkgdomain.UserCreated,
			AggregateId: aggregateID,
			OccurredAt:  time.Now().UTC(),
		},
		Username:      username,
		Email:         email,
		FirstName:     firstName,
		LastName:      lastName,
		PasswordHash:  passwordHash,
		HashingMethod: hashingMethod,
		Role:          role,
	}
}

func (e UserCreated) Payload() []byte {
	b, _ := json.Marshal(e)
	return b
}

// UserUpdated is raised by UpdateUser. Only fields present in the command
// are set; a nil pointer means "leave unchanged".
type UserUpdated struct {
	baseEvent
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
}

func NewUserUpdated(aggregateID string, firstName, lastName, email *string) *UserUpdated {
	return &UserUpdated{
		baseEvent: baseEvent{
			EventId:     uuid.NewString(),
			Kind:        pkgdomain.UserUpdated,
			AggregateId: aggregateID,
			OccurredAt:  time.Now().UTC(),
		},
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
	}
}

func (e UserUpdated) Payload() []byte {
	b, _ := json.Marshal(e)
	return b
}

// PasswordChanged is raised by ChangePassword.
type PasswordChanged struct {
	baseEvent
	PasswordHash  string `json:"password_hash"`
	HashingMethod string `json:"hashing_method"`
}

func NewPasswordChanged(aggregateID, passwordHash, hashingMethod string) *PasswordChanged {
	return &PasswordChanged{
		baseEvent: baseEvent{
			EventId:     uuid.NewString(),
			Kind:        pkgdomain.PasswordChanged,
			AggregateId: aggregateID,
			OccurredAt:  time.Now().UTC(),
		},
		PasswordHash:  passwordHash,
		HashingMethod: hashingMethod,
	}
}

func (e PasswordChanged) Payload() []byte {
	b, _ := json.Marshal(e)
	return b
}

// UserDeleted is raised by DeleteUser.
type UserDeleted struct {
	baseEvent
}

func NewUserDeleted(aggregateID string) *UserDeleted {
	return &UserDeleted{
		baseEvent: baseEvent{
			EventId:     uuid.NewString(),
			Kind:        pkgdomain.UserDeleted,
			AggregateId: aggregateID,
			OccurredAt:  time.Now().UTC(),
		},
	}
}

func (e UserDeleted) Payload() []byte {
	b, _ := json.Marshal(e)
	return b
}
