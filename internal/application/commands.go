package application

import (
	"strings"

	"github.com/nireo/usercore/pkg/application"
)

// CreateUserCommand creates a brand new user aggregate.
type CreateUserCommand struct {
	AggregateID   string `json:"aggregate_id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	PasswordHash  string `json:"password_hash"`
	HashingMethod string `json:"hashing_method"`
	Role          string `json:"role"`
}

func (c CreateUserCommand) CommandType() string { return "CreateUser" }

func (c CreateUserCommand) Validate() error {
	if c.AggregateID == "" {
		return application.NewValidationError("aggregate_id", "aggregate_id cannot be empty")
	}
	if len(strings.TrimSpace(c.Username)) < 3 {
		return application.NewValidationError("username", "username must be at least 3 characters")
	}
	if !strings.Contains(c.Email, "@") {
		return application.NewValidationError("email", "email must contain '@'")
	}
	if c.PasswordHash == "" {
		return application.NewValidationError("password_hash", "password_hash cannot be empty")
	}
	return nil
}

// UpdateUserCommand patches first_name/last_name/email. A nil pointer
// leaves that field untouched.
type UpdateUserCommand struct {
	AggregateID string  `json:"aggregate_id"`
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	Email       *string `json:"email,omitempty"`
}

func (c UpdateUserCommand) CommandType() string { return "UpdateUser" }

func (c UpdateUserCommand) Validate() error {
	if c.AggregateID == "" {
		return application.NewValidationError("aggregate_id", "aggregate_id cannot be empty")
	}
	if c.FirstName == nil && c.LastName == nil && c.Email == nil {
		return application.NewValidationError("", "at least one field must be provided")
	}
	if c.Email != nil && !strings.Contains(*c.Email, "@") {
		return application.NewValidationError("email", "email must contain '@'")
	}
	return nil
}

// ChangePasswordCommand replaces a user's stored password hash.
type ChangePasswordCommand struct {
	AggregateID   string `json:"aggregate_id"`
	NewHash       string `json:"new_hash"`
	HashingMethod string `json:"hashing_method"`
}

func (c ChangePasswordCommand) CommandType() string { return "ChangePassword" }

func (c ChangePasswordCommand) Validate() error {
	if c.AggregateID == "" {
		return application.NewValidationError("aggregate_id", "aggregate_id cannot be empty")
	}
	if c.NewHash == "" {
		return application.NewValidationError("new_hash", "new_hash cannot be empty")
	}
	return nil
}

// DeleteUserCommand soft-deletes a user aggregate.
type DeleteUserCommand struct {
	AggregateID string `json:"aggregate_id"`
}

func (c DeleteUserCommand) CommandType() string { return "DeleteUser" }

func (c DeleteUserCommand) Validate() error {
	if c.AggregateID == "" {
		return application.NewValidationError("aggregate_id", "aggregate_id cannot be empty")
	}
	return nil
}
