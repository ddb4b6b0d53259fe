package agents

import (
	"errors"
	"time"
)

// Agent is an account that can operate a checkpoint.
type Agent struct {
	ID        int64
	Name      string
	Email     string
	Role      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateInput carries the create-agent form fields.
type CreateInput struct {
	Name     string `validate:"required,max=255"`
	Email    string `validate:"required,email,max=255"`
	Password string `validate:"required,min=8,max=72"`
	Role     string `validate:"required"`
}

var (
	// ErrEmailTaken signals a unique violation on the email column.
	ErrEmailTaken = errors.New("agents: email already in use")
	// ErrOwnRole blocks an admin from changing their own role.
	ErrOwnRole = errors.New("agents: cannot change own role")
	// ErrSelfDelete blocks an admin from deleting their own account.
	ErrSelfDelete = errors.New("agents: cannot delete own account")
	// ErrUnknownRole rejects roles outside the known set.
	ErrUnknownRole = errors.New("agents: unknown role")
)
