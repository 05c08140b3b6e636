// Package moderation holds the proposal lifecycle: which status changes are
// legal and who may make them.
package moderation

import (
	"errors"
	"fmt"

	"framedata/api/internal/auth"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

var (
	ErrInvalidStatus = errors.New("invalid proposal status")
	ErrNotPermitted  = errors.New("not permitted")
)

func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return Status(value), nil
	}
	return "", fmt.Errorf("%w '%s'", ErrInvalidStatus, value)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

func CanTransition(from, to Status) bool {
	return from == StatusPending && to.Terminal()
}

// Authorize checks that actor may move a proposal written by authorID into
// status to. Approving and rejecting need a privileged actor; cancelling is
// reserved for the proposal's author.
func Authorize(actor auth.Identity, authorID string, to Status) error {
	switch to {
	case StatusApproved, StatusRejected:
		if !actor.Privileged {
			return ErrNotPermitted
		}
	case StatusCancelled:
		if actor.UserID == "" || actor.UserID != authorID {
			return ErrNotPermitted
		}
	default:
		return fmt.Errorf("%w '%s'", ErrInvalidStatus, to)
	}
	return nil
}
