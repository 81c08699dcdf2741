/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package seek

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyRequester = errors.New("seek: requester is required")
	ErrNoInvitees     = errors.New("seek: whitelist has no one to invite")
	ErrShutdown       = errors.New("seek: coordinator is shut down")
)

// Role is the registry partition an identity is reserved under.
type Role int

const (
	RoleSeeking Role = iota
	RoleSought
)

func (r Role) String() string {
	switch r {
	case RoleSeeking:
		return "seeking"
	case RoleSought:
		return "sought"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ConflictError reports an identity already involved in another seek.
type ConflictError struct {
	Identity  Identity
	Role      Role
	OriginRef string // origin of the conflicting seek
	RequestID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("seek: %s is already %s (request %s)", e.Identity, e.Role, e.RequestID)
}

// DownstreamError wraps a failure from the feed, notifier or provisioner.
// The registry has always been released by the time one is returned.
type DownstreamError struct {
	Op  string
	Err error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("seek: %s: %v", e.Op, e.Err)
}

func (e *DownstreamError) Unwrap() error {
	return e.Err
}

// Reason is how a seek resolved.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonSuccess
	ReasonAllDeclined
	ReasonCancelledByRequester
	ReasonCancelledBySystem
	ReasonTimedOut
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonSuccess:
		return "success"
	case ReasonAllDeclined:
		return "all_declined"
	case ReasonCancelledByRequester:
		return "cancelled_by_requester"
	case ReasonCancelledBySystem:
		return "cancelled_by_system"
	case ReasonTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// describe returns the user-facing text for a failed seek.
func (r Reason) describe(timeout time.Duration) string {
	switch r {
	case ReasonTimedOut:
		if timeout == time.Minute {
			return "A minute passed before everyone had joined or declined."
		}
		return fmt.Sprintf("%s passed before everyone had joined or declined.", timeout)
	case ReasonAllDeclined:
		return "Everyone you invited declined."
	case ReasonCancelledByRequester:
		return "You have quit seeking a game."
	case ReasonCancelledBySystem:
		return "The lobby is shutting down; your seek was cancelled."
	default:
		return "Your seek was cancelled."
	}
}

// OutcomeKind distinguishes the terminal outcomes of StartSeek.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeConflict
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeConflict:
		return "conflict"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the single terminal result of a seek.
type Outcome struct {
	Kind      OutcomeKind
	RequestID string

	// Success
	Players []Identity
	Session Session

	// Conflict
	Conflict *ConflictError

	// Cancelled (and ReasonSuccess for Kind == OutcomeSuccess)
	Reason Reason
}
