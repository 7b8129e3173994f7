package consolidation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Inbound errors
	ErrAuthentication = errors.New("consolidation: webhook authentication failed")
	ErrMalformedInput = errors.New("consolidation: malformed webhook payload")

	// Platform errors
	ErrUpstream         = errors.New("consolidation: upstream platform request failed")
	ErrRateLimited      = errors.New("consolidation: upstream platform rate limited")
	ErrInvalidResponse  = errors.New("consolidation: invalid upstream response")
	ErrOrderNotFound    = errors.New("consolidation: order not found")
	ErrCredentialsFetch = errors.New("consolidation: access credential request failed")
	ErrUnitRejected     = errors.New("consolidation: fulfillment unit operation rejected")

	// State errors
	ErrIllegalTransition = errors.New("consolidation: illegal tag state transition")
)

// TransitionError describes a tag transition that would break a tag invariant.
// It matches ErrIllegalTransition with errors.Is.
type TransitionError struct {
	Op     string
	From   OrderState
	Result TagSet
	Reason string
}

// Error implements the error interface
func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s from %s would produce [%s]: %s",
		ErrIllegalTransition.Error(), e.Op, e.From, e.Result.String(), e.Reason)
}

// Is makes TransitionError match ErrIllegalTransition
func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// UpstreamError carries the platform status and message behind an ErrUpstream
type UpstreamError struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface
func (e *UpstreamError) Error() string {
	var b strings.Builder
	b.WriteString(ErrUpstream.Error())
	b.WriteString(": ")
	b.WriteString(e.Operation)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Is makes UpstreamError match ErrUpstream
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// Unwrap returns the underlying cause, if any
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// RejectionError reports user errors the platform returned for a write on a
// single fulfillment unit. The request itself succeeded, so callers treat it
// as a per-unit warning. It matches ErrUnitRejected, not ErrUpstream.
type RejectionError struct {
	Operation string
	UnitID    string
	Messages  []string
}

// Error implements the error interface
func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s on unit %s: %s",
		ErrUnitRejected.Error(), e.Operation, e.UnitID, strings.Join(e.Messages, "; "))
}

// Is makes RejectionError match ErrUnitRejected
func (e *RejectionError) Is(target error) bool {
	return target == ErrUnitRejected
}
