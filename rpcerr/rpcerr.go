// Package rpcerr defines the error taxonomy shared by the control-channel
// transports, the message codec, and both RPC endpoints. Errors are kinds,
// not exception types: every failure is represented as a sentinel wrapped
// with context, never propagated by panic.
package rpcerr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// KindTransportFailure covers read/write returning 0 or an error, a
	// poll error, or the peer otherwise disappearing.
	KindTransportFailure Kind = iota
	// KindPeerCrash covers the child process exiting unexpectedly.
	KindPeerCrash
	// KindResourceUnavailable covers SHM/SEM create or attach failing.
	KindResourceUnavailable
	// KindProtocolMismatch covers wait_for observing the Undefined sentinel.
	KindProtocolMismatch
	// KindOverSizeMessage covers a write exceeding the FIFO capacity.
	KindOverSizeMessage
	// KindRecoverableSetup covers a missing executable or bad argv.
	KindRecoverableSetup
)

func (k Kind) String() string {
	switch k {
	case KindTransportFailure:
		return "transport_failure"
	case KindPeerCrash:
		return "peer_crash"
	case KindResourceUnavailable:
		return "resource_unavailable"
	case KindProtocolMismatch:
		return "protocol_mismatch"
	case KindOverSizeMessage:
		return "oversize_message"
	case KindRecoverableSetup:
		return "recoverable_setup"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per Kind, usable with errors.Is.
var (
	ErrTransportFailure     = errors.New("transport failure")
	ErrPeerCrash            = errors.New("peer process crashed")
	ErrResourceUnavailable  = errors.New("ipc resource unavailable")
	ErrProtocolMismatch     = errors.New("protocol mismatch")
	ErrOverSizeMessage      = errors.New("message exceeds fifo capacity")
	ErrRecoverableSetup     = errors.New("recoverable setup failure")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindTransportFailure:
		return ErrTransportFailure
	case KindPeerCrash:
		return ErrPeerCrash
	case KindResourceUnavailable:
		return ErrResourceUnavailable
	case KindProtocolMismatch:
		return ErrProtocolMismatch
	case KindOverSizeMessage:
		return ErrOverSizeMessage
	case KindRecoverableSetup:
		return ErrRecoverableSetup
	default:
		return errors.New("unclassified rpc error")
	}
}

// Error wraps a Kind with contextual detail and, optionally, the
// underlying cause. It implements errors.Is against its sentinel and
// errors.Unwrap against the cause.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

// New builds an Error of the given kind with a detail message.
func New(k Kind, detail string) error {
	return &Error{Kind: k, Detail: detail}
}

// Wrap builds an Error of the given kind wrapping cause.
func Wrap(k Kind, detail string, cause error) error {
	return &Error{Kind: k, Detail: detail, Cause: cause}
}

// KindOf extracts the Kind carried by err, if any, via errors.As.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
