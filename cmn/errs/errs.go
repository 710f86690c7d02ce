// Package errs implements the error kinds from spec §7: StaleUpdate,
// UnknownObject, ParseIncomplete, ParseFailed, TransportDown. These are
// all ordinary (non-programmer) errors that a caller is expected to
// handle; InvariantViolation is handled separately via cmn/debug.Assert
// since §7 specifies it aborts the process.
package errs

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/openmetaverse/spaceloc/cmn/cos"
)

// ErrStaleUpdate is returned (for diagnostics only — §7 says it must be
// dropped silently from the caller's point of view) when a write's seqno
// does not exceed the attribute's stored seqno.
type ErrStaleUpdate struct {
	Object   cos.ObjectID
	Attr     cos.AttrMask
	Stored   uint64
	Proposed uint64
}

func (e *ErrStaleUpdate) Error() string {
	return fmt.Sprintf("stale update for %s/%s: proposed seqno %d <= stored %d",
		e.Object, e.Attr, e.Proposed, e.Stored)
}

func NewStaleUpdate(obj cos.ObjectID, attr cos.AttrMask, stored, proposed uint64) error {
	return &ErrStaleUpdate{Object: obj, Attr: attr, Stored: stored, Proposed: proposed}
}

func IsStaleUpdate(err error) bool {
	_, ok := errors.Cause(err).(*ErrStaleUpdate)
	return ok
}

// ErrUnknownObject is returned when an update or subscription names an
// id with no backing record (spec §7); such updates are dropped, such
// subscriptions become orphans.
type ErrUnknownObject struct {
	Object cos.ObjectID
}

func (e *ErrUnknownObject) Error() string { return fmt.Sprintf("unknown object %s", e.Object) }

func NewUnknownObject(obj cos.ObjectID) error {
	return &ErrUnknownObject{Object: obj}
}

func IsUnknownObject(err error) bool {
	_, ok := errors.Cause(err).(*ErrUnknownObject)
	return ok
}

// ErrParseIncomplete indicates the ingress byte buffer does not yet hold
// a full wire record; the caller must retain the buffer and wait for
// more bytes (spec §7, §6).
var ErrParseIncomplete = errors.New("incomplete record: need more bytes")

// ErrParseFailed indicates the buffer is syntactically invalid; the
// substream is closed but the object session survives (spec §7).
type ErrParseFailed struct {
	cause error
}

func (e *ErrParseFailed) Error() string { return fmt.Sprintf("parse failed: %v", e.cause) }
func (e *ErrParseFailed) Unwrap() error { return e.cause }

func NewParseFailed(cause error) error {
	return &ErrParseFailed{cause: errors.WithStack(cause)}
}

func IsParseFailed(err error) bool {
	_, ok := errors.Cause(err).(*ErrParseFailed)
	return ok
}

// ErrTransportDown is returned when an outbound enqueue fails; the
// policy restores the pending delta mask so the next flush retries
// (spec §7, §4.E).
type ErrTransportDown struct {
	cause error
}

func (e *ErrTransportDown) Error() string { return fmt.Sprintf("transport down: %v", e.cause) }
func (e *ErrTransportDown) Unwrap() error { return e.cause }

func NewTransportDown(cause error) error {
	return &ErrTransportDown{cause: errors.WithStack(cause)}
}

func IsTransportDown(err error) bool {
	_, ok := errors.Cause(err).(*ErrTransportDown)
	return ok
}
