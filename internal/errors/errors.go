// Package errors defines the error taxonomy shared by the session core,
// the webhook dispatcher and the admin API.
//
// Every caller-facing failure carries a stable Kind plus the resource and
// id it concerns. Callers test for a kind with errors.Is against the
// package sentinels:
//
//	if errors.Is(err, errors.ErrNotFound) { ... }
//
// or recover the structured value with errors.As:
//
//	var e *errors.Error
//	if errors.As(err, &e) { log(e.Kind, e.ID) }
package errors

import (
	stderrors "errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Re-export standard library functions so callers only import this package.
var (
	Is     = stderrors.Is
	As     = stderrors.As
	Unwrap = stderrors.Unwrap
	New    = stderrors.New
	Join   = stderrors.Join
)

// Kind is the stable classification of a failure.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindAlreadyExists    Kind = "already_exists"
	KindInvalidArgument  Kind = "invalid_argument"
	KindNotConnected     Kind = "not_connected"
	KindAlreadyConnected Kind = "already_connected"
	KindTransportFailure Kind = "transport_failure"
	KindDeliveryFailure  Kind = "delivery_failure"
	KindInternal         Kind = "internal"
)

// Sentinels, one per kind.
var (
	ErrNotFound         = New("not found")
	ErrAlreadyExists    = New("already exists")
	ErrInvalidArgument  = New("invalid argument")
	ErrNotConnected     = New("not connected")
	ErrAlreadyConnected = New("already connected")
	ErrTransportFailure = New("transport failure")
	ErrDeliveryFailure  = New("delivery failure")
)

var sentinels = map[Kind]error{
	KindNotFound:         ErrNotFound,
	KindAlreadyExists:    ErrAlreadyExists,
	KindInvalidArgument:  ErrInvalidArgument,
	KindNotConnected:     ErrNotConnected,
	KindAlreadyConnected: ErrAlreadyConnected,
	KindTransportFailure: ErrTransportFailure,
	KindDeliveryFailure:  ErrDeliveryFailure,
}

// Error is a classified failure about one resource.
type Error struct {
	Kind     Kind
	Resource string // "instance", "webhook", ...
	ID       string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Resource != "" {
		if e.ID != "" {
			msg = fmt.Sprintf("%s %s: %s", e.Resource, e.ID, msg)
		} else {
			msg = fmt.Sprintf("%s: %s", e.Resource, msg)
		}
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of the first classified error in err's chain,
// or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	for k, s := range sentinels {
		if Is(err, s) {
			return k
		}
	}
	return KindInternal
}

func NewNotFound(resource, id string) error {
	return &Error{Kind: KindNotFound, Resource: resource, ID: id, Message: "not found"}
}

func NewAlreadyExists(resource, id string) error {
	return &Error{Kind: KindAlreadyExists, Resource: resource, ID: id, Message: "already exists"}
}

func NewInvalidArgument(resource, id, format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Resource: resource, ID: id, Message: fmt.Sprintf(format, args...)}
}

func NewNotConnected(resource, id string) error {
	return &Error{Kind: KindNotConnected, Resource: resource, ID: id, Message: "not connected"}
}

func NewAlreadyConnected(resource, id string) error {
	return &Error{Kind: KindAlreadyConnected, Resource: resource, ID: id, Message: "already connected"}
}

// NewTransportFailure wraps a rejection from the underlying transport with
// the operation that failed.
func NewTransportFailure(resource, id, op string, err error) error {
	return &Error{
		Kind:     KindTransportFailure,
		Resource: resource,
		ID:       id,
		Message:  op + " failed",
		Err:      pkgerrors.WithStack(err),
	}
}

func NewDeliveryFailure(resource, id, msg string, err error) error {
	return &Error{Kind: KindDeliveryFailure, Resource: resource, ID: id, Message: msg, Err: pkgerrors.WithStack(err)}
}

// Wrap annotates err with a message, keeping its classification.
func Wrap(err error, msg string) error {
	return pkgerrors.WithMessage(err, msg)
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...any) error {
	return pkgerrors.WithMessagef(err, format, args...)
}
