package apperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation            Kind = "VALIDATION_ERROR"
	KindNotFound              Kind = "NOT_FOUND"
	KindInsufficientInventory Kind = "INSUFFICIENT_INVENTORY"
	KindInvalidState          Kind = "INVALID_STATE"
	KindSignatureInvalid      Kind = "SIGNATURE_INVALID"
	KindGateway               Kind = "GATEWAY_ERROR"
	KindTimedOut              Kind = "TIMED_OUT"
	KindInternal              Kind = "INTERNAL"
)

// CodeAlreadyCheckedIn refines KindInvalidState for a second check-in.
const CodeAlreadyCheckedIn = "ALREADY_CHECKED_IN"

// Error carries a public message for API callers and the wrapped cause for logs.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so callers can write errors.Is(err, apperror.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrInsufficientInventory = &Error{Kind: KindInsufficientInventory}
	ErrInvalidState          = &Error{Kind: KindInvalidState}
	ErrAlreadyCheckedIn      = &Error{Kind: KindInvalidState, Code: CodeAlreadyCheckedIn}
	ErrSignatureInvalid      = &Error{Kind: KindSignatureInvalid}
	ErrGateway               = &Error{Kind: KindGateway}
	ErrTimedOut              = &Error{Kind: KindTimedOut}
)

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func AlreadyCheckedIn(ticketID string, status string) *Error {
	return &Error{
		Kind:    KindInvalidState,
		Code:    CodeAlreadyCheckedIn,
		Message: fmt.Sprintf("ticket %s is already %s", ticketID, status),
		Details: map[string]any{"ticket_id": ticketID, "status": status},
	}
}

func SignatureInvalid(provider string) *Error {
	return &Error{
		Kind:    KindSignatureInvalid,
		Message: "callback signature verification failed",
		Details: map[string]any{"provider": provider},
	}
}

func Gateway(provider string, err error) *Error {
	return &Error{
		Kind:    KindGateway,
		Message: fmt.Sprintf("payment provider %s failed", provider),
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

// InsufficientInventory reports the first ticket type that could not cover its line.
func InsufficientInventory(ticketTypeID string, available, requested int) *Error {
	return &Error{
		Kind:    KindInsufficientInventory,
		Message: fmt.Sprintf("ticket type %s has %d available, %d requested", ticketTypeID, available, requested),
		Details: map[string]any{
			"ticket_type_id": ticketTypeID,
			"available":      available,
			"requested":      requested,
			"shortfall":      requested - available,
		},
	}
}

// Wrap converts infrastructure failures into Internal, or TimedOut when the
// enclosing transaction ran past its deadline. Errors that already carry a
// Kind pass through untouched.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimedOut, Message: message + ": transaction exceeded its time limit", Err: err}
	}
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns KindInternal for errors that were never classified.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimedOut
	}
	return KindInternal
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindSignatureInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientInventory, KindInvalidState:
		return http.StatusConflict
	case KindGateway:
		return http.StatusBadGateway
	case KindTimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
