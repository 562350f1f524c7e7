package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a domain failure independently of the message text.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindPermissionDenied   Kind = "permission_denied"
	KindAlreadyExists      Kind = "already_exists"
	KindAlreadyMember      Kind = "already_member"
	KindInvalidState       Kind = "invalid_state"
	KindInvariantViolation Kind = "invariant_violation"
	KindUpstream           Kind = "upstream"
	KindInternal           Kind = "internal"
)

// HTTPStatus returns the status code the transport layer should use for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindAlreadyExists, KindAlreadyMember, KindInvalidState:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a tagged domain failure. GroupID and Field carry the context a
// caller needs to build a user-facing message.
type Error struct {
	Kind    Kind   `json:"code"`
	Message string `json:"message"`
	GroupID string `json:"group_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.GroupID != "" {
		fmt.Fprintf(&b, " (group %s)", e.GroupID)
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works for every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// WithGroup returns a copy of the error annotated with a group id.
func (e *Error) WithGroup(groupID string) *Error {
	c := *e
	c.GroupID = groupID
	return &c
}

// WithDetails returns a copy of the error carrying extra details.
func (e *Error) WithDetails(details any) *Error {
	c := *e
	c.Details = details
	return &c
}

// Sentinels for errors.Is checks.
var (
	ErrValidation         = &Error{Kind: KindValidation, Message: "validation error"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "not found"}
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied, Message: "permission denied"}
	ErrAlreadyExists      = &Error{Kind: KindAlreadyExists, Message: "already exists"}
	ErrAlreadyMember      = &Error{Kind: KindAlreadyMember, Message: "already a member"}
	ErrInvalidState       = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrInvariantViolation = &Error{Kind: KindInvariantViolation, Message: "invariant violation"}
	ErrUpstream           = &Error{Kind: KindUpstream, Message: "upstream failure"}
	ErrInternal           = &Error{Kind: KindInternal, Message: "internal server error"}
)

func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func PermissionDenied(msg string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: msg}
}

func AlreadyExists(field, msg string) *Error {
	return &Error{Kind: KindAlreadyExists, Field: field, Message: msg}
}

func AlreadyMember(groupID string) *Error {
	return &Error{Kind: KindAlreadyMember, Message: "user is already a member", GroupID: groupID}
}

func InvalidState(msg string) *Error {
	return &Error{Kind: KindInvalidState, Message: msg}
}

// InvariantViolation reports an internal inconsistency. It is never caused by
// user input and is always logged at error level by the caller.
func InvariantViolation(msg string, cause error) *Error {
	return &Error{Kind: KindInvariantViolation, Message: msg, cause: cause}
}

// Upstream wraps a failure of an external collaborator (step totals, profiles).
func Upstream(msg string, cause error) *Error {
	return &Error{Kind: KindUpstream, Message: msg, cause: cause}
}

// KindOf returns the kind of a domain error, or KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
