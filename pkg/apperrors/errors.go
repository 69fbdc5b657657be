// Package apperrors defines the error taxonomy shared by the ledger, the
// approval workflow and the HTTP layer. Every error carries a stable code and
// enough structured detail for a caller to render a precise message.
package apperrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Machine-readable error codes.
const (
	CodeInsufficientCapacity = "INSUFFICIENT_CAPACITY"
	CodeIncompleteData       = "INCOMPLETE_DATA"
	CodeInvalidTransfer      = "INVALID_TRANSFER"
	CodeConcurrency          = "CONCURRENCY_CONFLICT"
	CodeNotAuthorized        = "NOT_AUTHORIZED"
	CodeIllegalTransition    = "ILLEGAL_TRANSITION"
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidInput         = "INVALID_INPUT"
)

// Sentinels usable with errors.Is.
var (
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrIncompleteData       = errors.New("incomplete data")
	ErrInvalidTransfer      = errors.New("invalid transfer")
	ErrConcurrency          = errors.New("concurrency conflict")
	ErrNotAuthorized        = errors.New("not authorized")
	ErrIllegalTransition    = errors.New("illegal transition")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
)

// Coded is implemented by every error in this package.
type Coded interface {
	error
	Code() string
	Details() map[string]any
}

// InsufficientCapacityError reports an amount exceeding the capacity left
// on a budget line or a parent stage entity.
type InsufficientCapacityError struct {
	Scope     string          `json:"scope"`
	ParentID  string          `json:"parentId"`
	Requested decimal.Decimal `json:"requested"`
	Available decimal.Decimal `json:"available"`
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity on %s %s: requested %s, available %s",
		e.Scope, e.ParentID, e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientCapacityError) Is(target error) bool { return target == ErrInsufficientCapacity }
func (e *InsufficientCapacityError) Code() string         { return CodeInsufficientCapacity }

func (e *InsufficientCapacityError) Details() map[string]any {
	return map[string]any{
		"scope":     e.Scope,
		"parentId":  e.ParentID,
		"requested": e.Requested.StringFixed(2),
		"available": e.Available.StringFixed(2),
	}
}

// IncompleteDataError lists the fields or documents missing at submission.
type IncompleteDataError struct {
	MissingFields []string `json:"missingFields"`
}

func (e *IncompleteDataError) Error() string {
	return "incomplete data: missing " + strings.Join(e.MissingFields, ", ")
}

func (e *IncompleteDataError) Is(target error) bool { return target == ErrIncompleteData }
func (e *IncompleteDataError) Code() string         { return CodeIncompleteData }

func (e *IncompleteDataError) Details() map[string]any {
	return map[string]any{"missingFields": e.MissingFields}
}

// Missing builds an IncompleteDataError, or returns nil when fields is empty.
func Missing(fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return &IncompleteDataError{MissingFields: fields}
}

// InvalidTransferError reports a malformed credit transfer request.
type InvalidTransferError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *InvalidTransferError) Error() string {
	return fmt.Sprintf("invalid transfer: %s: %s", e.Field, e.Reason)
}

func (e *InvalidTransferError) Is(target error) bool { return target == ErrInvalidTransfer }
func (e *InvalidTransferError) Code() string         { return CodeInvalidTransfer }

func (e *InvalidTransferError) Details() map[string]any {
	return map[string]any{"field": e.Field, "reason": e.Reason}
}

// ConcurrencyError is returned once the transaction retry budget is spent.
type ConcurrencyError struct {
	Attempts int
	Err      error
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency conflict not resolved after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConcurrencyError) Unwrap() error        { return e.Err }
func (e *ConcurrencyError) Is(target error) bool { return target == ErrConcurrency }
func (e *ConcurrencyError) Code() string         { return CodeConcurrency }

func (e *ConcurrencyError) Details() map[string]any {
	return map[string]any{"attempts": e.Attempts, "retryable": true}
}

// AuthorizationError means the actor may not act at the current step.
type AuthorizationError struct {
	Actor string `json:"actor"`
	Role  string `json:"role"`
	Step  int    `json:"step"`
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %q is not allowed to act as %s at step %d", e.Actor, e.Role, e.Step)
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrNotAuthorized }
func (e *AuthorizationError) Code() string         { return CodeNotAuthorized }

func (e *AuthorizationError) Details() map[string]any {
	return map[string]any{"actor": e.Actor, "role": e.Role, "step": e.Step}
}

// IllegalTransitionError reports an attempt to mutate a terminal entity or
// to act on a step out of order.
type IllegalTransitionError struct {
	From    string `json:"from"`
	Event   string `json:"event"`
	Step    int    `json:"step,omitempty"`
	Message string `json:"message"`
}

func (e *IllegalTransitionError) Error() string {
	return e.Message
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }
func (e *IllegalTransitionError) Code() string         { return CodeIllegalTransition }

func (e *IllegalTransitionError) Details() map[string]any {
	return map[string]any{"from": e.From, "event": e.Event, "step": e.Step}
}

// Illegal is a shorthand for building an IllegalTransitionError.
func Illegal(from, event string, step int, format string, args ...any) error {
	return &IllegalTransitionError{From: from, Event: event, Step: step, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError is returned when an entity does not exist.
type NotFoundError struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
func (e *NotFoundError) Code() string         { return CodeNotFound }

func (e *NotFoundError) Details() map[string]any {
	return map[string]any{"kind": e.Kind, "id": e.ID}
}

// ValidationError carries per-field messages for a malformed command.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		parts = append(parts, k+": "+v)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }
func (e *ValidationError) Code() string         { return CodeInvalidInput }

func (e *ValidationError) Details() map[string]any {
	return map[string]any{"fields": e.Fields}
}

// CodeOf returns the code of the first Coded error in err's chain, or "".
func CodeOf(err error) string {
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// IsBusiness reports whether err is a business-rule error that must be
// returned to the caller as is rather than treated as an infrastructure failure.
func IsBusiness(err error) bool {
	switch {
	case errors.Is(err, ErrInsufficientCapacity),
		errors.Is(err, ErrIncompleteData),
		errors.Is(err, ErrInvalidTransfer),
		errors.Is(err, ErrNotAuthorized),
		errors.Is(err, ErrIllegalTransition),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidInput):
		return true
	}
	return false
}
