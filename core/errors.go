/*
errors.go - Error taxonomy shared by every engine

ERROR CATEGORIES:
  1. Validation - malformed input (negative amount, bad range, missing reason)
  2. Insufficient balance - hour consumption or cash expense guard
  3. Invalid transition - action not allowed from the current state
  4. Not found - missing subscription, customer, freeze or channel

All four are recoverable. A rejected mutation leaves every record exactly as
it was because the surrounding store transaction is rolled back.

USAGE:
  if errors.Is(err, core.ErrInsufficientBalance) { ... }

  var ibe *core.InsufficientBalanceError
  if errors.As(err, &ibe) { log shortfall }
*/
package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidTransition   = errors.New("invalid state transition")

	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrFreezeNotFound       = errors.New("no current freeze period")
	ErrChannelNotFound      = errors.New("balance channel not found")

	// ErrDuplicateID is returned by stores when a record ID already exists.
	ErrDuplicateID = errors.New("duplicate record id")

	// ErrReadOnly is returned by writes attempted inside Store.View.
	ErrReadOnly = errors.New("write attempted in read-only view")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError describes malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientBalanceError provides details about a shortage of hours or cash.
type InsufficientBalanceError struct {
	CustomerID CustomerID // empty for the cashbox guard
	Available  decimal.Decimal
	Requested  decimal.Decimal
	Shortfall  decimal.Decimal
	Unit       Unit
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s, shortfall %s %s",
		e.Available, e.Requested, e.Shortfall, e.Unit)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// TransitionError is returned when an action is not allowed from the
// subscription's current state.
type TransitionError struct {
	SubscriptionID SubscriptionID
	From           SubscriptionState
	Action         string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s subscription %s in state %s", e.Action, e.SubscriptionID, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to caller input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrFreezeNotFound) ||
		errors.Is(err, ErrChannelNotFound)
}

// Invalid builds a ValidationError with a formatted message.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
