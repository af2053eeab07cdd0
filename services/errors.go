package services

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("order is no longer pending")
	ErrUnauthorized      = errors.New("unauthorized")
)

// ValidationError is a user input problem. Message is shown to the user as is,
// so it must state the constraint that was violated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// CatalogError reports a malformed catalog entry. It is fatal at startup.
type CatalogError struct {
	Entry  string
	Reason string
}

func (e *CatalogError) Error() string {
	if e.Entry == "" {
		return "catalog: " + e.Reason
	}
	return fmt.Sprintf("catalog: %s: %s", e.Entry, e.Reason)
}

// FulfillmentError is a failed call to the agency API.
type FulfillmentError struct {
	OrderID int64
	Reason  string
	Err     error
}

func (e *FulfillmentError) Error() string {
	msg := "fulfillment"
	if e.OrderID != 0 {
		msg += fmt.Sprintf(" order_id=%d", e.OrderID)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FulfillmentError) Unwrap() error { return e.Err }

// UserMessage returns the text to show for err, or "" if err is not a user-facing kind.
func UserMessage(err error) string {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Message
	case errors.Is(err, ErrNotFound):
		return "That item is no longer available."
	case errors.Is(err, ErrInvalidTransition):
		return "This order has already been decided."
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized."
	}
	return ""
}
