// Package domain defines the entities, state machines, typed errors, and port
// interfaces of the QuickBooks synchronization server.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// InvalidStateError indicates an operation was invoked while the ticket or
// request was not in an accepting state.
type InvalidStateError struct {
	Message string
}

func (e *InvalidStateError) Error() string { return e.Message }

// MalformedResponseError indicates the expected status element was absent
// from an inbound qbXML document.
type MalformedResponseError struct {
	Message string
}

func (e *MalformedResponseError) Error() string { return e.Message }

// SyncError is a business-rule failure during response interpretation.
// OrderID carries the order's public identifier so notifications can
// attribute the failure without scraping message text.
type SyncError struct {
	OrderID string
	Message string
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("[Order #%s] %s", e.OrderID, e.Message)
}

// MissingItemNameError indicates an order line has no resolved QuickBooks
// item name, so no document can be generated for the order.
type MissingItemNameError struct {
	OrderID string
}

func (e *MissingItemNameError) Error() string {
	return fmt.Sprintf("[Order #%s] missing QuickBooks item name on order line", e.OrderID)
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidState creates an InvalidStateError with a formatted message.
func ErrInvalidState(format string, args ...interface{}) *InvalidStateError {
	return &InvalidStateError{Message: fmt.Sprintf(format, args...)}
}

// ErrMalformedResponse creates a MalformedResponseError with a formatted message.
func ErrMalformedResponse(format string, args ...interface{}) *MalformedResponseError {
	return &MalformedResponseError{Message: fmt.Sprintf(format, args...)}
}
