package entity

import (
	"errors"
	"fmt"
)

var (
	// Booking errors
	ErrBookingNotFound            = errors.New("booking not found")
	ErrInvalidBookingStatus       = errors.New("invalid booking status")
	ErrDriverAssignmentNotAllowed = errors.New("driver assignment not allowed in current status")

	// Invoice errors
	ErrInvoiceNotFound        = errors.New("invoice not found")
	ErrDuplicateInvoiceNumber = errors.New("invoice number already exists")
	ErrInvoiceAlreadyExists   = errors.New("invoice already exists for booking")

	// User errors
	ErrUserNotFound = errors.New("user not found")

	// General errors
	ErrInvalidInput = errors.New("invalid input")
)

// InvoiceCreationError is returned by booking creation when the paired invoice
// could not be created. The booking row has been removed by the time callers see it.
type InvoiceCreationError struct {
	BookingID string
	Err       error
}

func (e *InvoiceCreationError) Error() string {
	return fmt.Sprintf("create invoice for booking %s: %v", e.BookingID, e.Err)
}

func (e *InvoiceCreationError) Unwrap() error { return e.Err }
