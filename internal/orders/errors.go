package orders

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSubmission    = errors.New("invalid submission")
	ErrSubmissionInProgress = errors.New("an order submission is already in progress")
	ErrSubmitFailed         = errors.New("order submission failed")

	ErrNotFound           = errors.New("order not found")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrTotalMismatch      = errors.New("order total does not match its items")
)

// SubmitError is returned when the order store refused or could not be reached.
// The cart it was built from is left untouched.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string {
	if e.Err == nil {
		return ErrSubmitFailed.Error()
	}
	return fmt.Sprintf("%s: %v", ErrSubmitFailed, e.Err)
}

// Message is the underlying reason, suitable for showing to the member.
func (e *SubmitError) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *SubmitError) Is(target error) bool { return target == ErrSubmitFailed }

func (e *SubmitError) Unwrap() error { return e.Err }
