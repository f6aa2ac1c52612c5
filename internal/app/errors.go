/**
 * @description
 * Error taxonomy of the charge service. Handlers match these with errors.Is and
 * errors.As to pick a status code.
 */

package app

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount          = errors.New("amount is missing or out of bounds")
	ErrInvalidRequest         = errors.New("invalid charge request")
	ErrPayeeNotFound          = errors.New("payee not found")
	ErrPayeeKeyNotFound       = errors.New("payee has no pix key on file")
	ErrPayeeKeyNotVerified    = errors.New("payee pix key is not verified")
	ErrInvalidPayeeKey        = errors.New("payee pix key is invalid")
	ErrRateLimitExceeded      = errors.New("rate limit exceeded")
	ErrChargeAlreadyProcessed = errors.New("charge already processed")
	ErrChargeNotFound         = errors.New("charge not found")
	ErrQRGeneration           = errors.New("qr code generation failed")
)

// RateLimitError describes an admission rejection. It matches ErrRateLimitExceeded.
type RateLimitError struct {
	Reason     string
	Limit      int
	Remaining  int
	RetryAfter int // seconds, 0 when unknown
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded (%s): retry after %ds", e.Reason, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded (%s)", e.Reason)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// QRGenerationError wraps a barcode renderer failure.
type QRGenerationError struct {
	Err error
}

func (e *QRGenerationError) Error() string {
	return fmt.Sprintf("qr code generation failed: %v", e.Err)
}

func (e *QRGenerationError) Unwrap() error {
	return e.Err
}

func (e *QRGenerationError) Is(target error) bool {
	return target == ErrQRGeneration
}
