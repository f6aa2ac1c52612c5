/**
 * @description
 * This file defines the core domain models of the charge service: the `Charge`
 * entity with its lifecycle state machine, the payee settlement configuration the
 * issuer reads, and the request/result DTOs exchanged with callers.
 *
 * @notes
 * - Amounts are `int64` minor units (centavos) to avoid floating-point errors.
 * - Timestamps are managed explicitly by the orchestration code; nothing here
 *   reads the clock.
 */

package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ChargeStatus is the lifecycle state of a charge.
type ChargeStatus string

const (
	ChargeStatusPending         ChargeStatus = "PENDING"
	ChargeStatusPaid            ChargeStatus = "PAID"
	ChargeStatusConfirmedManual ChargeStatus = "CONFIRMED_MANUAL"
	ChargeStatusExpired         ChargeStatus = "EXPIRED"
	ChargeStatusCancelled       ChargeStatus = "CANCELLED"
)

// ErrInvalidTransition is returned when a transition is attempted out of a
// terminal state.
var ErrInvalidTransition = errors.New("invalid charge status transition")

// IsFinal reports whether no further transition is allowed from s.
func (s ChargeStatus) IsFinal() bool {
	switch s {
	case ChargeStatusPaid, ChargeStatusConfirmedManual, ChargeStatusExpired, ChargeStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is a defined transition.
// Every transition starts at PENDING and ends in a terminal state.
func (s ChargeStatus) CanTransitionTo(next ChargeStatus) bool {
	return s == ChargeStatusPending && next.IsFinal()
}

// Valid reports whether s is a known status.
func (s ChargeStatus) Valid() bool {
	return s == ChargeStatusPending || s.IsFinal()
}

// Charge is a single payment request issued for a payee.
// The pair (PayeeID, IdempotencyKey) and TransactionID are both unique.
type Charge struct {
	ID             uuid.UUID    `json:"id"`
	TransactionID  string       `json:"transaction_id"`
	PayeeID        uuid.UUID    `json:"payee_id"`
	ClientID       *uuid.UUID   `json:"client_id,omitempty"`
	IdempotencyKey string       `json:"idempotency_key"`
	Amount         int64        `json:"amount"` // in centavos
	Description    string       `json:"description,omitempty"`
	PixKey         string       `json:"pix_key"`
	Payload        string       `json:"payload"`
	QRCodeImage    []byte       `json:"qr_code_image"`
	Status         ChargeStatus `json:"status"`
	ClientIP       string       `json:"client_ip,omitempty"`
	ExpiresAt      time.Time    `json:"expires_at"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	PaidAt         *time.Time   `json:"paid_at,omitempty"`
	ConfirmedAt    *time.Time   `json:"confirmed_at,omitempty"`
	ConfirmedBy    *string      `json:"confirmed_by,omitempty"`
	EvidenceRef    *string      `json:"evidence_ref,omitempty"`
	ConfirmNotes   *string      `json:"confirm_notes,omitempty"`
	CancelledAt    *time.Time   `json:"cancelled_at,omitempty"`
	CancelledBy    *string      `json:"cancelled_by,omitempty"`
	CancelReason   *string      `json:"cancel_reason,omitempty"`
}

// IsOverdue reports whether a pending charge has passed its validity deadline.
func (c *Charge) IsOverdue(now time.Time) bool {
	return c.Status == ChargeStatusPending && !now.Before(c.ExpiresAt)
}

func (c *Charge) transition(next ChargeStatus, at time.Time) error {
	if !c.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	c.Status = next
	c.UpdatedAt = at
	return nil
}

// MarkPaid records a reconciliation match.
func (c *Charge) MarkPaid(at time.Time) error {
	if err := c.transition(ChargeStatusPaid, at); err != nil {
		return err
	}
	c.PaidAt = &at
	return nil
}

// ConfirmManually records an operator confirmation with its evidence.
func (c *Charge) ConfirmManually(actor, evidenceRef, notes string, at time.Time) error {
	if err := c.transition(ChargeStatusConfirmedManual, at); err != nil {
		return err
	}
	c.ConfirmedAt = &at
	c.ConfirmedBy = optionalString(actor)
	c.EvidenceRef = optionalString(evidenceRef)
	c.ConfirmNotes = optionalString(notes)
	return nil
}

// Expire moves a pending charge past its deadline to EXPIRED.
func (c *Charge) Expire(at time.Time) error {
	return c.transition(ChargeStatusExpired, at)
}

// Cancel records an explicit cancellation.
func (c *Charge) Cancel(actor, reason string, at time.Time) error {
	if err := c.transition(ChargeStatusCancelled, at); err != nil {
		return err
	}
	c.CancelledAt = &at
	c.CancelledBy = optionalString(actor)
	c.CancelReason = optionalString(reason)
	return nil
}

// IssuanceResult returns the caller-visible view of an issued charge.
func (c *Charge) IssuanceResult() *IssuanceResult {
	return &IssuanceResult{
		ChargeID:      c.ID,
		TransactionID: c.TransactionID,
		Payload:       c.Payload,
		QRCodeImage:   c.QRCodeImage,
		ExpiresAt:     c.ExpiresAt.UnixMilli(),
		Amount:        c.Amount,
		Status:        c.Status,
	}
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// PayeeSettlementConfig is the subset of the payee record the issuer needs.
type PayeeSettlementConfig struct {
	PayeeID        uuid.UUID `json:"payee_id"`
	DisplayName    string    `json:"display_name"`
	PixKey         string    `json:"pix_key"`
	PixKeyType     string    `json:"pix_key_type"`
	PixKeyVerified bool      `json:"pix_key_verified"`
}

// CreateChargeRequest is the DTO for a charge issuance request.
type CreateChargeRequest struct {
	Amount           *int64 `json:"amount"` // in centavos
	IdempotencyKey   string `json:"idempotency_key"`
	Description      string `json:"description"`
	ExpiresInMinutes int    `json:"expires_in_minutes"`
}

// IssuanceResult is returned to the caller of a successful issuance.
type IssuanceResult struct {
	ChargeID      uuid.UUID    `json:"charge_id"`
	TransactionID string       `json:"transaction_id"`
	Payload       string       `json:"payload"`
	QRCodeImage   []byte       `json:"qr_code_image"`
	ExpiresAt     int64        `json:"expires_at"` // epoch milliseconds
	Amount        int64        `json:"amount"`
	Status        ChargeStatus `json:"status"`
}

// ConfirmChargeRequest is the DTO for manual confirmation.
type ConfirmChargeRequest struct {
	EvidenceRef string `json:"evidence_ref"`
	Notes       string `json:"notes"`
}

// CancelChargeRequest is the DTO for explicit cancellation.
type CancelChargeRequest struct {
	Reason string `json:"reason"`
}
