/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the charge service. By defining an interface,
 * we decouple the issuance and lifecycle logic from the concrete storage engine
 * (PostgreSQL in production, BoltDB for single-node deployments).
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/alvaromashni/nawat-api-sub000/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrChargeNotFound          = errors.New("charge not found")
	ErrPayeeNotFound           = errors.New("payee not found")
	ErrDuplicateIdempotencyKey = errors.New("charge already exists for idempotency key")
	ErrDuplicateTransactionID  = errors.New("transaction id already in use")
	ErrChargeStateConflict     = errors.New("charge is no longer in the expected status")
)

// ChargeRepository is the persistence contract for charges.
type ChargeRepository interface {
	FindChargeByIdempotencyKey(ctx context.Context, payeeID uuid.UUID, idempotencyKey string) (*domain.Charge, error)
	FindChargeByTransactionID(ctx context.Context, transactionID string) (*domain.Charge, error)
	ExistsChargeByTransactionID(ctx context.Context, transactionID string) (bool, error)
	// CreateCharge inserts a new charge. It returns ErrDuplicateIdempotencyKey or
	// ErrDuplicateTransactionID when a uniqueness constraint rejects the row.
	CreateCharge(ctx context.Context, charge *domain.Charge) error
	// UpdateChargeStatus persists the lifecycle fields of charge only if the stored
	// status still equals expected; otherwise it returns ErrChargeStateConflict.
	UpdateChargeStatus(ctx context.Context, charge *domain.Charge, expected domain.ChargeStatus) error
	FindExpiredPendingCharges(ctx context.Context, now time.Time, limit int) ([]domain.Charge, error)
	CountPendingChargesSince(ctx context.Context, payeeID uuid.UUID, since time.Time) (int, error)
}

// PayeeRepository reads the payee settlement configuration owned by another service.
type PayeeRepository interface {
	FindPayeeSettlementConfig(ctx context.Context, payeeID uuid.UUID) (*domain.PayeeSettlementConfig, error)
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	ChargeRepository
	PayeeRepository
}
