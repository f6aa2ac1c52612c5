/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Charge uniqueness on (payee_id, idempotency_key) and on transaction_id is enforced
 * by table constraints; unique violations are translated into store sentinels so the
 * issuer can resolve idempotency races.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/alvaromashni/nawat-api-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	uniqueViolationCode           = "23505"
	idempotencyKeyConstraint      = "pix_charges_payee_idempotency_key"
	transactionIDUniqueConstraint = "pix_charges_transaction_id_key"
	chargeColumns                 = `id, transaction_id, payee_id, client_id, idempotency_key, amount, description, pix_key, payload, qr_code_image, status, client_ip, expires_at, created_at, updated_at, paid_at, confirmed_at, confirmed_by, evidence_ref, confirm_notes, cancelled_at, cancelled_by, cancel_reason`
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the charge table and its indexes when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply charge schema: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharge(row rowScanner) (*domain.Charge, error) {
	var c domain.Charge
	var status string
	err := row.Scan(
		&c.ID, &c.TransactionID, &c.PayeeID, &c.ClientID, &c.IdempotencyKey, &c.Amount,
		&c.Description, &c.PixKey, &c.Payload, &c.QRCodeImage, &status, &c.ClientIP,
		&c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt, &c.PaidAt, &c.ConfirmedAt, &c.ConfirmedBy,
		&c.EvidenceRef, &c.ConfirmNotes, &c.CancelledAt, &c.CancelledBy, &c.CancelReason,
	)
	if err != nil {
		return nil, err
	}
	c.Status = domain.ChargeStatus(status)
	return &c, nil
}

func (r *PostgresRepository) findOne(ctx context.Context, where string, args ...any) (*domain.Charge, error) {
	query := `SELECT ` + chargeColumns + ` FROM pix_charges WHERE ` + where
	charge, err := scanCharge(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChargeNotFound
		}
		return nil, err
	}
	return charge, nil
}

// FindChargeByIdempotencyKey retrieves the charge issued for a payee under a client key.
func (r *PostgresRepository) FindChargeByIdempotencyKey(ctx context.Context, payeeID uuid.UUID, idempotencyKey string) (*domain.Charge, error) {
	return r.findOne(ctx, `payee_id = $1 AND idempotency_key = $2`, payeeID, idempotencyKey)
}

// FindChargeByTransactionID retrieves a charge by its external transaction id.
func (r *PostgresRepository) FindChargeByTransactionID(ctx context.Context, transactionID string) (*domain.Charge, error) {
	return r.findOne(ctx, `transaction_id = $1`, transactionID)
}

// ExistsChargeByTransactionID reports whether a transaction id is already taken.
func (r *PostgresRepository) ExistsChargeByTransactionID(ctx context.Context, transactionID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pix_charges WHERE transaction_id = $1)`, transactionID).Scan(&exists)
	return exists, err
}

// CreateCharge inserts a new charge row.
func (r *PostgresRepository) CreateCharge(ctx context.Context, c *domain.Charge) error {
	query := `INSERT INTO pix_charges (` + chargeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`
	_, err := r.db.Exec(ctx, query,
		c.ID, c.TransactionID, c.PayeeID, c.ClientID, c.IdempotencyKey, c.Amount,
		c.Description, c.PixKey, c.Payload, c.QRCodeImage, string(c.Status), c.ClientIP,
		c.ExpiresAt, c.CreatedAt, c.UpdatedAt, c.PaidAt, c.ConfirmedAt, c.ConfirmedBy,
		c.EvidenceRef, c.ConfirmNotes, c.CancelledAt, c.CancelledBy, c.CancelReason,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			switch pgErr.ConstraintName {
			case idempotencyKeyConstraint:
				return ErrDuplicateIdempotencyKey
			case transactionIDUniqueConstraint:
				return ErrDuplicateTransactionID
			}
		}
		return err
	}
	return nil
}

// UpdateChargeStatus writes the lifecycle columns guarded by the expected prior status.
func (r *PostgresRepository) UpdateChargeStatus(ctx context.Context, c *domain.Charge, expected domain.ChargeStatus) error {
	query := `
		UPDATE pix_charges
		SET status = $2,
			updated_at = $3,
			paid_at = $4,
			confirmed_at = $5,
			confirmed_by = $6,
			evidence_ref = $7,
			confirm_notes = $8,
			cancelled_at = $9,
			cancelled_by = $10,
			cancel_reason = $11
		WHERE id = $1 AND status = $12
	`
	tag, err := r.db.Exec(ctx, query,
		c.ID, string(c.Status), c.UpdatedAt, c.PaidAt, c.ConfirmedAt, c.ConfirmedBy,
		c.EvidenceRef, c.ConfirmNotes, c.CancelledAt, c.CancelledBy, c.CancelReason,
		string(expected),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pix_charges WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrChargeNotFound
		}
		return ErrChargeStateConflict
	}
	return nil
}

// FindExpiredPendingCharges returns pending charges whose deadline is at or before now.
func (r *PostgresRepository) FindExpiredPendingCharges(ctx context.Context, now time.Time, limit int) ([]domain.Charge, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + chargeColumns + `
		FROM pix_charges
		WHERE status = 'PENDING' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var charges []domain.Charge
	for rows.Next() {
		charge, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		charges = append(charges, *charge)
	}
	return charges, rows.Err()
}

// CountPendingChargesSince counts a payee's PENDING charges created at or after since.
func (r *PostgresRepository) CountPendingChargesSince(ctx context.Context, payeeID uuid.UUID, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM pix_charges WHERE payee_id = $1 AND status = 'PENDING' AND created_at >= $2`
	if err := r.db.QueryRow(ctx, query, payeeID, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// FindPayeeSettlementConfig reads the settlement key fields of an organization.
// The organizations table is owned by the profile service.
func (r *PostgresRepository) FindPayeeSettlementConfig(ctx context.Context, payeeID uuid.UUID) (*domain.PayeeSettlementConfig, error) {
	var cfg domain.PayeeSettlementConfig
	query := `
		SELECT id, name, COALESCE(pix_key, ''), COALESCE(pix_key_type, ''), pix_key_verified
		FROM organizations
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, payeeID).Scan(
		&cfg.PayeeID, &cfg.DisplayName, &cfg.PixKey, &cfg.PixKeyType, &cfg.PixKeyVerified,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPayeeNotFound
		}
		return nil, err
	}
	return &cfg, nil
}
