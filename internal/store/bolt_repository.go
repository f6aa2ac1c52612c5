/**
 * @description
 * This file provides the BoltDB implementation of the `Repository` interface for
 * single-node and local deployments. Charges are stored as JSON; the idempotency
 * and transaction-id indexes live in their own buckets.
 *
 * @dependencies
 * - github.com/boltdb/bolt: Embedded key/value store.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/alvaromashni/nawat-api-sub000/internal/domain"
	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"
)

var (
	chargesBucket       = []byte("charges")
	idempotencyBucket   = []byte("idx_idempotency")
	transactionIDBucket = []byte("idx_transaction_id")
	payeesBucket        = []byte("payees")
)

// BoltRepository stores charges in a single BoltDB file for single-node
// deployments. Secondary indexes live in their own buckets and are written in
// the same transaction as the charge, so uniqueness checks are serialized by
// Bolt's single writer.
type BoltRepository struct {
	db *bolt.DB
}

// NewBoltRepository opens (or creates) the database at path and ensures every bucket exists.
func NewBoltRepository(path string) (*BoltRepository, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{chargesBucket, idempotencyBucket, transactionIDBucket, payeesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltRepository{db: db}, nil
}

// Close releases the database file lock.
func (r *BoltRepository) Close() error {
	return r.db.Close()
}

func idempotencyIndexKey(payeeID uuid.UUID, key string) []byte {
	return []byte(payeeID.String() + "|" + key)
}

func getCharge(tx *bolt.Tx, id []byte) (*domain.Charge, error) {
	v := tx.Bucket(chargesBucket).Get(id)
	if v == nil {
		return nil, ErrChargeNotFound
	}
	var c domain.Charge
	if err := json.Unmarshal(v, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *BoltRepository) FindChargeByIdempotencyKey(_ context.Context, payeeID uuid.UUID, idempotencyKey string) (*domain.Charge, error) {
	var charge *domain.Charge
	err := r.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(idempotencyBucket).Get(idempotencyIndexKey(payeeID, idempotencyKey))
		if id == nil {
			return ErrChargeNotFound
		}
		var err error
		charge, err = getCharge(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return charge, nil
}

func (r *BoltRepository) FindChargeByTransactionID(_ context.Context, transactionID string) (*domain.Charge, error) {
	var charge *domain.Charge
	err := r.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(transactionIDBucket).Get([]byte(transactionID))
		if id == nil {
			return ErrChargeNotFound
		}
		var err error
		charge, err = getCharge(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return charge, nil
}

func (r *BoltRepository) ExistsChargeByTransactionID(_ context.Context, transactionID string) (bool, error) {
	exists := false
	err := r.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(transactionIDBucket).Get([]byte(transactionID)) != nil
		return nil
	})
	return exists, err
}

// CreateCharge persists a new charge ONLY if neither its idempotency key nor its
// transaction id is already indexed.
func (r *BoltRepository) CreateCharge(_ context.Context, c *domain.Charge) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		idemKey := idempotencyIndexKey(c.PayeeID, c.IdempotencyKey)
		if tx.Bucket(idempotencyBucket).Get(idemKey) != nil {
			return ErrDuplicateIdempotencyKey
		}
		if tx.Bucket(transactionIDBucket).Get([]byte(c.TransactionID)) != nil {
			return ErrDuplicateTransactionID
		}

		id := []byte(c.ID.String())
		if err := tx.Bucket(chargesBucket).Put(id, data); err != nil {
			return err
		}
		if err := tx.Bucket(idempotencyBucket).Put(idemKey, id); err != nil {
			return err
		}
		return tx.Bucket(transactionIDBucket).Put([]byte(c.TransactionID), id)
	})
}

// UpdateChargeStatus rewrites the stored charge when its status still equals expected.
func (r *BoltRepository) UpdateChargeStatus(_ context.Context, c *domain.Charge, expected domain.ChargeStatus) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		id := []byte(c.ID.String())
		stored, err := getCharge(tx, id)
		if err != nil {
			return err
		}
		if stored.Status != expected {
			return ErrChargeStateConflict
		}

		stored.Status = c.Status
		stored.UpdatedAt = c.UpdatedAt
		stored.PaidAt = c.PaidAt
		stored.ConfirmedAt = c.ConfirmedAt
		stored.ConfirmedBy = c.ConfirmedBy
		stored.EvidenceRef = c.EvidenceRef
		stored.ConfirmNotes = c.ConfirmNotes
		stored.CancelledAt = c.CancelledAt
		stored.CancelledBy = c.CancelledBy
		stored.CancelReason = c.CancelReason

		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return tx.Bucket(chargesBucket).Put(id, data)
	})
}

// FindExpiredPendingCharges scans the charge bucket. Bolt has no secondary
// ordering, so results are sorted by deadline before the limit is applied.
func (r *BoltRepository) FindExpiredPendingCharges(_ context.Context, now time.Time, limit int) ([]domain.Charge, error) {
	var charges []domain.Charge
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(chargesBucket).ForEach(func(_, v []byte) error {
			var c domain.Charge
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.IsOverdue(now) {
				charges = append(charges, c)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(charges, func(i, j int) bool {
		return charges[i].ExpiresAt.Before(charges[j].ExpiresAt)
	})
	if limit > 0 && len(charges) > limit {
		charges = charges[:limit]
	}
	return charges, nil
}

func (r *BoltRepository) CountPendingChargesSince(_ context.Context, payeeID uuid.UUID, since time.Time) (int, error) {
	count := 0
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(chargesBucket).ForEach(func(_, v []byte) error {
			var c domain.Charge
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.PayeeID == payeeID && c.Status == domain.ChargeStatusPending && !c.CreatedAt.Before(since) {
				count++
			}
			return nil
		})
	})
	return count, err
}

func (r *BoltRepository) FindPayeeSettlementConfig(_ context.Context, payeeID uuid.UUID) (*domain.PayeeSettlementConfig, error) {
	var cfg domain.PayeeSettlementConfig
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(payeesBucket).Get([]byte(payeeID.String()))
		if v == nil {
			return ErrPayeeNotFound
		}
		return json.Unmarshal(v, &cfg)
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PutPayeeSettlementConfig seeds or replaces a payee record. In Postgres
// deployments payees are owned by the profile service; Bolt deployments
// provision them through this method.
func (r *BoltRepository) PutPayeeSettlementConfig(_ context.Context, cfg *domain.PayeeSettlementConfig) error {
	if cfg == nil || cfg.PayeeID == uuid.Nil {
		return errors.New("payee settlement config requires a payee id")
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(payeesBucket).Put([]byte(cfg.PayeeID.String()), data)
	})
}
