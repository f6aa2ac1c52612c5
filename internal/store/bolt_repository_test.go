package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alvaromashni/nawat-api-sub000/internal/domain"
	"github.com/alvaromashni/nawat-api-sub000/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *store.BoltRepository {
	t.Helper()
	dir := t.TempDir()
	repo, err := store.NewBoltRepository(filepath.Join(dir, "charges.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newCharge(payeeID uuid.UUID, key, txid string, createdAt time.Time) *domain.Charge {
	return &domain.Charge{
		ID:             uuid.New(),
		TransactionID:  txid,
		PayeeID:        payeeID,
		IdempotencyKey: key,
		Amount:         5000,
		PixKey:         "org@example.org",
		Payload:        "000201",
		Status:         domain.ChargeStatusPending,
		ExpiresAt:      createdAt.Add(10 * time.Minute),
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func TestBoltRepository_CreateAndFind(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	payee := uuid.New()
	now := time.Now().UTC().Truncate(time.Millisecond)

	charge := newCharge(payee, "abc-123", "ABC1231772366400000", now)
	require.NoError(t, repo.CreateCharge(ctx, charge))

	byKey, err := repo.FindChargeByIdempotencyKey(ctx, payee, "abc-123")
	require.NoError(t, err)
	assert.Equal(t, charge.ID, byKey.ID)

	byTxid, err := repo.FindChargeByTransactionID(ctx, "ABC1231772366400000")
	require.NoError(t, err)
	assert.Equal(t, charge.ID, byTxid.ID)
	assert.True(t, byTxid.CreatedAt.Equal(now))

	exists, err := repo.ExistsChargeByTransactionID(ctx, "ABC1231772366400000")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = repo.FindChargeByIdempotencyKey(ctx, uuid.New(), "abc-123")
	assert.ErrorIs(t, err, store.ErrChargeNotFound)
}

func TestBoltRepository_CreateRejectsDuplicates(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	payee := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, repo.CreateCharge(ctx, newCharge(payee, "k1", "TXN0000000001", now)))

	err := repo.CreateCharge(ctx, newCharge(payee, "k1", "TXN0000000002", now))
	assert.ErrorIs(t, err, store.ErrDuplicateIdempotencyKey)

	err = repo.CreateCharge(ctx, newCharge(payee, "k2", "TXN0000000001", now))
	assert.ErrorIs(t, err, store.ErrDuplicateTransactionID)

	// Same key under another payee is a distinct charge.
	require.NoError(t, repo.CreateCharge(ctx, newCharge(uuid.New(), "k1", "TXN0000000003", now)))
}

func TestBoltRepository_ConcurrentCreateSingleWinner(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	payee := uuid.New()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, dupes := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txid := "RACE" + uuid.NewString()[:8]
			err := repo.CreateCharge(ctx, newCharge(payee, "same-key", txid, now))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrDuplicateIdempotencyKey):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 9, dupes)
}

func TestBoltRepository_UpdateChargeStatusIsConditional(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	charge := newCharge(uuid.New(), "k", "TXNCOND000001", now)
	require.NoError(t, repo.CreateCharge(ctx, charge))

	require.NoError(t, charge.ConfirmManually("op", "receipt", "", now))
	require.NoError(t, repo.UpdateChargeStatus(ctx, charge, domain.ChargeStatusPending))

	stored, err := repo.FindChargeByTransactionID(ctx, "TXNCOND000001")
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeStatusConfirmedManual, stored.Status)
	require.NotNil(t, stored.ConfirmedBy)
	assert.Equal(t, "op", *stored.ConfirmedBy)

	expired := *stored
	expired.Status = domain.ChargeStatusExpired
	err = repo.UpdateChargeStatus(ctx, &expired, domain.ChargeStatusPending)
	assert.ErrorIs(t, err, store.ErrChargeStateConflict)

	missing := newCharge(uuid.New(), "x", "TXNMISSING001", now)
	err = repo.UpdateChargeStatus(ctx, missing, domain.ChargeStatusPending)
	assert.ErrorIs(t, err, store.ErrChargeNotFound)
}

func TestBoltRepository_FindExpiredPendingCharges(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	payee := uuid.New()
	now := time.Now().UTC()

	overdueLate := newCharge(payee, "a", "TXNOVERDUE0001", now.Add(-15*time.Minute))
	overdueEarly := newCharge(payee, "b", "TXNOVERDUE0002", now.Add(-30*time.Minute))
	fresh := newCharge(payee, "c", "TXNFRESH000001", now)
	cancelled := newCharge(payee, "d", "TXNCANCEL00001", now.Add(-30*time.Minute))
	cancelled.Status = domain.ChargeStatusCancelled
	for _, c := range []*domain.Charge{overdueLate, overdueEarly, fresh, cancelled} {
		require.NoError(t, repo.CreateCharge(ctx, c))
	}

	found, err := repo.FindExpiredPendingCharges(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, overdueEarly.ID, found[0].ID)
	assert.Equal(t, overdueLate.ID, found[1].ID)

	limited, err := repo.FindExpiredPendingCharges(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestBoltRepository_CountPendingChargesSince(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	payee := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, repo.CreateCharge(ctx, newCharge(payee, "a", "TXNCOUNT00001", now.Add(-10*time.Minute))))
	require.NoError(t, repo.CreateCharge(ctx, newCharge(payee, "b", "TXNCOUNT00002", now.Add(-2*time.Hour))))
	require.NoError(t, repo.CreateCharge(ctx, newCharge(uuid.New(), "c", "TXNCOUNT00003", now)))
	paid := newCharge(payee, "d", "TXNCOUNT00004", now)
	paid.Status = domain.ChargeStatusPaid
	require.NoError(t, repo.CreateCharge(ctx, paid))

	count, err := repo.CountPendingChargesSince(ctx, payee, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBoltRepository_PayeeSettlementConfig(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	payee := uuid.New()

	_, err := repo.FindPayeeSettlementConfig(ctx, payee)
	assert.ErrorIs(t, err, store.ErrPayeeNotFound)

	cfg := &domain.PayeeSettlementConfig{
		PayeeID:        payee,
		DisplayName:    "Loja Exemplo",
		PixKey:         "org@example.org",
		PixKeyType:     "EMAIL",
		PixKeyVerified: true,
	}
	require.NoError(t, repo.PutPayeeSettlementConfig(ctx, cfg))

	got, err := repo.FindPayeeSettlementConfig(ctx, payee)
	require.NoError(t, err)
	assert.Equal(t, *cfg, *got)

	assert.Error(t, repo.PutPayeeSettlementConfig(ctx, &domain.PayeeSettlementConfig{}))
}
