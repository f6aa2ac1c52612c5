package app

import (
	"context"
	"testing"
	"time"
)

func TestDeriveTransactionID(t *testing.T) {
	now := time.UnixMilli(1772366400000)
	tests := []struct {
		name string
		key  string
		want string
	}{
		{name: "short key gets millis suffix", key: "abc-123", want: "ABC1231772366400000"},
		{name: "ten chars kept as is", key: "order-00001", want: "ORDER00001"},
		{name: "long key truncated", key: "a-very-long-idempotency-key-from-client", want: "AVERYLONGIDEMPOTENCYKEYFR"},
		{name: "symbols only", key: "---", want: "1772366400000"},
		{name: "nine chars gets suffix", key: "abcdefghi", want: "ABCDEFGHI1772366400000"},
		{name: "non ascii letters dropped", key: "pedido-ção-42", want: "PEDIDOO421772366400000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deriveTransactionID(tt.key, now)
			if got != tt.want {
				t.Fatalf("deriveTransactionID(%q) = %q, want %q", tt.key, got, tt.want)
			}
			if len(got) > maxTransactionIDLength {
				t.Fatalf("transaction id %q longer than %d", got, maxTransactionIDLength)
			}
		})
	}
}

func TestRandomTransactionID(t *testing.T) {
	a, b := randomTransactionID(), randomTransactionID()
	if len(a) != maxTransactionIDLength || a == b {
		t.Fatalf("unexpected random ids %q %q", a, b)
	}
}

func TestAllocateTransactionID_StoreError(t *testing.T) {
	repo := &existsErrRepo{chargeRepoStub: newChargeRepoStub()}
	svc := newTestService(repo.chargeRepoStub, rendererStub{}, &publisherStub{}, testConfig())
	svc.repo = repo

	if _, err := svc.allocateTransactionID(context.Background(), "abc-123", fixedNow); err == nil {
		t.Fatal("expected store error to propagate")
	}
}

type existsErrRepo struct {
	*chargeRepoStub
}

func (r *existsErrRepo) ExistsChargeByTransactionID(ctx context.Context, txid string) (bool, error) {
	return false, context.DeadlineExceeded
}
