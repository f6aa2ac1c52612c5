/**
 * @description
 * Transaction-id allocation. The id is derived from the idempotency key and falls
 * back to a random id when the derived one is already taken.
 */

package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxTransactionIDLength = 25
	minTransactionIDLength = 10
)

// deriveTransactionID maps an idempotency key to a transaction id: ASCII
// alphanumerics only, upper-cased, at most 25 chars. Ids shorter than 10 chars
// get the epoch milliseconds of now appended.
func deriveTransactionID(idempotencyKey string, now time.Time) string {
	var b strings.Builder
	for _, r := range idempotencyKey {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	id := truncateID(strings.ToUpper(b.String()))
	if len(id) < minTransactionIDLength {
		id = truncateID(id + strconv.FormatInt(now.UnixMilli(), 10))
	}
	return id
}

func randomTransactionID() string {
	return truncateID(strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")))
}

func truncateID(id string) string {
	if len(id) > maxTransactionIDLength {
		return id[:maxTransactionIDLength]
	}
	return id
}

// allocateTransactionID derives the id for key and falls back to a single
// random id when the derived one is taken. The random id is not re-checked;
// the store's unique constraint rejects the insert in the unlikely case it
// collides.
func (s *Service) allocateTransactionID(ctx context.Context, idempotencyKey string, now time.Time) (string, error) {
	id := deriveTransactionID(idempotencyKey, now)
	taken, err := s.repo.ExistsChargeByTransactionID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to check transaction id: %w", err)
	}
	if taken {
		return randomTransactionID(), nil
	}
	return id, nil
}
