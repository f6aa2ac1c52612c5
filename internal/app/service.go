/**
 * @description
 * This file contains the core business logic of the charge service. The `Service`
 * struct issues PIX charges for payees and drives their lifecycle, coordinating the
 * repository, the payload encoder, the barcode renderer and the event publisher.
 *
 * Key features:
 * - Idempotent issuance keyed by (payee, idempotency key), including the race where
 *   two callers miss the lookup and the store's unique constraint picks the winner.
 * - A per-payee hourly budget of PENDING charges.
 * - Manual confirmation, cancellation and the expiration sweep, all written as
 *   conditional updates so concurrent transitions cannot both succeed.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/brcode, pkg/pixkey: For payload encoding and key validation.
 * - pkg/rabbitmq: For lifecycle events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/alvaromashni/nawat-api-sub000/internal/config"
	"github.com/alvaromashni/nawat-api-sub000/internal/domain"
	"github.com/alvaromashni/nawat-api-sub000/internal/metrics"
	"github.com/alvaromashni/nawat-api-sub000/internal/store"
	"github.com/alvaromashni/nawat-api-sub000/pkg/brcode"
	"github.com/alvaromashni/nawat-api-sub000/pkg/pixkey"
	"github.com/alvaromashni/nawat-api-sub000/pkg/rabbitmq"
	"github.com/google/uuid"
)

// ImageRenderer turns a payload into a scannable image.
type ImageRenderer interface {
	Render(payload string) ([]byte, error)
}

// IssueRequest carries everything an issuance needs.
type IssueRequest struct {
	Payee    *domain.PayeeSettlementConfig
	ClientID *uuid.UUID
	Charge   domain.CreateChargeRequest
	ClientIP string
}

// IssueFunc is the shape of the issuance call, so it can be decorated.
type IssueFunc func(ctx context.Context, req IssueRequest) (*domain.IssuanceResult, error)

// Service provides the core business logic for charges.
type Service struct {
	repo     store.Repository
	renderer ImageRenderer
	events   rabbitmq.Publisher
	metrics  *metrics.Collector
	config   config.Config
	now      func() time.Time
}

// NewService creates a new charge service instance.
func NewService(repo store.Repository, renderer ImageRenderer, producer rabbitmq.Publisher, collector *metrics.Collector, cfg config.Config) *Service {
	return &Service{
		repo:     repo,
		renderer: renderer,
		events:   producer,
		metrics:  collector,
		config:   cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PayeeSettlementConfig loads the settlement configuration of a payee.
func (s *Service) PayeeSettlementConfig(ctx context.Context, payeeID uuid.UUID) (*domain.PayeeSettlementConfig, error) {
	cfg, err := s.repo.FindPayeeSettlementConfig(ctx, payeeID)
	if err != nil {
		if errors.Is(err, store.ErrPayeeNotFound) {
			return nil, ErrPayeeNotFound
		}
		return nil, fmt.Errorf("failed to load payee settlement config: %w", err)
	}
	return cfg, nil
}

// validatePayee returns the normalized key to embed in the payload.
func validatePayee(payee *domain.PayeeSettlementConfig) (string, error) {
	if payee == nil || strings.TrimSpace(payee.PixKey) == "" {
		return "", ErrPayeeKeyNotFound
	}
	if !payee.PixKeyVerified {
		return "", ErrPayeeKeyNotVerified
	}

	declared := strings.TrimSpace(payee.PixKeyType)
	if declared == "" {
		if _, ok := pixkey.Classify(payee.PixKey); !ok {
			return "", ErrInvalidPayeeKey
		}
	} else {
		keyType, ok := pixkey.ParseType(declared)
		if !ok || !pixkey.Validate(payee.PixKey, keyType) {
			return "", ErrInvalidPayeeKey
		}
	}
	return pixkey.Normalize(payee.PixKey), nil
}

func (s *Service) validateRequest(req domain.CreateChargeRequest) error {
	if req.Amount == nil || *req.Amount < s.config.ChargeMinAmount || *req.Amount > s.config.ChargeMaxAmount {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidRequest)
	}
	return nil
}

// expiryFor resolves the validity window: 0 means the default, anything else is
// clamped to [1, max] minutes.
func (s *Service) expiryFor(requestedMinutes int) time.Duration {
	minutes := requestedMinutes
	switch {
	case minutes == 0:
		minutes = s.config.DefaultExpiryMinutes
	case minutes < 1:
		minutes = 1
	case minutes > s.config.MaxExpiryMinutes:
		minutes = s.config.MaxExpiryMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// FindIssued validates req and returns the charge already issued under its
// idempotency key. It returns (nil, nil) when the key has not been used yet.
func (s *Service) FindIssued(ctx context.Context, req IssueRequest) (*domain.IssuanceResult, error) {
	_, existing, err := s.lookupIssued(ctx, req)
	return existing, err
}

// lookupIssued runs the checks that precede admission: payee, request, then the
// idempotency lookup. It returns the normalized payee key on a miss.
func (s *Service) lookupIssued(ctx context.Context, req IssueRequest) (string, *domain.IssuanceResult, error) {
	key, err := validatePayee(req.Payee)
	if err != nil {
		s.metrics.IssueOutcome("rejected")
		return "", nil, err
	}
	if err := s.validateRequest(req.Charge); err != nil {
		s.metrics.IssueOutcome("rejected")
		return "", nil, err
	}
	payeeID := req.Payee.PayeeID

	existing, err := s.repo.FindChargeByIdempotencyKey(ctx, payeeID, strings.TrimSpace(req.Charge.IdempotencyKey))
	if err == nil {
		s.metrics.IdempotentReplay()
		log.Printf("level=info component=issuer msg=\"idempotent replay\" payee_id=%s transaction_id=%s", payeeID, existing.TransactionID)
		return key, existing.IssuanceResult(), nil
	}
	if !errors.Is(err, store.ErrChargeNotFound) {
		return "", nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return key, nil, nil
}

// IssueCharge issues a charge for req.Payee, or returns the charge already issued
// under the same idempotency key.
func (s *Service) IssueCharge(ctx context.Context, req IssueRequest) (*domain.IssuanceResult, error) {
	key, existing, err := s.lookupIssued(ctx, req)
	if err != nil || existing != nil {
		return existing, err
	}
	payeeID := req.Payee.PayeeID
	idempotencyKey := strings.TrimSpace(req.Charge.IdempotencyKey)

	now := s.now()
	pending, err := s.repo.CountPendingChargesSince(ctx, payeeID, now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count pending charges: %w", err)
	}
	if pending >= s.config.MaxChargesPerHour {
		s.metrics.AdmissionDenied("hourly_budget")
		log.Printf("level=warn component=issuer msg=\"hourly charge budget exhausted\" payee_id=%s pending=%d limit=%d", payeeID, pending, s.config.MaxChargesPerHour)
		return nil, &RateLimitError{Reason: "hourly_budget", Limit: s.config.MaxChargesPerHour}
	}

	transactionID, err := s.allocateTransactionID(ctx, idempotencyKey, now)
	if err != nil {
		return nil, err
	}

	payload, err := brcode.Encode(brcode.Params{
		Key:           key,
		MerchantName:  req.Payee.DisplayName,
		MerchantCity:  s.config.PayeeCityDefault,
		TransactionID: transactionID,
		Amount:        req.Charge.Amount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	image, err := s.renderer.Render(payload)
	if err != nil {
		s.metrics.IssueOutcome("qr_failed")
		return nil, &QRGenerationError{Err: err}
	}

	charge := &domain.Charge{
		ID:             uuid.New(),
		TransactionID:  transactionID,
		PayeeID:        payeeID,
		ClientID:       req.ClientID,
		IdempotencyKey: idempotencyKey,
		Amount:         *req.Charge.Amount,
		Description:    strings.TrimSpace(req.Charge.Description),
		PixKey:         key,
		Payload:        payload,
		QRCodeImage:    image,
		Status:         domain.ChargeStatusPending,
		ClientIP:       req.ClientIP,
		ExpiresAt:      now.Add(s.expiryFor(req.Charge.ExpiresInMinutes)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.CreateCharge(ctx, charge); err != nil {
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			// Lost the race against a concurrent request with the same key.
			winner, findErr := s.repo.FindChargeByIdempotencyKey(ctx, payeeID, idempotencyKey)
			if findErr != nil {
				return nil, fmt.Errorf("failed to load concurrently issued charge: %w", findErr)
			}
			s.metrics.IdempotentReplay()
			log.Printf("level=info component=issuer msg=\"idempotency race resolved to existing charge\" payee_id=%s transaction_id=%s", payeeID, winner.TransactionID)
			return winner.IssuanceResult(), nil
		}
		return nil, fmt.Errorf("failed to persist charge: %w", err)
	}

	s.metrics.IssueOutcome("created")
	log.Printf("level=info component=issuer msg=\"charge issued\" payee_id=%s transaction_id=%s amount=%d pix_key=%s expires_at=%s",
		payeeID, charge.TransactionID, charge.Amount, pixkey.Mask(key), charge.ExpiresAt.Format(time.RFC3339))
	s.publish(ctx, rabbitmq.RoutingKeyChargeIssued, charge, "")

	return charge.IssuanceResult(), nil
}

// GetChargeByTransactionID returns a payee's charge. A charge owned by another
// payee is reported as not found.
func (s *Service) GetChargeByTransactionID(ctx context.Context, payeeID uuid.UUID, transactionID string) (*domain.Charge, error) {
	charge, err := s.repo.FindChargeByTransactionID(ctx, strings.TrimSpace(transactionID))
	if err != nil {
		if errors.Is(err, store.ErrChargeNotFound) {
			return nil, ErrChargeNotFound
		}
		return nil, fmt.Errorf("failed to load charge: %w", err)
	}
	if charge.PayeeID != payeeID {
		return nil, ErrChargeNotFound
	}
	return charge, nil
}

// ConfirmChargeManually records an operator confirmation of a payee's charge.
func (s *Service) ConfirmChargeManually(ctx context.Context, payeeID uuid.UUID, transactionID, actor string, req domain.ConfirmChargeRequest) (*domain.Charge, error) {
	charge, err := s.GetChargeByTransactionID(ctx, payeeID, transactionID)
	if err != nil {
		return nil, err
	}
	return s.ConfirmManually(ctx, charge, actor, req.EvidenceRef, req.Notes)
}

// ConfirmManually moves charge to CONFIRMED_MANUAL.
func (s *Service) ConfirmManually(ctx context.Context, charge *domain.Charge, actor, evidenceRef, notes string) (*domain.Charge, error) {
	return s.transition(ctx, charge, rabbitmq.RoutingKeyChargeConfirmed, actor, func(c *domain.Charge, at time.Time) error {
		return c.ConfirmManually(actor, strings.TrimSpace(evidenceRef), strings.TrimSpace(notes), at)
	})
}

// CancelCharge cancels a payee's pending charge.
func (s *Service) CancelCharge(ctx context.Context, payeeID uuid.UUID, transactionID, actor string, req domain.CancelChargeRequest) (*domain.Charge, error) {
	charge, err := s.GetChargeByTransactionID(ctx, payeeID, transactionID)
	if err != nil {
		return nil, err
	}
	return s.Cancel(ctx, charge, actor, req.Reason)
}

// Cancel moves charge to CANCELLED.
func (s *Service) Cancel(ctx context.Context, charge *domain.Charge, actor, reason string) (*domain.Charge, error) {
	return s.transition(ctx, charge, rabbitmq.RoutingKeyChargeCancelled, actor, func(c *domain.Charge, at time.Time) error {
		return c.Cancel(actor, strings.TrimSpace(reason), at)
	})
}

// MarkPaid records a reconciliation match for a pending charge.
func (s *Service) MarkPaid(ctx context.Context, charge *domain.Charge) (*domain.Charge, error) {
	return s.transition(ctx, charge, rabbitmq.RoutingKeyChargePaid, "", func(c *domain.Charge, at time.Time) error {
		return c.MarkPaid(at)
	})
}

func (s *Service) transition(ctx context.Context, charge *domain.Charge, routingKey, actor string, apply func(*domain.Charge, time.Time) error) (*domain.Charge, error) {
	if charge.Status.IsFinal() {
		return nil, ErrChargeAlreadyProcessed
	}

	updated := *charge
	if err := apply(&updated, s.now()); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil, ErrChargeAlreadyProcessed
		}
		return nil, err
	}

	if err := s.repo.UpdateChargeStatus(ctx, &updated, charge.Status); err != nil {
		switch {
		case errors.Is(err, store.ErrChargeStateConflict):
			return nil, ErrChargeAlreadyProcessed
		case errors.Is(err, store.ErrChargeNotFound):
			return nil, ErrChargeNotFound
		}
		return nil, fmt.Errorf("failed to update charge status: %w", err)
	}

	s.metrics.Transition(string(updated.Status))
	log.Printf("level=info component=issuer msg=\"charge transitioned\" transaction_id=%s from=%s to=%s actor=%q",
		updated.TransactionID, charge.Status, updated.Status, actor)
	s.publish(ctx, routingKey, &updated, actor)
	return &updated, nil
}

// ExpireOverdueCharges moves every overdue PENDING charge to EXPIRED and returns
// how many were expired. Charges are fetched in batches until none are left; a
// failure on one charge is logged, is not retried in the same sweep and does not
// stop the rest.
func (s *Service) ExpireOverdueCharges(ctx context.Context) (int, error) {
	now := s.now()
	batch := s.config.ExpirationSweepBatch
	if batch <= 0 {
		batch = 500
	}

	tried := make(map[uuid.UUID]bool)
	expired, failed := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			s.metrics.SweepResult(expired, failed)
			return expired, err
		}

		// Charges that failed to update are still PENDING and come back first;
		// widen the window by their number so the fetch reaches new rows.
		limit := batch + failed
		charges, err := s.repo.FindExpiredPendingCharges(ctx, now, limit)
		if err != nil {
			s.metrics.SweepResult(expired, failed)
			return expired, fmt.Errorf("failed to load overdue charges: %w", err)
		}

		fresh := 0
		for i := range charges {
			charge := &charges[i]
			if tried[charge.ID] {
				continue
			}
			tried[charge.ID] = true
			fresh++

			if err := charge.Expire(now); err != nil {
				failed++
				log.Printf("level=warn component=expiration msg=\"charge cannot expire\" transaction_id=%s status=%s err=%v", charge.TransactionID, charge.Status, err)
				continue
			}
			if err := s.repo.UpdateChargeStatus(ctx, charge, domain.ChargeStatusPending); err != nil {
				if errors.Is(err, store.ErrChargeStateConflict) {
					// Confirmed or cancelled between the select and the update.
					continue
				}
				failed++
				log.Printf("level=error component=expiration msg=\"failed to expire charge\" transaction_id=%s err=%v", charge.TransactionID, err)
				continue
			}
			expired++
			s.metrics.Transition(string(domain.ChargeStatusExpired))
			s.publish(ctx, rabbitmq.RoutingKeyChargeExpired, charge, "")
		}

		if len(charges) < limit || fresh == 0 {
			break
		}
	}

	s.metrics.SweepResult(expired, failed)
	return expired, nil
}

func (s *Service) publish(ctx context.Context, routingKey string, charge *domain.Charge, actor string) {
	if s.events == nil {
		return
	}
	event := rabbitmq.ChargeEvent{
		ChargeID:      charge.ID,
		TransactionID: charge.TransactionID,
		PayeeID:       charge.PayeeID,
		Amount:        charge.Amount,
		Status:        string(charge.Status),
		Actor:         actor,
		Timestamp:     charge.UpdatedAt,
	}
	if err := s.events.PublishChargeEvent(ctx, routingKey, event); err != nil {
		log.Printf("level=warn component=issuer msg=\"failed to publish charge event\" routing_key=%s transaction_id=%s err=%v", routingKey, charge.TransactionID, err)
	}
}
