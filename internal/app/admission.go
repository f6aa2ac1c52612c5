/**
 * @description
 * Request-rate admission around charge issuance. The decorator answers
 * idempotent replays first, then applies the ban list and the rolling counter
 * of the configured scope before the issuer runs.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/alvaromashni/nawat-api-sub000/internal/admission"
	"github.com/alvaromashni/nawat-api-sub000/internal/config"
	"github.com/alvaromashni/nawat-api-sub000/internal/domain"
	"github.com/alvaromashni/nawat-api-sub000/internal/metrics"
)

// AdmissionPolicy is the request-rate limit applied around issuance.
type AdmissionPolicy struct {
	Type   admission.Type
	Limit  int
	Window time.Duration
	// BanAfterViolations bans a scope once it has been denied this many times
	// inside one window. Zero disables bans.
	BanAfterViolations int
	BanDuration        time.Duration
}

// AdmissionPolicyFromConfig builds the issuance policy. An unknown type falls back to payee_ip.
func AdmissionPolicyFromConfig(cfg config.Config) AdmissionPolicy {
	scopeType, err := admission.ParseType(cfg.IssueRateLimitType)
	if err != nil {
		log.Printf("level=warn component=admission msg=\"unknown admission type; using payee_ip\" type=%q", cfg.IssueRateLimitType)
		scopeType = admission.TypePayeeIP
	}
	return AdmissionPolicy{
		Type:               scopeType,
		Limit:              cfg.IssueRateLimit,
		Window:             cfg.IssueRateWindow(),
		BanAfterViolations: cfg.IssueBanAfterViolations,
		BanDuration:        cfg.IssueBanDuration(),
	}
}

// Scope returns the admission scope a request is counted against.
func (p AdmissionPolicy) Scope(req IssueRequest) string {
	subject := admission.Subject{ClientIP: req.ClientIP}
	if req.Payee != nil {
		subject.PayeeID = req.Payee.PayeeID.String()
	}
	return p.Type.Scope(subject)
}

func violationScope(scope string) string {
	return "violation:" + scope
}

// recordViolation counts a denial and bans the scope once the threshold is reached.
func (p AdmissionPolicy) recordViolation(ctx context.Context, ctrl *admission.Controller, scope string) bool {
	if p.BanAfterViolations <= 0 {
		return false
	}
	if p.BanAfterViolations > 1 && ctrl.Allow(ctx, violationScope(scope), p.BanAfterViolations-1, p.Window) {
		return false
	}
	ctrl.Ban(ctx, scope, p.BanDuration)
	return true
}

// WithAdmission wraps next with the request-rate limit of policy. replay is
// consulted first: a validation error or an already issued charge is returned
// without touching the counters. Banned scopes and scopes over their limit are
// rejected with a *RateLimitError before next runs. replay may be nil.
func WithAdmission(ctrl *admission.Controller, policy AdmissionPolicy, collector *metrics.Collector, replay IssueFunc, next IssueFunc) IssueFunc {
	return func(ctx context.Context, req IssueRequest) (*domain.IssuanceResult, error) {
		if replay != nil {
			if existing, err := replay(ctx, req); err != nil || existing != nil {
				return existing, err
			}
		}

		scope := policy.Scope(req)

		if ctrl.IsBanned(ctx, scope) {
			collector.AdmissionDenied("banned")
			return nil, &RateLimitError{
				Reason:     "banned",
				Limit:      policy.Limit,
				RetryAfter: ctrl.BanSeconds(ctx, scope),
			}
		}

		if !ctrl.Allow(ctx, scope, policy.Limit, policy.Window) {
			collector.AdmissionDenied("rate_limited")
			if policy.recordViolation(ctx, ctrl, scope) {
				log.Printf("level=warn component=admission msg=\"scope banned after repeated violations\" scope=%s", scope)
			}
			return nil, &RateLimitError{
				Reason:     "rate_limited",
				Limit:      policy.Limit,
				RetryAfter: ctrl.ResetSeconds(ctx, scope),
			}
		}

		return next(ctx, req)
	}
}
