/**
 * @description
 * This file contains the HTTP handlers for the charge endpoints. Handlers parse the
 * request, resolve the caller's payee, call the application service and translate
 * its errors into status codes. Issuance goes through the admission-wrapped issue
 * function, and every issuance response carries the X-RateLimit-* headers.
 *
 * @dependencies
 * - internal/app, internal/admission, internal/domain: For service logic and models.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/alvaromashni/nawat-api-sub000/internal/admission"
	"github.com/alvaromashni/nawat-api-sub000/internal/app"
	"github.com/alvaromashni/nawat-api-sub000/internal/domain"
	"github.com/go-chi/chi/v5"
)

const maxRequestBodyBytes = 64 << 10

// ChargeHandlers holds the application service that handlers will use.
type ChargeHandlers struct {
	service   *app.Service
	issue     app.IssueFunc
	admission *admission.Controller
	policy    app.AdmissionPolicy
}

// NewChargeHandlers creates handlers that issue through the admission policy.
func NewChargeHandlers(service *app.Service, ctrl *admission.Controller, policy app.AdmissionPolicy, issue app.IssueFunc) *ChargeHandlers {
	if issue == nil {
		issue = service.IssueCharge
	}
	return &ChargeHandlers{
		service:   service,
		issue:     issue,
		admission: ctrl,
		policy:    policy,
	}
}

// chargeResponse is the public view of a stored charge.
type chargeResponse struct {
	ChargeID      string              `json:"charge_id"`
	TransactionID string              `json:"transaction_id"`
	Amount        int64               `json:"amount"`
	Description   string              `json:"description,omitempty"`
	Status        domain.ChargeStatus `json:"status"`
	Payload       string              `json:"payload"`
	ExpiresAt     int64               `json:"expires_at"`
	CreatedAt     int64               `json:"created_at"`
	PaidAt        *int64              `json:"paid_at,omitempty"`
	ConfirmedAt   *int64              `json:"confirmed_at,omitempty"`
	ConfirmedBy   *string             `json:"confirmed_by,omitempty"`
	EvidenceRef   *string             `json:"evidence_ref,omitempty"`
	CancelledAt   *int64              `json:"cancelled_at,omitempty"`
	CancelReason  *string             `json:"cancel_reason,omitempty"`
}

func buildChargeResponse(c *domain.Charge) chargeResponse {
	resp := chargeResponse{
		ChargeID:      c.ID.String(),
		TransactionID: c.TransactionID,
		Amount:        c.Amount,
		Description:   c.Description,
		Status:        c.Status,
		Payload:       c.Payload,
		ExpiresAt:     c.ExpiresAt.UnixMilli(),
		CreatedAt:     c.CreatedAt.UnixMilli(),
		ConfirmedBy:   c.ConfirmedBy,
		EvidenceRef:   c.EvidenceRef,
		CancelReason:  c.CancelReason,
	}
	if c.PaidAt != nil {
		ms := c.PaidAt.UnixMilli()
		resp.PaidAt = &ms
	}
	if c.ConfirmedAt != nil {
		ms := c.ConfirmedAt.UnixMilli()
		resp.ConfirmedAt = &ms
	}
	if c.CancelledAt != nil {
		ms := c.CancelledAt.UnixMilli()
		resp.CancelledAt = &ms
	}
	return resp
}

// IssueChargeHandler handles POST /charges.
func (h *ChargeHandlers) IssueChargeHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get principal from context")
		return
	}

	var req domain.CreateChargeRequest
	if !decodeBody(w, r, &req, "issue_charge") {
		return
	}
	headerKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	bodyKey := strings.TrimSpace(req.IdempotencyKey)
	switch {
	case headerKey != "" && bodyKey != "" && headerKey != bodyKey:
		writeError(w, http.StatusBadRequest, "Idempotency-Key header and idempotency_key field differ")
		return
	case bodyKey == "":
		req.IdempotencyKey = headerKey
	}

	payee, err := h.service.PayeeSettlementConfig(r.Context(), principal.PayeeID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=issue_charge outcome=reject reason=payee_lookup payee_id=%s err=%v", principal.PayeeID, err)
		writeServiceError(w, err)
		return
	}

	issueReq := app.IssueRequest{
		Payee:    payee,
		ClientID: principal.ClientID(),
		Charge:   req,
		ClientIP: clientIP(r),
	}
	result, err := h.issue(r.Context(), issueReq)
	if err != nil {
		log.Printf("level=warn component=api endpoint=issue_charge outcome=failed payee_id=%s err=%v", principal.PayeeID, err)
		writeServiceError(w, err)
		return
	}

	h.setRateLimitHeaders(w, r, issueReq)
	writeJSON(w, http.StatusCreated, result)
}

// setRateLimitHeaders reports the caller's standing against the admission policy.
func (h *ChargeHandlers) setRateLimitHeaders(w http.ResponseWriter, r *http.Request, req app.IssueRequest) {
	if h.admission == nil || h.policy.Limit <= 0 {
		return
	}
	scope := h.policy.Scope(req)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.policy.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(h.admission.Remaining(r.Context(), scope, h.policy.Limit)))
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(h.admission.ResetSeconds(r.Context(), scope)))
}

// GetChargeHandler handles GET /charges/{transactionID}.
func (h *ChargeHandlers) GetChargeHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get principal from context")
		return
	}

	charge, err := h.service.GetChargeByTransactionID(r.Context(), principal.PayeeID, chi.URLParam(r, "transactionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buildChargeResponse(charge))
}

// ConfirmChargeHandler handles POST /charges/{transactionID}/confirm.
func (h *ChargeHandlers) ConfirmChargeHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get principal from context")
		return
	}

	var req domain.ConfirmChargeRequest
	if !decodeBody(w, r, &req, "confirm_charge") {
		return
	}

	txid := chi.URLParam(r, "transactionID")
	charge, err := h.service.ConfirmChargeManually(r.Context(), principal.PayeeID, txid, principal.Subject, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=confirm_charge outcome=failed payee_id=%s transaction_id=%s err=%v", principal.PayeeID, txid, err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buildChargeResponse(charge))
}

// CancelChargeHandler handles POST /charges/{transactionID}/cancel.
func (h *ChargeHandlers) CancelChargeHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get principal from context")
		return
	}

	var req domain.CancelChargeRequest
	if !decodeBody(w, r, &req, "cancel_charge") {
		return
	}

	txid := chi.URLParam(r, "transactionID")
	charge, err := h.service.CancelCharge(r.Context(), principal.PayeeID, txid, principal.Subject, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=cancel_charge outcome=failed payee_id=%s transaction_id=%s err=%v", principal.PayeeID, txid, err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buildChargeResponse(charge))
}

// decodeBody reads a JSON body into dst. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, endpoint string) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	log.Printf("level=warn component=api endpoint=%s outcome=reject reason=invalid_json err=%v", endpoint, err)
	writeError(w, http.StatusBadRequest, "Invalid request body")
	return false
}

// clientIP prefers the address rewritten by middleware.RealIP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeServiceError maps service errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var rateErr *app.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rateErr.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rateErr.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(rateErr.RetryAfter))
		if rateErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfter))
		}
		writeError(w, http.StatusTooManyRequests, "Too many requests")
	case errors.Is(err, app.ErrInvalidAmount), errors.Is(err, app.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrPayeeNotFound), errors.Is(err, app.ErrChargeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrChargeAlreadyProcessed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrPayeeKeyNotFound), errors.Is(err, app.ErrPayeeKeyNotVerified), errors.Is(err, app.ErrInvalidPayeeKey):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrQRGeneration):
		writeError(w, http.StatusBadGateway, "Could not render charge QR code")
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
