package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/alvaromashni/nawat-api-sub000/internal/admission"
	"github.com/alvaromashni/nawat-api-sub000/internal/app"
	"github.com/alvaromashni/nawat-api-sub000/internal/config"
	"github.com/alvaromashni/nawat-api-sub000/internal/domain"
	"github.com/alvaromashni/nawat-api-sub000/internal/metrics"
	"github.com/alvaromashni/nawat-api-sub000/internal/store"
	"github.com/alvaromashni/nawat-api-sub000/pkg/brcode"
	"github.com/alvaromashni/nawat-api-sub000/pkg/qrimage"
	"github.com/alvaromashni/nawat-api-sub000/pkg/rabbitmq"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type testServer struct {
	handler http.Handler
	repo    *store.BoltRepository
	payee   domain.PayeeSettlementConfig
	mr      *miniredis.Miniredis
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()

	repo, err := store.NewBoltRepository(filepath.Join(t.TempDir(), "charges.db"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	payee := domain.PayeeSettlementConfig{
		PayeeID:        uuid.New(),
		DisplayName:    "Padaria Central",
		PixKey:         "caixa@padaria.example",
		PixKeyType:     "EMAIL",
		PixKeyVerified: true,
	}
	if err := repo.PutPayeeSettlementConfig(context.Background(), &payee); err != nil {
		t.Fatalf("seed payee: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	cfg := config.Config{
		ChargeMinAmount:      100,
		ChargeMaxAmount:      1000000,
		DefaultExpiryMinutes: 10,
		MaxExpiryMinutes:     60,
		MaxChargesPerHour:    100,
		PayeeCityDefault:     "SAO PAULO",
		ExpirationSweepBatch: 500,
	}
	svc := app.NewService(repo, qrimage.NewPNGRenderer(128), &rabbitmq.EventProducerFallback{}, collector, cfg)

	ctrl := admission.NewController(admission.NewRedisStore(client), "test", collector)
	policy := app.AdmissionPolicy{Type: admission.TypePayee, Limit: rateLimit, Window: time.Minute}
	handlers := NewChargeHandlers(svc, ctrl, policy, app.WithAdmission(ctrl, policy, collector, svc.FindIssued, svc.IssueCharge))

	return &testServer{
		handler: ChargeRoutes(handlers, principalFromHeader, reg),
		repo:    repo,
		payee:   payee,
		mr:      mr,
	}
}

// principalFromHeader stands in for bearer auth: X-Test-Payee selects the payee.
func principalFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payeeID, err := uuid.Parse(r.Header.Get("X-Test-Payee"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "no principal")
			return
		}
		ctx := WithPrincipal(r.Context(), Principal{Subject: "operator-7", PayeeID: payeeID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *testServer) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "198.51.100.20:41000"
	req.Header.Set("X-Test-Payee", s.payee.PayeeID.String())
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v (body=%q)", err, rec.Body.String())
	}
}

func TestIssueChargeHandler_CreatesAndReplays(t *testing.T) {
	srv := newTestServer(t, 5)
	header := map[string]string{"Idempotency-Key": "pedido-2026-0001", "Content-Type": "application/json"}

	first := srv.do(t, http.MethodPost, "/charges", `{"amount": 2590, "description": "pao"}`, header)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}
	var issued domain.IssuanceResult
	decodeJSON(t, first, &issued)
	if issued.Status != domain.ChargeStatusPending || issued.Amount != 2590 || len(issued.QRCodeImage) == 0 {
		t.Fatalf("unexpected issuance %+v", issued)
	}
	decoded, err := brcode.Decode(issued.Payload)
	if err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	if decoded.TransactionID != issued.TransactionID {
		t.Fatalf("payload txid %q, result txid %q", decoded.TransactionID, issued.TransactionID)
	}
	if got := first.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("expected X-RateLimit-Limit 5, got %q", got)
	}
	if got := first.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Fatalf("expected X-RateLimit-Remaining 4, got %q", got)
	}

	replay := srv.do(t, http.MethodPost, "/charges", `{"amount": 2590, "idempotency_key": "pedido-2026-0001"}`, nil)
	if replay.Code != http.StatusCreated {
		t.Fatalf("expected replay 201, got %d: %s", replay.Code, replay.Body.String())
	}
	var again domain.IssuanceResult
	decodeJSON(t, replay, &again)
	if again.ChargeID != issued.ChargeID || again.TransactionID != issued.TransactionID {
		t.Fatalf("replay returned a different charge: %+v vs %+v", again, issued)
	}
	if got := replay.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Fatalf("replay must not use a rate-limit slot, remaining=%q", got)
	}
}

func TestIssueChargeHandler_RateLimited(t *testing.T) {
	srv := newTestServer(t, 1)

	if rec := srv.do(t, http.MethodPost, "/charges", `{"amount": 500, "idempotency_key": "k-000000001"}`, nil); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	rec := srv.do(t, http.MethodPost, "/charges", `{"amount": 500, "idempotency_key": "k-000000002"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected remaining 0, got %q", got)
	}
}

func TestIssueChargeHandler_ErrorMapping(t *testing.T) {
	srv := newTestServer(t, 100)

	unverified := domain.PayeeSettlementConfig{PayeeID: uuid.New(), PixKey: "+5511987654321", PixKeyType: "PHONE"}
	if err := srv.repo.PutPayeeSettlementConfig(context.Background(), &unverified); err != nil {
		t.Fatalf("seed payee: %v", err)
	}

	tests := []struct {
		name   string
		body   string
		header map[string]string
		want   int
	}{
		{name: "amount below minimum", body: `{"amount": 99, "idempotency_key": "k-100000001"}`, want: http.StatusBadRequest},
		{name: "amount missing", body: `{"idempotency_key": "k-100000002"}`, want: http.StatusBadRequest},
		{name: "idempotency key missing", body: `{"amount": 1000}`, want: http.StatusBadRequest},
		{name: "malformed json", body: `{"amount":`, want: http.StatusBadRequest},
		{
			name:   "header and body keys differ",
			body:   `{"amount": 1000, "idempotency_key": "k-100000003"}`,
			header: map[string]string{"Idempotency-Key": "k-100000004"},
			want:   http.StatusBadRequest,
		},
		{
			name:   "unknown payee",
			body:   `{"amount": 1000, "idempotency_key": "k-100000005"}`,
			header: map[string]string{"X-Test-Payee": uuid.NewString()},
			want:   http.StatusNotFound,
		},
		{
			name:   "unverified payee key",
			body:   `{"amount": 1000, "idempotency_key": "k-100000006"}`,
			header: map[string]string{"X-Test-Payee": unverified.PayeeID.String()},
			want:   http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/charges", tt.body, tt.header)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestChargeLifecycleHandlers(t *testing.T) {
	srv := newTestServer(t, 100)

	rec := srv.do(t, http.MethodPost, "/charges", `{"amount": 12000, "idempotency_key": "lifecycle-0001"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue: expected 201, got %d", rec.Code)
	}
	var issued domain.IssuanceResult
	decodeJSON(t, rec, &issued)
	path := "/charges/" + issued.TransactionID

	rec = srv.do(t, http.MethodGet, path, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup: expected 200, got %d", rec.Code)
	}
	var found chargeResponse
	decodeJSON(t, rec, &found)
	if found.Status != domain.ChargeStatusPending || found.ChargeID != issued.ChargeID.String() {
		t.Fatalf("unexpected lookup %+v", found)
	}

	// Another payee cannot see the charge.
	rec = srv.do(t, http.MethodGet, path, "", map[string]string{"X-Test-Payee": uuid.NewString()})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign lookup: expected 404, got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, path+"/confirm", `{"evidence_ref": "comprovante-991", "notes": "pago no balcao"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var confirmed chargeResponse
	decodeJSON(t, rec, &confirmed)
	if confirmed.Status != domain.ChargeStatusConfirmedManual || confirmed.ConfirmedBy == nil || *confirmed.ConfirmedBy != "operator-7" {
		t.Fatalf("unexpected confirmation %+v", confirmed)
	}
	if confirmed.EvidenceRef == nil || *confirmed.EvidenceRef != "comprovante-991" || confirmed.ConfirmedAt == nil {
		t.Fatalf("confirmation did not record evidence %+v", confirmed)
	}

	rec = srv.do(t, http.MethodPost, path+"/cancel", `{"reason": "cliente desistiu"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel after confirm: expected 409, got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/charges/NOSUCHCHARGE0001/cancel", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel unknown: expected 404, got %d", rec.Code)
	}
}

func TestCancelChargeHandler(t *testing.T) {
	srv := newTestServer(t, 100)

	rec := srv.do(t, http.MethodPost, "/charges", `{"amount": 800, "idempotency_key": "cancel-me-0001"}`, nil)
	var issued domain.IssuanceResult
	decodeJSON(t, rec, &issued)

	rec = srv.do(t, http.MethodPost, "/charges/"+issued.TransactionID+"/cancel", `{"reason": "duplicado"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var cancelled chargeResponse
	decodeJSON(t, rec, &cancelled)
	if cancelled.Status != domain.ChargeStatusCancelled || cancelled.CancelReason == nil || *cancelled.CancelReason != "duplicado" {
		t.Fatalf("unexpected cancellation %+v", cancelled)
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, 100)

	rec := srv.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "healthy" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}

	srv.do(t, http.MethodPost, "/charges", `{"amount": 1000, "idempotency_key": "metrics-0001"}`, nil)
	rec = srv.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pix_charges_issued_total") {
		t.Fatal("metrics output is missing pix_charges_issued_total")
	}
}

func TestRouter_RequiresPrincipal(t *testing.T) {
	srv := newTestServer(t, 100)

	req := httptest.NewRequest(http.MethodGet, "/charges/ANY", nil)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
