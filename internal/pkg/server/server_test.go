package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/internal/pkg/billing"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/metrics"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/middleware"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/testutil"
)

const (
	testJWTSecret     = "jwt-test-secret"
	testWebhookSecret = "whsec_test"
)

type testServer struct {
	app      *fiber.App
	db       *gorm.DB
	svc      *Services
	verifier *middleware.TokenVerifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := testutil.OpenDB(t)
	reg := prometheus.NewRegistry()
	opts := Options{
		JWTSecret:         testJWTSecret,
		WebhookSecret:     testWebhookSecret,
		SignupCredits:     10,
		DisableRequestLog: true,
	}
	svc := NewServices(db, nil, metrics.MustNew(reg), opts)
	return &testServer{
		app:      NewApp(db, nil, svc, opts, nil, reg),
		db:       db,
		svc:      svc,
		verifier: middleware.NewTokenVerifier(testJWTSecret),
	}
}

func (ts *testServer) token(t *testing.T, sub string) string {
	t.Helper()
	tok, err := ts.verifier.Issue(sub, sub+"@example.com", time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return ts.send(t, req)
}

func (ts *testServer) send(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func (ts *testServer) webhook(t *testing.T, payload []byte, signature string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signature)
	return ts.send(t, req)
}

func process(opType string) map[string]interface{} {
	return map[string]interface{}{"image_url": "https://example.com/cat.png", "operation_type": opType}
}

func TestRequiresAuthentication(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, "GET", "/api/v1/account", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])
}

func TestFirstRequestProvisionsAccount(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, "GET", "/api/v1/account", ts.token(t, "user_1"), nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "user_1", body["id"])
	assert.Equal(t, float64(10), body["credits"])
	assert.Equal(t, "user", body["role"])
}

func TestProcessDebitsUntilInsufficient(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "user_1")

	for _, want := range []float64{7, 4, 1} {
		status, body := ts.do(t, "POST", "/api/v1/ai/process", tok, process("style_transfer"))
		require.Equal(t, fiber.StatusOK, status, body)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(3), body["credits_used"])
		assert.NotEmpty(t, body["processed_url"])

		_, acct := ts.do(t, "GET", "/api/v1/account", tok, nil)
		assert.Equal(t, want, acct["credits"])
	}

	status, body := ts.do(t, "POST", "/api/v1/ai/process", tok, process("style_transfer"))
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, "insufficient_credits", body["error"])

	status, body = ts.do(t, "GET", "/api/v1/account/transactions?limit=2", tok, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(4), body["total"])
	txs := body["transactions"].([]interface{})
	require.Len(t, txs, 2)
	assert.Equal(t, float64(-3), txs[0].(map[string]interface{})["amount"])

	status, body = ts.do(t, "GET", "/api/v1/account/stats", tok, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(3), body["total_operations"])
	assert.Equal(t, float64(9), body["credits_used_this_month"])
	assert.Equal(t, "style_transfer", body["most_used_operation"])
	assert.Equal(t, float64(1), body["current_credits"])
	assert.Len(t, body["recent_operations"], 3)
}

func TestProcessValidation(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "user_1")

	status, body := ts.do(t, "POST", "/api/v1/ai/process", tok, process("teleport"))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "unknown_operation", body["error"])

	status, _ = ts.do(t, "POST", "/api/v1/ai/process", tok, map[string]interface{}{"operation_type": "enhance"})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = ts.do(t, "POST", "/api/v1/ai/text-to-image", tok, map[string]interface{}{"prompt": "  "})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestTextToImage(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "user_1")

	status, body := ts.do(t, "POST", "/api/v1/ai/text-to-image", tok, map[string]interface{}{
		"prompt": "a fox in a field", "style": "watercolor", "options": map[string]interface{}{"width": 256, "height": 128},
	})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, float64(4), body["credits_used"])
	assert.True(t, strings.HasPrefix(body["processed_url"].(string), "https://picsum.photos/256/128"))

	opID := body["operation_id"].(string)
	status, op := ts.do(t, "GET", "/api/v1/operations/"+opID, tok, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "completed", op["status"])

	status, _ = ts.do(t, "GET", "/api/v1/operations/"+opID, ts.token(t, "user_2"), nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestAsyncWithoutQueueRunsInline(t *testing.T) {
	ts := newTestServer(t)
	body := process("enhance")
	body["async"] = true

	status, resp := ts.do(t, "POST", "/api/v1/ai/process", ts.token(t, "user_1"), body)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), resp["credits_used"])
}

func TestAdminFlow(t *testing.T) {
	ts := newTestServer(t)
	testutil.CreateAdmin(t, ts.db, "admin_1")
	adminTok := ts.token(t, "admin_1")
	userTok := ts.token(t, "user_1")

	// Provision the user.
	_, _ = ts.do(t, "GET", "/api/v1/account", userTok, nil)

	status, _ := ts.do(t, "POST", "/api/v1/admin/users", userTok, map[string]interface{}{
		"action": "adjust_credits", "target_user_id": "user_1", "data": map[string]interface{}{"credits": 100},
	})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body := ts.do(t, "POST", "/api/v1/admin/users", adminTok, map[string]interface{}{
		"action": "adjust_credits", "target_user_id": "user_1", "data": map[string]interface{}{"credits": -20, "reason": "chargeback"},
	})
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, "insufficient_credits", body["error"])

	status, body = ts.do(t, "POST", "/api/v1/admin/users", adminTok, map[string]interface{}{
		"action": "adjust_credits", "target_user_id": "user_1", "data": map[string]interface{}{"credits": 15, "reason": "goodwill"},
	})
	require.Equal(t, fiber.StatusOK, status, body)
	result := body["result"].(map[string]interface{})
	assert.Equal(t, float64(25), result["new_balance"])

	status, _ = ts.do(t, "POST", "/api/v1/admin/users", adminTok, map[string]interface{}{
		"action": "ban", "target_user_id": "user_1", "data": map[string]interface{}{"reason": "abuse"},
	})
	require.Equal(t, fiber.StatusOK, status)

	status, body = ts.do(t, "POST", "/api/v1/ai/process", userTok, process("enhance"))
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "account_suspended", body["error"])

	status, body = ts.do(t, "GET", "/api/v1/admin/users/user_1/audit", adminTok, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["audit_log"], 2)

	status, _ = ts.do(t, "POST", "/api/v1/admin/users", adminTok, map[string]interface{}{
		"action": "delete", "target_user_id": "user_1",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestStripeWebhook(t *testing.T) {
	ts := newTestServer(t)
	testutil.CreateAccount(t, ts.db, "user_1", 0)

	payload := []byte(fmt.Sprintf(`{
  "id": "evt_1",
  "type": "customer.subscription.created",
  "data": {"object": {
    "id": "sub_1", "customer": "cus_1", "status": "active",
    "current_period_start": 1700000000, "current_period_end": 1702592000,
    "items": {"data": [{"price": {"id": "price_pro"}}]},
    "metadata": {"account_id": %q}
  }}
}`, "user_1"))
	sig := billing.StripeSignatureHeader(payload, testWebhookSecret, time.Now())

	status, _ := ts.webhook(t, payload, "t=1,v1=deadbeef")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body := ts.webhook(t, payload, sig)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, body["received"])
	assert.Equal(t, "granted", body["outcome"])

	status, body = ts.webhook(t, payload, sig)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "duplicate", body["outcome"])

	balance, err := ts.svc.Ledger.Balance(t.Context(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	bad := []byte(`{"type": "invoice.payment_succeeded"}`)
	status, _ = ts.webhook(t, bad, billing.StripeSignatureHeader(bad, testWebhookSecret, time.Now()))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["healthy"])

	// Produce at least one counter sample.
	_, _ = ts.do(t, "POST", "/api/v1/ai/process", ts.token(t, "user_1"), process("enhance"))

	resp, err := ts.app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "pixelstudio_ledger_mutations_total")
}
