package controllers_test

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/causehive/donation-service/controllers"
	"github.com/causehive/donation-service/models"
	"github.com/causehive/donation-service/providers"
	"github.com/causehive/donation-service/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

const webhookSecret = "sk_test_webhook"

func setupPaymentRouter(svc services.PaymentService, verifySignature bool) *gin.Engine {
	r := newEngine()
	c := controllers.NewPaymentController(svc, controllers.WebhookOptions{
		SecretKey:       webhookSecret,
		VerifySignature: verifySignature,
	}, zap.NewNop())

	r.POST("/payments/initiate/", c.InitiatePayment)
	r.POST("/payments/webhook/", c.Webhook)
	r.GET("/payments/verify/:reference/", c.VerifyPayment)
	r.GET("/payments/:id/", c.GetPayment)
	return r
}

func settled(status string) *models.ReconcileResult {
	return &models.ReconcileResult{Payment: &models.PaymentTransaction{ID: uuid.New(), Status: status}}
}

func webhookRequest(body []byte, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(providers.SignatureHeader, signature)
	}
	return req
}

func TestVerifyPayment(t *testing.T) {
	t.Run("Completed", func(t *testing.T) {
		svc := &mockPaymentSvc{result: settled(models.PaymentStatusCompleted)}
		r := setupPaymentRouter(svc, true)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/verify/R1/", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"message":"Payment verified and updated successfully"}`, w.Body.String())
		assert.Equal(t, "R1", svc.lastReference)
	})

	t.Run("Failed", func(t *testing.T) {
		r := setupPaymentRouter(&mockPaymentSvc{result: settled(models.PaymentStatusFailed)}, true)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/verify/R1/", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"Payment not successful"}`, w.Body.String())
	})

	t.Run("Unknown reference", func(t *testing.T) {
		r := setupPaymentRouter(&mockPaymentSvc{err: services.TransactionNotFoundError("R9")}, true)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/verify/R9/", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Transaction not found: R9")
	})
}

func TestWebhook_SignedPayload(t *testing.T) {
	svc := &mockPaymentSvc{result: settled(models.PaymentStatusCompleted)}
	r := setupPaymentRouter(svc, true)
	body := []byte(`{"event":"charge.success","data":{"reference":"R1","status":"success"}}`)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, webhookRequest(body, providers.SignWebhook(webhookSecret, body)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success"}`, w.Body.String())
	assert.Equal(t, "charge.success", svc.lastEvent.Event)
	assert.Equal(t, "R1", svc.lastEvent.Data.Reference)
}

func TestWebhook_InvalidSignature(t *testing.T) {
	svc := &mockPaymentSvc{result: settled(models.PaymentStatusCompleted)}
	r := setupPaymentRouter(svc, true)
	body := []byte(`{"event":"charge.success","data":{"reference":"R1"}}`)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, webhookRequest(body, providers.SignWebhook("someone-else", body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, webhookRequest(body, ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, 0, svc.webhookCalls)
}

func TestWebhook_SignatureCheckDisabled(t *testing.T) {
	svc := &mockPaymentSvc{result: settled(models.PaymentStatusFailed)}
	r := setupPaymentRouter(svc, false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, webhookRequest([]byte(`{"event":"charge.failed","data":{"reference":"R2"}}`), ""))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, svc.webhookCalls)
}

func TestWebhook_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    *services.ServiceError
		status int
	}{
		{"Malformed JSON", `{"event":`, nil, http.StatusBadRequest},
		{"Missing reference", `{"event":"charge.success","data":{}}`, services.MalformedWebhookError("Webhook payload is missing data.reference"), http.StatusBadRequest},
		{"Unknown reference", `{"event":"charge.success","data":{"reference":"R9"}}`, services.TransactionNotFoundError("R9"), http.StatusBadRequest},
		{"Gateway unreachable", `{"event":"charge.success","data":{"reference":"R1"}}`, services.UpstreamServiceError("Payment verification failed", errors.New("timeout")), http.StatusBadRequest},
		{"Storage failure", `{"event":"charge.success","data":{"reference":"R1"}}`, services.InternalError("Failed to reconcile payment", errors.New("db down")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := setupPaymentRouter(&mockPaymentSvc{err: tc.err}, false)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, webhookRequest([]byte(tc.body), ""))

			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestWebhook_ConflictStillAcknowledged(t *testing.T) {
	result := settled(models.PaymentStatusCompleted)
	result.Conflict = true
	r := setupPaymentRouter(&mockPaymentSvc{result: result}, false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, webhookRequest([]byte(`{"event":"charge.failed","data":{"reference":"R1"}}`), ""))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success"}`, w.Body.String())
}

func TestInitiatePayment(t *testing.T) {
	donationID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		svc := &mockPaymentSvc{checkout: &models.CheckoutResponse{Reference: "R3", TotalAmount: "20.00", AuthorizationURL: "https://checkout.paystack.com/r3"}}
		r := setupPaymentRouter(svc, true)

		req := jsonRequest(http.MethodPost, "/payments/initiate/", map[string]string{"email": "donor@example.com", "donation_id": donationID.String()})
		req.Header.Set("X-User-ID", uuid.NewString())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"reference":"R3"`)
	})

	t.Run("Invalid email", func(t *testing.T) {
		r := setupPaymentRouter(&mockPaymentSvc{}, true)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, jsonRequest(http.MethodPost, "/payments/initiate/", map[string]string{"email": "nope", "donation_id": donationID.String()}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Gateway rejection", func(t *testing.T) {
		r := setupPaymentRouter(&mockPaymentSvc{err: services.PaymentInitiationError("Invalid key", nil)}, true)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, jsonRequest(http.MethodPost, "/payments/initiate/", map[string]string{"email": "donor@example.com", "donation_id": donationID.String()}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"Invalid key"}`, w.Body.String())
	})
}

func TestGetPayment(t *testing.T) {
	id := uuid.New()
	r := setupPaymentRouter(&mockPaymentSvc{payment: &models.PaymentTransaction{ID: id, TransactionID: "R1", Status: models.PaymentStatusPending}}, true)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/"+id.String()+"/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/not-a-uuid/", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
