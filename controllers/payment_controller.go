package controllers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/causehive/donation-service/common/errors"
	"github.com/causehive/donation-service/models"
	"github.com/causehive/donation-service/providers"
	"github.com/causehive/donation-service/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WebhookOptions controls how gateway callbacks are authenticated.
type WebhookOptions struct {
	SecretKey       string
	VerifySignature bool
}

// PaymentController handles charge initiation and reconciliation.
type PaymentController struct {
	paymentService services.PaymentService
	webhook        WebhookOptions
	logger         *zap.Logger
}

// NewPaymentController creates a new PaymentController.
func NewPaymentController(svc services.PaymentService, webhook WebhookOptions, logger *zap.Logger) *PaymentController {
	return &PaymentController{paymentService: svc, webhook: webhook, logger: logger}
}

// InitiatePayment handles POST /payments/initiate/
func (pc *PaymentController) InitiatePayment(ctx *gin.Context) {
	var req models.InitiatePaymentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	resp, svcErr := pc.paymentService.InitiatePayment(ctx.Request.Context(), callerFrom(ctx), req)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, resp)
}

// VerifyPayment handles GET /payments/verify/:reference/
func (pc *PaymentController) VerifyPayment(ctx *gin.Context) {
	result, svcErr := pc.paymentService.Verify(ctx.Request.Context(), ctx.Param("reference"))
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	if result.Payment == nil || result.Payment.Status != models.PaymentStatusCompleted {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Payment not successful"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Payment verified and updated successfully"})
}

// Webhook handles POST /payments/webhook/
// Replays and gateway disagreements with a settled payment still answer 200
// so the gateway stops redelivering; storage failures answer 500 so it retries.
func (pc *PaymentController) Webhook(ctx *gin.Context) {
	body, err := ctx.GetRawData()
	if err != nil {
		_ = ctx.Error(apperrors.New(http.StatusBadRequest, "Unable to read request body", err))
		return
	}

	if pc.webhook.VerifySignature &&
		!providers.ValidWebhookSignature(pc.webhook.SecretKey, body, ctx.GetHeader(providers.SignatureHeader)) {
		pc.logger.Warn("Rejected webhook with invalid signature", zap.String("ip", ctx.ClientIP()))
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	var event models.PaystackWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	result, svcErr := pc.paymentService.HandleWebhook(ctx.Request.Context(), event)
	if svcErr != nil {
		pc.logger.Warn("Webhook not applied",
			zap.String("event", event.Event),
			zap.String("reference", event.Data.Reference),
			zap.String("kind", string(svcErr.Kind)),
			zap.String("error", svcErr.Message),
		)
		respondError(ctx, svcErr)
		return
	}

	if result.Conflict {
		pc.logger.Warn("Webhook disagreed with settled payment",
			zap.String("reference", event.Data.Reference),
			zap.String("stored_status", result.Payment.Status),
		)
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetPayment handles GET /payments/:id/
func (pc *PaymentController) GetPayment(ctx *gin.Context) {
	id, ok := uuidParam(ctx, "id")
	if !ok {
		return
	}

	payment, svcErr := pc.paymentService.GetPayment(ctx.Request.Context(), callerFrom(ctx), id)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, payment)
}
