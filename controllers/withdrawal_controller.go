package controllers

import (
	"net/http"

	"github.com/causehive/donation-service/models"
	"github.com/causehive/donation-service/services"
	"github.com/gin-gonic/gin"
)

// WithdrawalController serves organizers requesting payouts.
type WithdrawalController struct {
	withdrawalService services.WithdrawalService
}

// NewWithdrawalController creates a new WithdrawalController.
func NewWithdrawalController(svc services.WithdrawalService) *WithdrawalController {
	return &WithdrawalController{withdrawalService: svc}
}

// CreateWithdrawal handles POST /withdrawals/
// The request row is kept even when the transfer is rejected; the 400 then
// carries the gateway message.
func (wc *WithdrawalController) CreateWithdrawal(ctx *gin.Context) {
	var req models.CreateWithdrawalRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	withdrawal, svcErr := wc.withdrawalService.RequestWithdrawal(ctx.Request.Context(), callerFrom(ctx), req)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusCreated, withdrawal)
}

// ListWithdrawals handles GET /withdrawals/
func (wc *WithdrawalController) ListWithdrawals(ctx *gin.Context) {
	page, limit := parsePaginationParams(ctx)

	list, total, svcErr := wc.withdrawalService.ListForUser(ctx.Request.Context(), callerFrom(ctx), page, limit)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"withdrawals": list,
		"meta":        paginationMeta(page, limit, total),
	})
}

// GetWithdrawal handles GET /withdrawals/:id/
func (wc *WithdrawalController) GetWithdrawal(ctx *gin.Context) {
	id, ok := uuidParam(ctx, "id")
	if !ok {
		return
	}

	withdrawal, svcErr := wc.withdrawalService.GetForUser(ctx.Request.Context(), callerFrom(ctx), id)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, withdrawal)
}

// Statistics handles GET /withdrawals/statistics/
func (wc *WithdrawalController) Statistics(ctx *gin.Context) {
	stats, svcErr := wc.withdrawalService.UserStatistics(ctx.Request.Context(), callerFrom(ctx))
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, stats)
}
