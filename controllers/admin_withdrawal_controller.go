package controllers

import (
	"net/http"

	"github.com/causehive/donation-service/models"
	"github.com/causehive/donation-service/services"
	"github.com/gin-gonic/gin"
)

// AdminWithdrawalController serves the admin service. Every route sits
// behind the admin API key.
type AdminWithdrawalController struct {
	withdrawalService services.WithdrawalService
}

func NewAdminWithdrawalController(svc services.WithdrawalService) *AdminWithdrawalController {
	return &AdminWithdrawalController{withdrawalService: svc}
}

// ListWithdrawals handles GET /admin/withdrawals/
func (ac *AdminWithdrawalController) ListWithdrawals(ctx *gin.Context) {
	page, limit := parsePaginationParams(ctx)
	causeID, ok := optionalUUIDQuery(ctx, "cause_id")
	if !ok {
		return
	}
	userID, ok := optionalUUIDQuery(ctx, "user_id")
	if !ok {
		return
	}

	filter := models.WithdrawalFilter{
		Status:        ctx.Query("status"),
		PaymentMethod: ctx.Query("payment_method"),
		CauseID:       causeID,
		UserID:        userID,
		Search:        ctx.Query("search"),
		Ordering:      ctx.Query("ordering"),
		Page:          page,
		Limit:         limit,
	}

	list, total, svcErr := ac.withdrawalService.List(ctx.Request.Context(), filter)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"withdrawals": list,
		"meta":        paginationMeta(page, limit, total),
	})
}

// Statistics handles GET /admin/withdrawals/statistics/
func (ac *AdminWithdrawalController) Statistics(ctx *gin.Context) {
	stats, svcErr := ac.withdrawalService.Statistics(ctx.Request.Context())
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, stats)
}

// RetryWithdrawal handles PUT /admin/withdrawals/:id/retry/
// Only failed requests can be retried; anything else is a 404.
func (ac *AdminWithdrawalController) RetryWithdrawal(ctx *gin.Context) {
	id, ok := uuidParam(ctx, "id")
	if !ok {
		return
	}

	withdrawal, svcErr := ac.withdrawalService.Retry(ctx.Request.Context(), id)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, withdrawal)
}

// VerifyWithdrawal handles POST /admin/withdrawals/:id/verify/
func (ac *AdminWithdrawalController) VerifyWithdrawal(ctx *gin.Context) {
	id, ok := uuidParam(ctx, "id")
	if !ok {
		return
	}

	withdrawal, svcErr := ac.withdrawalService.VerifyTransfer(ctx.Request.Context(), id)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, withdrawal)
}
