package controllers

import (
	"net/http"

	"github.com/causehive/donation-service/services"
	"github.com/gin-gonic/gin"
)

// DonationController exposes a donor's own ledger entries.
type DonationController struct {
	donationService services.DonationService
}

func NewDonationController(svc services.DonationService) *DonationController {
	return &DonationController{donationService: svc}
}

// ListDonations handles GET /donations/
func (dc *DonationController) ListDonations(ctx *gin.Context) {
	page, limit := parsePaginationParams(ctx)

	donations, total, svcErr := dc.donationService.ListDonations(ctx.Request.Context(), callerFrom(ctx), page, limit)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"donations": donations,
		"meta":      paginationMeta(page, limit, total),
	})
}

// GetDonation handles GET /donations/:id/
func (dc *DonationController) GetDonation(ctx *gin.Context) {
	id, ok := uuidParam(ctx, "id")
	if !ok {
		return
	}

	donation, svcErr := dc.donationService.GetDonation(ctx.Request.Context(), callerFrom(ctx), id)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, donation)
}
