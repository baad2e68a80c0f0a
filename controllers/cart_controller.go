package controllers

import (
	"errors"
	"io"
	"net/http"

	"github.com/causehive/donation-service/models"
	"github.com/causehive/donation-service/services"
	"github.com/gin-gonic/gin"
)

// IdempotencyKeyHeader lets a client retry checkout without a second charge.
const IdempotencyKeyHeader = "Idempotency-Key"

// CartController handles HTTP requests for donation carts.
type CartController struct {
	cartService services.CartService
}

// NewCartController creates a new CartController.
func NewCartController(svc services.CartService) *CartController {
	return &CartController{cartService: svc}
}

// GetCart handles GET /cart/
func (cc *CartController) GetCart(ctx *gin.Context) {
	cartID, ok := optionalUUIDQuery(ctx, "cart_id")
	if !ok {
		return
	}

	cart, svcErr := cc.cartService.GetCart(ctx.Request.Context(), callerFrom(ctx), cartID)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	if cart == nil {
		ctx.JSON(http.StatusOK, gin.H{"message": "No active cart found", "cart": nil, "items": []models.CartItem{}})
		return
	}

	items := cart.Items
	if items == nil {
		items = []models.CartItem{}
	}
	ctx.JSON(http.StatusOK, gin.H{
		"cart_id":      cart.ID,
		"cart":         cart,
		"items":        items,
		"total_amount": cart.Total().StringFixed(2),
	})
}

// AddItem handles POST /cart/add/
func (cc *CartController) AddItem(ctx *gin.Context) {
	var req models.AddToCartRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	cart, item, svcErr := cc.cartService.AddItem(ctx.Request.Context(), callerFrom(ctx), req)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"cart_id": cart.ID, "item": item})
}

// UpdateItem handles PATCH /cart/items/:item_id/
// A quantity of zero or less removes the item and answers 204.
func (cc *CartController) UpdateItem(ctx *gin.Context) {
	itemID, ok := uuidParam(ctx, "item_id")
	if !ok {
		return
	}
	var req models.UpdateCartItemRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	item, svcErr := cc.cartService.UpdateItem(ctx.Request.Context(), callerFrom(ctx), itemID, req)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	if item == nil {
		ctx.Status(http.StatusNoContent)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"item": item})
}

// RemoveItem handles DELETE /cart/items/:item_id/
func (cc *CartController) RemoveItem(ctx *gin.Context) {
	itemID, ok := uuidParam(ctx, "item_id")
	if !ok {
		return
	}
	cartID, ok := optionalUUIDQuery(ctx, "cart_id")
	if !ok {
		return
	}

	if svcErr := cc.cartService.RemoveItem(ctx.Request.Context(), callerFrom(ctx), itemID, cartID); svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// DeleteCart handles DELETE /cart/
func (cc *CartController) DeleteCart(ctx *gin.Context) {
	cartID, ok := optionalUUIDQuery(ctx, "cart_id")
	if !ok {
		return
	}

	if svcErr := cc.cartService.DeleteCart(ctx.Request.Context(), callerFrom(ctx), cartID); svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// Checkout handles POST /cart/checkout/
// Authenticated donors may send an empty body.
func (cc *CartController) Checkout(ctx *gin.Context) {
	var req models.CheckoutRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	resp, svcErr := cc.cartService.Checkout(ctx.Request.Context(), callerFrom(ctx), req, ctx.GetHeader(IdempotencyKeyHeader))
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, resp)
}
