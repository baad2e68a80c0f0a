package routes

import (
	"net/http"

	"github.com/causehive/donation-service/controllers"
	"github.com/causehive/donation-service/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Controllers groups every HTTP handler set the API exposes.
type Controllers struct {
	Cart            *controllers.CartController
	Payment         *controllers.PaymentController
	Donation        *controllers.DonationController
	Withdrawal      *controllers.WithdrawalController
	AdminWithdrawal *controllers.AdminWithdrawalController
}

type Options struct {
	Tokens      middleware.TokenValidator
	AdminAPIKey string
	// RateLimit is applied to every route except /health and the gateway webhook.
	RateLimit gin.HandlerFunc
	Logger    *zap.Logger
}

// Register mounts the donation API on r.
func Register(r *gin.Engine, c Controllers, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "donation-service"})
	})

	// Gateway-originated; authenticated by signature, never rate limited.
	r.POST("/payments/webhook/", c.Payment.Webhook)

	limited := r.Group("/")
	if opts.RateLimit != nil {
		limited.Use(opts.RateLimit)
	}

	admin := limited.Group("/admin/withdrawals")
	admin.Use(middleware.AdminKey(opts.AdminAPIKey))
	{
		admin.GET("/", c.AdminWithdrawal.ListWithdrawals)
		admin.GET("/statistics/", c.AdminWithdrawal.Statistics)
		admin.PUT("/:id/retry/", c.AdminWithdrawal.RetryWithdrawal)
		admin.POST("/:id/verify/", c.AdminWithdrawal.VerifyWithdrawal)
	}

	api := limited.Group("/")
	api.Use(middleware.Identity(opts.Tokens, logger))

	// Anonymous donors may use the cart; identity is optional here.
	cart := api.Group("/cart")
	{
		cart.GET("/", c.Cart.GetCart)
		cart.DELETE("/", c.Cart.DeleteCart)
		cart.POST("/add/", c.Cart.AddItem)
		cart.PATCH("/items/:item_id/", c.Cart.UpdateItem)
		cart.DELETE("/items/:item_id/", c.Cart.RemoveItem)
		cart.POST("/checkout/", c.Cart.Checkout)
	}

	api.GET("/payments/verify/:reference/", c.Payment.VerifyPayment)

	authed := api.Group("/")
	authed.Use(middleware.RequireUser())
	{
		authed.POST("/payments/initiate/", c.Payment.InitiatePayment)
		authed.GET("/payments/:id/", c.Payment.GetPayment)

		authed.GET("/donations/", c.Donation.ListDonations)
		authed.GET("/donations/:id/", c.Donation.GetDonation)

		authed.POST("/withdrawals/", c.Withdrawal.CreateWithdrawal)
		authed.GET("/withdrawals/", c.Withdrawal.ListWithdrawals)
		authed.GET("/withdrawals/statistics/", c.Withdrawal.Statistics)
		authed.GET("/withdrawals/:id/", c.Withdrawal.GetWithdrawal)
	}
}
