package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/causehive/donation-service/common/auth"
	apperrors "github.com/causehive/donation-service/common/errors"
	commonmw "github.com/causehive/donation-service/common/middleware"
	"github.com/causehive/donation-service/controllers"
	"github.com/causehive/donation-service/middleware"
	"github.com/causehive/donation-service/routes"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const serviceName = "donation-service"

var serveWithWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API on $PORT.

Transfer verification and event publication run in the worker; pass
--with-worker to consume the job queue in the same process (local setups).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "also consume the job queue in this process")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, "api")
	if err != nil {
		return err
	}
	logger := rt.logger
	defer logger.Sync() //nolint:errcheck

	s, err := rt.buildStack(ctx)
	if err != nil {
		logger.Error("Failed to initialise dependencies", zap.Error(err))
		return err
	}
	defer s.Close()

	if serveWithWorker {
		worker := rt.newWorker(s)
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Worker stopped", zap.Error(err))
			}
		}()
		go worker.RunPeriodic(ctx, "orphan-sweep", rt.cfg.SweepInterval, s.sweeper.Run)
	}

	limiter := commonmw.NewRateLimiter(rate.Limit(float64(rt.cfg.RateLimitPerMinute)/60), rt.cfg.RateLimitPerMinute, 10*time.Minute)
	go limiter.RunCleanup(ctx.Done())

	if rt.cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(commonmw.RequestID())
	r.Use(commonmw.RequestLogger(logger))
	r.Use(apperrors.ErrorMiddleware(logger))
	r.Use(commonmw.SecurityHeaders())
	r.Use(commonmw.CORSMiddleware(rt.cfg.AllowedOrigins))
	r.Use(commonmw.MetricsMiddleware(rt.metrics, serviceName))
	r.Use(commonmw.Timeout(30 * time.Second))

	var tokens middleware.TokenValidator
	if rt.cfg.JWTSecret != "" {
		tokens = auth.NewTokenParser(rt.cfg.JWTSecret)
	}
	if rt.cfg.AdminAPIKey == "" {
		logger.Warn("ADMIN_SERVICE_API_KEY not set, admin routes will reject every request")
	}

	routes.Register(r, routes.Controllers{
		Cart: controllers.NewCartController(s.carts),
		Payment: controllers.NewPaymentController(s.payments, controllers.WebhookOptions{
			SecretKey:       rt.cfg.PaystackSecretKey,
			VerifySignature: rt.cfg.VerifyWebhookSignature,
		}, logger),
		Donation:        controllers.NewDonationController(s.donations),
		Withdrawal:      controllers.NewWithdrawalController(s.withdrawals),
		AdminWithdrawal: controllers.NewAdminWithdrawalController(s.withdrawals),
	}, routes.Options{
		Tokens:      tokens,
		AdminAPIKey: rt.cfg.AdminAPIKey,
		RateLimit:   commonmw.RateLimitMiddleware(limiter),
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:    ":" + rt.cfg.Port,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("Donation service started", zap.String("port", rt.cfg.Port), zap.String("env", rt.cfg.Env))

	select {
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
		return err
	case <-ctx.Done():
	}
	logger.Info("Shutting down donation service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}
	logger.Info("Server exited cleanly")
	return nil
}
