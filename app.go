package main

import (
	"context"
	"fmt"
	"io"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/causehive/donation-service/clients"
	"github.com/causehive/donation-service/common/logger"
	"github.com/causehive/donation-service/config"
	"github.com/causehive/donation-service/database"
	"github.com/causehive/donation-service/jobs"
	aws_pkg "github.com/causehive/donation-service/pkg/aws"
	"github.com/causehive/donation-service/pkg/kafka"
	"github.com/causehive/donation-service/providers"
	"github.com/causehive/donation-service/repository"
	"github.com/causehive/donation-service/services"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// runtime carries what every subcommand needs before touching storage.
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	awsCfg  sdkaws.Config
	awsOK   bool
	metrics *aws_pkg.MetricsClient
}

// newRuntime loads configuration and builds the logger. role names the
// CloudWatch log stream ("api", "worker", ...).
func newRuntime(ctx context.Context, role string) (*runtime, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	rt := &runtime{cfg: cfg}
	awsCfg, awsErr := aws_pkg.LoadAWSConfig(ctx, nil)
	if awsErr == nil {
		rt.awsCfg, rt.awsOK = awsCfg, true
	}

	var sink io.Writer
	var sinkErr error
	if cfg.CloudWatchEnabled && rt.awsOK {
		cw, err := aws_pkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, role)
		if err != nil {
			sinkErr = err
		} else {
			sink = cw
		}
	}

	rt.logger, err = logger.New(cfg.Env, sink)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	if awsErr != nil {
		rt.logger.Warn("AWS config unavailable, SNS/SQS/CloudWatch disabled", zap.Error(awsErr))
	}
	if sinkErr != nil {
		rt.logger.Warn("CloudWatch Logs unavailable, logging to stdout only", zap.Error(sinkErr))
	}

	if rt.awsOK {
		rt.metrics = aws_pkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)
	}
	return rt, nil
}

func (rt *runtime) openDB(ctx context.Context) (*gorm.DB, error) {
	return database.ConnectPostgres(ctx, rt.cfg.PostgresDSN(), database.DefaultPool, rt.logger)
}

// stack is the fully wired service graph shared by serve and worker.
type stack struct {
	db       *gorm.DB
	redis    *redis.Client
	queue    jobs.Queue
	producer *kafka.Producer

	publisher   services.EventPublisher
	carts       services.CartService
	payments    services.PaymentService
	donations   services.DonationService
	withdrawals services.WithdrawalService
	sweeper     *services.Sweeper
}

func (s *stack) Close() {
	if s.producer != nil {
		_ = s.producer.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	_ = database.Close(s.db)
}

func (rt *runtime) buildStack(ctx context.Context) (*stack, error) {
	cfg, log := rt.cfg, rt.logger

	db, err := rt.openDB(ctx)
	if err != nil {
		return nil, err
	}
	s := &stack{db: db}

	s.redis, err = database.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		s.Close()
		return nil, err
	}

	switch cfg.JobQueueBackend {
	case config.JobBackendSQS:
		if !rt.awsOK {
			s.Close()
			return nil, fmt.Errorf("JOB_QUEUE_BACKEND=sqs requires AWS configuration")
		}
		s.queue = jobs.NewSQSQueue(aws_pkg.NewSQSConsumer(rt.awsCfg, cfg.JobQueueURL, log), log)
	default:
		s.queue = jobs.NewRedisQueue(s.redis, cfg.JobMaxAttempts, log)
	}

	store := repository.NewRedisStore(s.redis)
	switch cfg.EventBackend {
	case config.EventBackendKafka:
		s.producer = kafka.NewProducer(cfg.KafkaBrokers, log)
		s.publisher = services.NewEventPublisher(s.producer, cfg.KafkaDonationTopic, cfg.KafkaWithdrawalTopic, store, log)
	default:
		var transport services.EventTransport
		if rt.awsOK {
			transport = aws_pkg.NewSNSClient(rt.awsCfg)
		}
		s.publisher = services.NewEventPublisher(transport, cfg.DonationSNSTopicARN, cfg.WithdrawalSNSTopicARN, store, log)
	}

	gateway := providers.NewPaystackGateway(cfg.PaystackSecretKey, cfg.PaystackBaseURL, cfg.PaystackCallbackURL, cfg.GatewayTimeout)
	users := clients.NewUserClient(cfg.UserServiceURL, cfg.AdminAPIKey, cfg.CollaboratorTimeout)
	causes := clients.NewCauseClient(cfg.CauseServiceURL, cfg.AdminAPIKey, cfg.CollaboratorTimeout)

	cartRepo := repository.NewGormCartRepository(db)
	checkoutRepo := repository.NewGormCheckoutRepository(db)
	donationRepo := repository.NewGormDonationRepository(db)
	paymentRepo := repository.NewGormPaymentRepository(db)
	withdrawalRepo := repository.NewGormWithdrawalRepository(db)

	s.carts = services.NewCartService(cartRepo, checkoutRepo, store, gateway, causes, users, rt.metrics,
		services.CartServiceConfig{
			Currency:       cfg.DefaultCurrency,
			LockTTL:        cfg.CheckoutLockTTL,
			IdempotencyTTL: cfg.IdempotencyTTL,
		}, log)
	s.payments = services.NewPaymentService(paymentRepo, donationRepo, checkoutRepo, gateway, s.queue, s.publisher, rt.metrics, log)
	s.donations = services.NewDonationService(donationRepo, log)
	s.withdrawals = services.NewWithdrawalService(withdrawalRepo, gateway, users, causes, s.queue, s.publisher, rt.metrics,
		services.WithdrawalServiceConfig{
			Currency:          cfg.DefaultCurrency,
			VerifyDelay:       cfg.TransferVerifyDelay,
			MaxVerifyAttempts: cfg.JobMaxAttempts,
		}, log)
	s.sweeper = services.NewSweeper(donationRepo, cfg.OrphanDonationAge, rt.metrics, log)

	return s, nil
}

// newWorker registers a handler for every job type this service produces.
func (rt *runtime) newWorker(s *stack) *jobs.Worker {
	w := jobs.NewWorker(s.queue, rt.metrics, rt.logger)
	w.Register(jobs.TypeVerifyTransferStatus, s.withdrawals.HandleVerifyJob)
	w.Register(jobs.TypeDonationCompleted, services.DonationCompletedHandler(s.publisher, rt.logger))
	return w
}
