package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/causehive/donation-service/clients"
	"github.com/causehive/donation-service/jobs"
	"github.com/causehive/donation-service/models"
	aws_pkg "github.com/causehive/donation-service/pkg/aws"
	"github.com/causehive/donation-service/providers"
	"github.com/causehive/donation-service/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// WithdrawalService runs organizer payouts: validation, recipient
// registration, transfer initiation and transfer reconciliation.
type WithdrawalService interface {
	RequestWithdrawal(ctx context.Context, caller Caller, req models.CreateWithdrawalRequest) (*models.WithdrawalRequest, *ServiceError)
	VerifyTransfer(ctx context.Context, withdrawalID uuid.UUID) (*models.WithdrawalRequest, *ServiceError)
	Retry(ctx context.Context, withdrawalID uuid.UUID) (*models.WithdrawalRequest, *ServiceError)
	ListForUser(ctx context.Context, caller Caller, page, limit int) ([]models.WithdrawalRequest, int64, *ServiceError)
	GetForUser(ctx context.Context, caller Caller, id uuid.UUID) (*models.WithdrawalRequest, *ServiceError)
	UserStatistics(ctx context.Context, caller Caller) (*models.UserWithdrawalStatistics, *ServiceError)
	List(ctx context.Context, filter models.WithdrawalFilter) ([]models.WithdrawalRequest, int64, *ServiceError)
	Statistics(ctx context.Context) (*models.WithdrawalStatistics, *ServiceError)
	HandleVerifyJob(ctx context.Context, job jobs.Job) error
}

type WithdrawalServiceConfig struct {
	Currency          string
	VerifyDelay       time.Duration
	MaxVerifyAttempts int
}

type withdrawalServiceImpl struct {
	repo      repository.WithdrawalRepository
	gateway   providers.PaymentGateway
	users     clients.UserService
	causes    clients.CauseService
	queue     jobs.Enqueuer
	publisher EventPublisher
	metrics   aws_pkg.MetricsRecorder
	cfg       WithdrawalServiceConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewWithdrawalService(
	repo repository.WithdrawalRepository,
	gateway providers.PaymentGateway,
	users clients.UserService,
	causes clients.CauseService,
	queue jobs.Enqueuer,
	publisher EventPublisher,
	metrics aws_pkg.MetricsRecorder,
	cfg WithdrawalServiceConfig,
	logger *zap.Logger,
) WithdrawalService {
	if cfg.Currency == "" {
		cfg.Currency = models.DefaultCurrency
	}
	if cfg.VerifyDelay <= 0 {
		cfg.VerifyDelay = time.Minute
	}
	if cfg.MaxVerifyAttempts <= 0 {
		cfg.MaxVerifyAttempts = 10
	}
	return &withdrawalServiceImpl{
		repo:      repo,
		gateway:   gateway,
		users:     users,
		causes:    causes,
		queue:     queue,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// RequestWithdrawal validates the request against the user and cause
// services, reserves the amount against the cause balance and starts the
// transfer. Nothing is persisted when validation fails.
func (s *withdrawalServiceImpl) RequestWithdrawal(ctx context.Context, caller Caller, req models.CreateWithdrawalRequest) (*models.WithdrawalRequest, *ServiceError) {
	if !caller.Authenticated() {
		return nil, ValidationError("authentication required")
	}
	userID := *caller.UserID

	if svcErr := checkAmount("amount", req.Amount); svcErr != nil {
		return nil, svcErr
	}

	user, err := s.users.GetUser(ctx, userID, caller.Authorization)
	if err != nil {
		return nil, s.collaboratorError("User", err)
	}
	if !user.Active() {
		return nil, ValidationError("User account is not active.")
	}

	cause, err := s.causes.GetCause(ctx, req.CauseID, caller.Authorization)
	if err != nil {
		return nil, s.collaboratorError("Cause", err)
	}
	organizer, err := cause.Organizer()
	if err != nil || organizer != userID {
		return nil, ValidationError("User is not the organizer of this cause.")
	}
	currency, svcErr := s.withdrawalCurrency(req.Currency, cause)
	if svcErr != nil {
		return nil, svcErr
	}

	method, details, svcErr := s.payoutDetails(ctx, caller, req)
	if svcErr != nil {
		return nil, svcErr
	}
	if err := providers.ValidateDetails(method, details); err != nil {
		return nil, IncompletePaymentDetailsError(err.Error(), err)
	}

	raw, err := json.Marshal(details)
	if err != nil {
		return nil, InternalError("Failed to encode payment details", err)
	}

	w := &models.WithdrawalRequest{
		UserID:               userID,
		CauseID:              req.CauseID,
		Amount:               req.Amount,
		Currency:             currency,
		PaymentMethod:        method,
		PaymentDetails:       datatypes.JSON(raw),
		RecipientFingerprint: RecipientFingerprint(method, details),
	}
	if err := s.repo.CreateWithBalanceCheck(ctx, w, cause.CurrentAmount); err != nil {
		return nil, s.balanceError(err)
	}

	s.record(ctx, aws_pkg.MetricWithdrawalsRequested)
	s.logger.Info("Withdrawal requested",
		zap.String("withdrawal_id", w.ID.String()),
		zap.String("cause_id", w.CauseID.String()),
		zap.String("amount", w.Amount.StringFixed(2)),
		zap.String("payment_method", method),
	)

	if svcErr := s.initiateTransfer(ctx, w, details); svcErr != nil {
		return nil, svcErr
	}
	return w, nil
}

// withdrawalCurrency settles the payout currency. The cause balance is held
// in the cause's currency, so a request for any other one is refused.
func (s *withdrawalServiceImpl) withdrawalCurrency(requested string, cause *clients.Cause) (string, *ServiceError) {
	requested = strings.ToUpper(strings.TrimSpace(requested))
	held := strings.ToUpper(strings.TrimSpace(cause.Currency))
	switch {
	case held == "" && requested == "":
		return s.cfg.Currency, nil
	case held == "":
		return requested, nil
	case requested == "" || requested == held:
		return held, nil
	}
	return "", ValidationError(fmt.Sprintf("currency %s does not match the cause currency %s", requested, held))
}

// Retry re-runs a failed withdrawal. Only failed requests are eligible.
func (s *withdrawalServiceImpl) Retry(ctx context.Context, withdrawalID uuid.UUID) (*models.WithdrawalRequest, *ServiceError) {
	w, svcErr := s.load(ctx, withdrawalID)
	if svcErr != nil {
		return nil, svcErr
	}
	if w.Status != models.WithdrawalStatusFailed {
		return nil, NotFoundError("No failed withdrawal request with this id")
	}

	// Admin calls have no user token; the client's service key authenticates.
	cause, err := s.causes.GetCause(ctx, w.CauseID, "")
	if err != nil {
		return nil, s.collaboratorError("Cause", err)
	}

	if err := s.repo.RetryWithBalanceCheck(ctx, w, cause.CurrentAmount); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, NotFoundError("No failed withdrawal request with this id")
		}
		return nil, s.balanceError(err)
	}

	details, err := w.Details()
	if err != nil {
		return nil, s.fail(ctx, w, "Stored payment details are unreadable", InternalError("Failed to read payment details", err))
	}

	s.logger.Info("Retrying withdrawal", zap.String("withdrawal_id", w.ID.String()), zap.Int("attempts", w.Attempts))
	if svcErr := s.initiateTransfer(ctx, w, details); svcErr != nil {
		return nil, svcErr
	}
	return w, nil
}

func (s *withdrawalServiceImpl) VerifyTransfer(ctx context.Context, withdrawalID uuid.UUID) (*models.WithdrawalRequest, *ServiceError) {
	w, _, svcErr := s.verify(ctx, withdrawalID)
	return w, svcErr
}

// HandleVerifyJob re-enqueues itself while the transfer is pending or the
// gateway is unreachable, up to the attempt limit.
func (s *withdrawalServiceImpl) HandleVerifyJob(ctx context.Context, job jobs.Job) error {
	var payload jobs.VerifyTransferPayload
	if err := job.Decode(&payload); err != nil {
		s.logger.Error("Dropping transfer verification job", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	w, pending, svcErr := s.verify(ctx, payload.WithdrawalID)
	if svcErr != nil {
		switch svcErr.Kind {
		case KindNotFound, KindValidation:
			s.logger.Warn("Transfer verification skipped",
				zap.String("withdrawal_id", payload.WithdrawalID.String()),
				zap.String("reason", svcErr.Message),
			)
			return nil
		}
		pending = true
	}
	if !pending {
		return nil
	}

	if job.Attempt >= s.cfg.MaxVerifyAttempts {
		status := "unknown"
		if w != nil {
			status = w.Status
		}
		s.logger.Error("Transfer still unresolved after max verification attempts",
			zap.String("withdrawal_id", payload.WithdrawalID.String()),
			zap.String("transaction_id", payload.TransactionID),
			zap.Int("attempts", job.Attempt),
			zap.String("status", status),
		)
		return nil
	}
	return s.queue.Enqueue(ctx, job.Next(), s.cfg.VerifyDelay)
}

func (s *withdrawalServiceImpl) ListForUser(ctx context.Context, caller Caller, page, limit int) ([]models.WithdrawalRequest, int64, *ServiceError) {
	if !caller.Authenticated() {
		return nil, 0, ValidationError("authentication required")
	}
	list, total, err := s.repo.ListByUser(ctx, *caller.UserID, page, limit)
	if err != nil {
		s.logger.Error("Failed to list withdrawals", zap.Error(err))
		return nil, 0, InternalError("Failed to list withdrawals", err)
	}
	return list, total, nil
}

func (s *withdrawalServiceImpl) GetForUser(ctx context.Context, caller Caller, id uuid.UUID) (*models.WithdrawalRequest, *ServiceError) {
	w, svcErr := s.load(ctx, id)
	if svcErr != nil {
		return nil, svcErr
	}
	if !ownedBy(&w.UserID, caller) {
		return nil, NotFoundError("Withdrawal request not found")
	}
	return w, nil
}

func (s *withdrawalServiceImpl) UserStatistics(ctx context.Context, caller Caller) (*models.UserWithdrawalStatistics, *ServiceError) {
	if !caller.Authenticated() {
		return nil, ValidationError("authentication required")
	}
	stats, err := s.repo.UserStatistics(ctx, *caller.UserID)
	if err != nil {
		s.logger.Error("Failed to compute withdrawal statistics", zap.Error(err))
		return nil, InternalError("Failed to compute statistics", err)
	}
	return stats, nil
}

func (s *withdrawalServiceImpl) List(ctx context.Context, filter models.WithdrawalFilter) ([]models.WithdrawalRequest, int64, *ServiceError) {
	list, total, err := s.repo.List(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to list withdrawals", zap.Error(err))
		return nil, 0, InternalError("Failed to list withdrawals", err)
	}
	return list, total, nil
}

func (s *withdrawalServiceImpl) Statistics(ctx context.Context) (*models.WithdrawalStatistics, *ServiceError) {
	stats, err := s.repo.Statistics(ctx)
	if err != nil {
		s.logger.Error("Failed to compute withdrawal statistics", zap.Error(err))
		return nil, InternalError("Failed to compute statistics", err)
	}
	return stats, nil
}

// initiateTransfer resolves a gateway recipient and submits the transfer.
// Every failure marks the request failed before returning.
func (s *withdrawalServiceImpl) initiateTransfer(ctx context.Context, w *models.WithdrawalRequest, details map[string]string) *ServiceError {
	code, svcErr := s.resolveRecipient(ctx, w, details)
	if svcErr != nil {
		return s.fail(ctx, w, svcErr.Message, svcErr)
	}
	w.RecipientCode = code

	transfer, err := s.gateway.InitiateTransfer(ctx, providers.TransferRequest{
		Amount:        w.Amount,
		Currency:      w.Currency,
		RecipientCode: code,
		Reason:        fmt.Sprintf("Withdrawal for cause %s", w.CauseID),
	})
	if err != nil {
		msg := gatewayMessage(err)
		s.logger.Warn("Transfer initiation failed", zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
		return s.fail(ctx, w, msg, UpstreamServiceError("Transfer failed: "+msg, err))
	}

	w.TransactionID = transfer.Reference
	if err := s.repo.UpdateFrom(ctx, w, models.WithdrawalStatusProcessing); err != nil {
		s.logger.Error("Transfer initiated but not recorded",
			zap.String("withdrawal_id", w.ID.String()),
			zap.String("reference", transfer.Reference),
			zap.Error(err),
		)
		if errors.Is(err, repository.ErrStaleStatus) {
			return ConflictError("Withdrawal changed while the transfer was being initiated", err)
		}
		return InternalError("Failed to record transfer", err)
	}

	s.logger.Info("Transfer initiated",
		zap.String("withdrawal_id", w.ID.String()),
		zap.String("reference", transfer.Reference),
		zap.String("transfer_status", transfer.Status),
	)
	s.scheduleVerification(ctx, w)
	return nil
}

// resolveRecipient reuses a recipient registered for the same destination.
func (s *withdrawalServiceImpl) resolveRecipient(ctx context.Context, w *models.WithdrawalRequest, details map[string]string) (string, *ServiceError) {
	if w.PaymentMethod == models.PaymentMethodPaystackTransfer {
		code := strings.TrimSpace(details["recipient_code"])
		if code == "" {
			err := &providers.MissingFieldsError{Method: w.PaymentMethod, Fields: []string{"recipient_code"}}
			return "", IncompletePaymentDetailsError(err.Error(), err)
		}
		return code, nil
	}

	if w.RecipientFingerprint == "" {
		w.RecipientFingerprint = RecipientFingerprint(w.PaymentMethod, details)
	}
	if code, err := s.repo.FindReusableRecipient(ctx, w.UserID, w.PaymentMethod, w.RecipientFingerprint); err != nil {
		s.logger.Warn("Recipient lookup failed, registering a new one", zap.Error(err))
	} else if code != "" {
		return code, nil
	}

	req, err := providers.BuildRecipientRequest(w.PaymentMethod, details, w.Currency)
	if err != nil {
		return "", IncompletePaymentDetailsError(err.Error(), err)
	}
	recipient, err := s.gateway.CreateRecipient(ctx, req)
	if err != nil {
		msg := gatewayMessage(err)
		return "", UpstreamServiceError("Failed to create transfer recipient: "+msg, err)
	}
	return recipient.RecipientCode, nil
}

// verify reports pending=true when the gateway has not settled the transfer.
func (s *withdrawalServiceImpl) verify(ctx context.Context, withdrawalID uuid.UUID) (*models.WithdrawalRequest, bool, *ServiceError) {
	w, svcErr := s.load(ctx, withdrawalID)
	if svcErr != nil {
		return nil, false, svcErr
	}
	if w.IsTerminal() {
		return w, false, nil
	}
	if w.TransactionID == "" {
		return w, false, ValidationError("Withdrawal has no transfer to verify")
	}

	v, err := s.gateway.VerifyTransfer(ctx, w.TransactionID)
	if err != nil {
		if providers.IsRejection(err) {
			reason := "Verification failed: " + gatewayMessage(err)
			return w, false, s.settle(ctx, w, false, reason)
		}
		s.logger.Warn("Transfer verification unavailable", zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
		return w, true, UpstreamServiceError("Transfer verification failed: "+gatewayMessage(err), err)
	}

	switch v.Status {
	case providers.TransferStatusSuccess:
		return w, false, s.settle(ctx, w, true, "")
	case providers.TransferStatusFailed, providers.TransferStatusReversed:
		reason := v.FailureReason
		if reason == "" {
			reason = "Transfer " + v.Status
		}
		return w, false, s.settle(ctx, w, false, reason)
	}
	return w, true, nil
}

// settle applies a terminal transfer outcome with a compare-and-swap from
// processing. Losing the race reloads the winner's state.
func (s *withdrawalServiceImpl) settle(ctx context.Context, w *models.WithdrawalRequest, success bool, reason string) *ServiceError {
	at := s.now()
	if success {
		w.MarkAsCompleted(w.TransactionID, at)
	} else {
		w.MarkAsFailed(reason, at)
	}

	if err := s.repo.UpdateFrom(ctx, w, models.WithdrawalStatusProcessing); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			if current, lerr := s.repo.FindByID(ctx, w.ID); lerr == nil {
				*w = *current
			}
			return nil
		}
		s.logger.Error("Failed to settle withdrawal", zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
		return InternalError("Failed to update withdrawal", err)
	}

	if success {
		s.record(ctx, aws_pkg.MetricWithdrawalsCompleted)
	} else {
		s.record(ctx, aws_pkg.MetricWithdrawalsFailed)
	}
	s.logger.Info("Withdrawal settled",
		zap.String("withdrawal_id", w.ID.String()),
		zap.String("status", w.Status),
		zap.String("failure_reason", w.FailureReason),
	)
	s.publishOutcome(ctx, w)
	return nil
}

// fail marks w failed and returns cause unchanged so callers can surface it.
func (s *withdrawalServiceImpl) fail(ctx context.Context, w *models.WithdrawalRequest, reason string, cause *ServiceError) *ServiceError {
	w.MarkAsFailed(reason, s.now())
	if err := s.repo.UpdateFrom(ctx, w, models.WithdrawalStatusProcessing); err != nil {
		s.logger.Error("Failed to mark withdrawal failed", zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
		return cause
	}
	s.record(ctx, aws_pkg.MetricWithdrawalsFailed)
	s.publishOutcome(ctx, w)
	return cause
}

func (s *withdrawalServiceImpl) scheduleVerification(ctx context.Context, w *models.WithdrawalRequest) {
	if s.queue == nil {
		s.logger.Warn("Job queue not configured, transfer verification must be triggered manually",
			zap.String("withdrawal_id", w.ID.String()))
		return
	}
	job, err := jobs.NewJob(jobs.TypeVerifyTransferStatus, jobs.VerifyTransferPayload{
		WithdrawalID:  w.ID,
		TransactionID: w.TransactionID,
	})
	if err == nil {
		err = s.queue.Enqueue(ctx, job, s.cfg.VerifyDelay)
	}
	if err != nil {
		s.logger.Error("Failed to schedule transfer verification", zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
	}
}

func (s *withdrawalServiceImpl) publishOutcome(ctx context.Context, w *models.WithdrawalRequest) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishWithdrawalEvent(ctx, models.NewWithdrawalEvent(w, s.now())); err != nil {
		s.logger.Error("Failed to publish withdrawal event", zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
	}
}

// payoutDetails falls back to the caller's configured withdrawal address
// when the request omits the method or its details.
func (s *withdrawalServiceImpl) payoutDetails(ctx context.Context, caller Caller, req models.CreateWithdrawalRequest) (string, map[string]string, *ServiceError) {
	method := strings.TrimSpace(req.PaymentMethod)
	raw := req.PaymentDetails

	if method == "" || len(raw) == 0 {
		profile, err := s.users.GetProfile(ctx, caller.Authorization)
		var statusErr *clients.StatusError
		if errors.As(err, &statusErr) && statusErr.NotFound() {
			return "", nil, ValidationError("User has not configured withdrawal address.")
		}
		if err != nil {
			return "", nil, s.collaboratorError("User", err)
		}
		profileMethod, profileDetails, err := profile.PayoutDetails()
		if err != nil {
			return "", nil, ValidationError("User has not configured withdrawal address.")
		}
		if method != "" && method != profileMethod {
			return "", nil, IncompletePaymentDetailsError(fmt.Sprintf("payment_details are required for %s", method), nil)
		}
		method = profileMethod
		if len(raw) == 0 {
			raw = profileDetails
		}
	}

	if !models.IsValidPaymentMethod(method) {
		return "", nil, ValidationError("Invalid payment method")
	}
	return method, stringDetails(raw), nil
}

func (s *withdrawalServiceImpl) load(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, *ServiceError) {
	w, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NotFoundError("Withdrawal request not found")
	}
	if err != nil {
		s.logger.Error("Failed to load withdrawal", zap.Error(err))
		return nil, InternalError("Failed to load withdrawal", err)
	}
	return w, nil
}

func (s *withdrawalServiceImpl) collaboratorError(service string, err error) *ServiceError {
	var statusErr *clients.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.NotFound() {
			return ValidationError(fmt.Sprintf("%s not found in %s service.", service, strings.ToLower(service)))
		}
		return UpstreamServiceError(fmt.Sprintf("%s service error: %s", service, statusErr.Error()), err)
	}
	s.logger.Warn("Collaborator call failed", zap.String("service", service), zap.Error(err))
	return UpstreamServiceError(service+" service is not reachable.", err)
}

func (s *withdrawalServiceImpl) balanceError(err error) *ServiceError {
	var balanceErr *repository.InsufficientBalanceError
	if errors.As(err, &balanceErr) {
		return ValidationError(fmt.Sprintf("Withdrawal amount (%s) exceeds available balance (%s)",
			balanceErr.Requested.StringFixed(2), balanceErr.Available.StringFixed(2)))
	}
	s.logger.Error("Failed to persist withdrawal", zap.Error(err))
	return InternalError("Failed to save withdrawal request", err)
}

func (s *withdrawalServiceImpl) record(ctx context.Context, metric string) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.RecordCount(ctx, metric, nil); err != nil {
		s.logger.Debug("Failed to record metric", zap.String("metric", metric), zap.Error(err))
	}
}

// RecipientFingerprint identifies a payout destination independently of
// formatting: bank code plus account number, provider plus phone digits, or
// the supplied recipient code.
func RecipientFingerprint(method string, details map[string]string) string {
	var key string
	switch method {
	case models.PaymentMethodBankTransfer:
		key = "bank:" + strings.TrimSpace(details["bank_code"]) + ":" + digits(details["account_number"])
	case models.PaymentMethodMobileMoney:
		provider, ok := providers.MobileMoneyProviderCode(details["provider"])
		if !ok {
			provider = strings.ToUpper(strings.TrimSpace(details["provider"]))
		}
		key = "momo:" + provider + ":" + digits(details["phone_number"])
	default:
		key = "rcp:" + strings.TrimSpace(details["recipient_code"])
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stringDetails(raw map[string]interface{}) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
