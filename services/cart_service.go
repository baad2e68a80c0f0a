package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/causehive/donation-service/clients"
	"github.com/causehive/donation-service/models"
	aws_pkg "github.com/causehive/donation-service/pkg/aws"
	"github.com/causehive/donation-service/providers"
	"github.com/causehive/donation-service/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const idempotencyScopeCheckout = "checkout"

// CartService covers the cart surface and the checkout that turns a cart
// into pending donations plus one gateway charge.
type CartService interface {
	GetCart(ctx context.Context, caller Caller, cartID *uuid.UUID) (*models.Cart, *ServiceError)
	AddItem(ctx context.Context, caller Caller, req models.AddToCartRequest) (*models.Cart, *models.CartItem, *ServiceError)
	UpdateItem(ctx context.Context, caller Caller, itemID uuid.UUID, req models.UpdateCartItemRequest) (*models.CartItem, *ServiceError)
	RemoveItem(ctx context.Context, caller Caller, itemID uuid.UUID, cartID *uuid.UUID) *ServiceError
	DeleteCart(ctx context.Context, caller Caller, cartID *uuid.UUID) *ServiceError
	Checkout(ctx context.Context, caller Caller, req models.CheckoutRequest, idempotencyKey string) (*models.CheckoutResponse, *ServiceError)
}

type CartServiceConfig struct {
	Currency       string
	LockTTL        time.Duration
	IdempotencyTTL time.Duration
}

type cartServiceImpl struct {
	carts    repository.CartRepository
	checkout repository.CheckoutRepository
	store    repository.KeyValueStore
	gateway  providers.PaymentGateway
	causes   clients.CauseService
	users    clients.UserService
	metrics  aws_pkg.MetricsRecorder
	cfg      CartServiceConfig
	logger   *zap.Logger
}

func NewCartService(
	carts repository.CartRepository,
	checkout repository.CheckoutRepository,
	store repository.KeyValueStore,
	gateway providers.PaymentGateway,
	causes clients.CauseService,
	users clients.UserService,
	metrics aws_pkg.MetricsRecorder,
	cfg CartServiceConfig,
	logger *zap.Logger,
) CartService {
	if cfg.Currency == "" {
		cfg.Currency = models.DefaultCurrency
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	return &cartServiceImpl{
		carts:    carts,
		checkout: checkout,
		store:    store,
		gateway:  gateway,
		causes:   causes,
		users:    users,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
	}
}

// GetCart returns nil without error when an anonymous caller has no cart.
func (s *cartServiceImpl) GetCart(ctx context.Context, caller Caller, cartID *uuid.UUID) (*models.Cart, *ServiceError) {
	if caller.Authenticated() {
		cart, err := s.carts.GetOrCreateActive(ctx, *caller.UserID)
		if err != nil {
			s.logger.Error("Failed to load cart", zap.Error(err))
			return nil, InternalError("Failed to load cart", err)
		}
		return cart, nil
	}

	if cartID == nil {
		return nil, nil
	}
	cart, svcErr := s.loadAnonymousCart(ctx, *cartID)
	if svcErr != nil {
		if svcErr.Kind == KindNotFound {
			return nil, nil
		}
		return nil, svcErr
	}
	return cart, nil
}

func (s *cartServiceImpl) AddItem(ctx context.Context, caller Caller, req models.AddToCartRequest) (*models.Cart, *models.CartItem, *ServiceError) {
	if svcErr := checkAmount("donation_amount", req.DonationAmount); svcErr != nil {
		return nil, nil, svcErr
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	if quantity < 1 {
		return nil, nil, ValidationError("quantity must be at least 1")
	}

	if _, svcErr := s.lookupCause(ctx, req.CauseID, caller.Authorization); svcErr != nil {
		return nil, nil, svcErr
	}

	var cart *models.Cart
	var err error
	switch {
	case caller.Authenticated():
		cart, err = s.carts.GetOrCreateActive(ctx, *caller.UserID)
	case req.CartID != nil:
		var svcErr *ServiceError
		cart, svcErr = s.loadAnonymousCart(ctx, *req.CartID)
		if svcErr != nil && svcErr.Kind != KindNotFound {
			return nil, nil, svcErr
		}
		if cart == nil {
			cart, err = s.carts.CreateAnonymous(ctx)
		}
	default:
		cart, err = s.carts.CreateAnonymous(ctx)
	}
	if err != nil {
		s.logger.Error("Failed to resolve cart", zap.Error(err))
		return nil, nil, InternalError("Failed to resolve cart", err)
	}

	item, err := s.carts.AddItem(ctx, cart.ID, req.CauseID, req.DonationAmount, quantity)
	if err != nil {
		return nil, nil, s.cartWriteError("Failed to add item to cart", err)
	}

	s.logger.Info("Cart item added",
		zap.String("cart_id", cart.ID.String()),
		zap.String("cause_id", req.CauseID.String()),
		zap.Int("quantity", item.Quantity),
	)
	return cart, item, nil
}

// UpdateItem returns a nil item when the quantity removed it.
func (s *cartServiceImpl) UpdateItem(ctx context.Context, caller Caller, itemID uuid.UUID, req models.UpdateCartItemRequest) (*models.CartItem, *ServiceError) {
	if req.Quantity == nil {
		return nil, ValidationError("quantity is required")
	}
	cart, svcErr := s.callerCart(ctx, caller, req.CartID)
	if svcErr != nil {
		return nil, svcErr
	}

	item, err := s.carts.SetItemQuantity(ctx, cart.ID, itemID, *req.Quantity)
	if err != nil {
		return nil, s.cartWriteError("Failed to update cart item", err)
	}
	return item, nil
}

func (s *cartServiceImpl) RemoveItem(ctx context.Context, caller Caller, itemID uuid.UUID, cartID *uuid.UUID) *ServiceError {
	cart, svcErr := s.callerCart(ctx, caller, cartID)
	if svcErr != nil {
		return svcErr
	}
	if err := s.carts.RemoveItem(ctx, cart.ID, itemID); err != nil {
		return s.cartWriteError("Failed to remove cart item", err)
	}
	return nil
}

func (s *cartServiceImpl) DeleteCart(ctx context.Context, caller Caller, cartID *uuid.UUID) *ServiceError {
	cart, svcErr := s.callerCart(ctx, caller, cartID)
	if svcErr != nil {
		return svcErr
	}
	if err := s.carts.Delete(ctx, cart.ID); err != nil {
		return s.cartWriteError("Failed to delete cart", err)
	}
	s.logger.Info("Cart deleted", zap.String("cart_id", cart.ID.String()))
	return nil
}

// Checkout creates one pending donation per item and initializes a single
// gateway charge for their total. Cause lookups happen before any write, so
// a collaborator failure leaves nothing behind. When the charge cannot be
// initialized the donations are failed and the cart stays active.
func (s *cartServiceImpl) Checkout(ctx context.Context, caller Caller, req models.CheckoutRequest, idempotencyKey string) (*models.CheckoutResponse, *ServiceError) {
	idemKey := s.idempotencyKey(caller, req.CartID, idempotencyKey)
	if idemKey != "" {
		if cached, ok := s.replay(ctx, idemKey); ok {
			return cached, nil
		}
	}

	cart, svcErr := s.callerCart(ctx, caller, req.CartID)
	if svcErr != nil {
		if svcErr.Kind == KindNotFound && caller.Authenticated() {
			return nil, EmptyCartError()
		}
		return nil, svcErr
	}

	if len(cart.Items) == 0 {
		return nil, EmptyCartError()
	}
	for _, item := range cart.Items {
		if providers.ValidateAmount(item.DonationAmount) != nil || item.Quantity < 1 {
			return nil, ValidationError(fmt.Sprintf("Cart item %s has an invalid amount", item.ID))
		}
	}

	recipients, svcErr := s.resolveRecipients(ctx, cart.Items, caller.Authorization)
	if svcErr != nil {
		return nil, svcErr
	}

	email, svcErr := s.resolveEmail(ctx, caller, req.Email)
	if svcErr != nil {
		return nil, svcErr
	}

	if s.store != nil {
		release, err := s.store.AcquireLock(ctx, "checkout:"+cart.ID.String(), s.cfg.LockTTL)
		if errors.Is(err, repository.ErrLockHeld) {
			return nil, ConflictError("Checkout already in progress for this cart", err)
		}
		if err != nil {
			s.logger.Error("Failed to acquire checkout lock", zap.Error(err))
			return nil, InternalError("Failed to start checkout", err)
		}
		defer release()
	}

	total := decimal.Zero
	donations := make([]models.Donation, 0, len(cart.Items))
	for _, item := range cart.Items {
		subtotal := item.Subtotal()
		total = total.Add(subtotal)
		donations = append(donations, models.Donation{
			UserID:      cart.UserID,
			CauseID:     item.CauseID,
			Amount:      subtotal,
			Currency:    s.cfg.Currency,
			Status:      models.DonationStatusPending,
			RecipientID: recipients[item.CauseID],
		})
	}

	donations, err := s.checkout.CreateCheckoutDonations(ctx, cart.ID, cart.Items, donations)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrCartChanged):
			return nil, ConflictError("Cart changed during checkout, please review it and try again", err)
		case errors.Is(err, repository.ErrCartNotActive):
			return nil, ConflictError("Cart has already been checked out", err)
		}
		s.logger.Error("Failed to create checkout donations", zap.Error(err))
		return nil, InternalError("Failed to create donations", err)
	}

	donationIDs := make([]uuid.UUID, len(donations))
	for i, d := range donations {
		donationIDs[i] = d.ID
	}

	charge, err := s.gateway.InitializeCharge(ctx, providers.ChargeRequest{
		Email:    email,
		Amount:   total,
		Currency: s.cfg.Currency,
		Metadata: map[string]string{"cart_id": cart.ID.String()},
	})
	if err != nil {
		s.failCheckout(ctx, donationIDs, gatewayMessage(err))
		return nil, chargeError(err)
	}

	payment := &models.PaymentTransaction{
		DonationID:       donations[0].ID,
		UserID:           cart.UserID,
		Email:            email,
		Amount:           total,
		Currency:         s.cfg.Currency,
		TransactionID:    charge.Reference,
		Status:           models.PaymentStatusPending,
		PaymentMethod:    models.PaymentMethodPaystack,
		AuthorizationURL: charge.AuthorizationURL,
	}
	if err := s.checkout.AttachPayment(ctx, &cart.ID, payment, donationIDs); err != nil {
		s.logger.Error("Failed to record payment transaction",
			zap.String("reference", charge.Reference),
			zap.Error(err),
		)
		s.failCheckout(ctx, donationIDs, "payment record could not be saved")
		if errors.Is(err, repository.ErrDuplicateReference) {
			return nil, ConflictError("Payment reference already recorded", err)
		}
		return nil, InternalError("Failed to record payment", err)
	}

	s.record(ctx, aws_pkg.MetricCartCheckouts)
	s.logger.Info("Checkout completed",
		zap.String("cart_id", cart.ID.String()),
		zap.String("reference", charge.Reference),
		zap.Int("donations", len(donations)),
		zap.String("total", total.StringFixed(2)),
	)

	resp := &models.CheckoutResponse{
		AuthorizationURL: charge.AuthorizationURL,
		Reference:        charge.Reference,
		TotalAmount:      total.StringFixed(2),
		PaymentID:        payment.ID,
	}
	if idemKey != "" {
		s.remember(ctx, idemKey, resp)
	}
	return resp, nil
}

// callerCart returns the caller's active cart. Anonymous callers must name it.
func (s *cartServiceImpl) callerCart(ctx context.Context, caller Caller, cartID *uuid.UUID) (*models.Cart, *ServiceError) {
	if caller.Authenticated() {
		cart, err := s.carts.FindActiveByUser(ctx, *caller.UserID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NotFoundError("No active cart found")
		}
		if err != nil {
			s.logger.Error("Failed to load cart", zap.Error(err))
			return nil, InternalError("Failed to load cart", err)
		}
		return cart, nil
	}
	if cartID == nil {
		return nil, ValidationError("cart_id is required for anonymous users")
	}
	return s.loadAnonymousCart(ctx, *cartID)
}

func (s *cartServiceImpl) loadAnonymousCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, *ServiceError) {
	cart, err := s.carts.FindByID(ctx, cartID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NotFoundError("Cart not found")
	}
	if err != nil {
		s.logger.Error("Failed to load cart", zap.Error(err))
		return nil, InternalError("Failed to load cart", err)
	}
	if !cart.IsAnonymous() || cart.Status != models.CartStatusActive {
		return nil, NotFoundError("Cart not found")
	}
	return cart, nil
}

func (s *cartServiceImpl) lookupCause(ctx context.Context, causeID uuid.UUID, auth string) (*clients.Cause, *ServiceError) {
	cause, err := s.causes.GetCause(ctx, causeID, auth)
	if err != nil {
		var statusErr *clients.StatusError
		if errors.As(err, &statusErr) && statusErr.NotFound() {
			return nil, ValidationError(fmt.Sprintf("Cause %s not found", causeID))
		}
		s.logger.Warn("Cause lookup failed", zap.String("cause_id", causeID.String()), zap.Error(err))
		return nil, UpstreamServiceError("Cause service error: "+err.Error(), err)
	}
	return cause, nil
}

// resolveRecipients maps each cause to its organizer.
func (s *cartServiceImpl) resolveRecipients(ctx context.Context, items []models.CartItem, auth string) (map[uuid.UUID]uuid.UUID, *ServiceError) {
	recipients := make(map[uuid.UUID]uuid.UUID, len(items))
	for _, item := range items {
		if _, ok := recipients[item.CauseID]; ok {
			continue
		}
		cause, svcErr := s.lookupCause(ctx, item.CauseID, auth)
		if svcErr != nil {
			if svcErr.Kind == KindValidation {
				return nil, UpstreamServiceError(svcErr.Message, svcErr)
			}
			return nil, svcErr
		}
		organizer, err := cause.Organizer()
		if err != nil {
			return nil, UpstreamServiceError("Cause service returned an invalid organizer", err)
		}
		recipients[item.CauseID] = organizer
	}
	return recipients, nil
}

func (s *cartServiceImpl) resolveEmail(ctx context.Context, caller Caller, supplied string) (string, *ServiceError) {
	if !caller.Authenticated() {
		supplied = strings.TrimSpace(supplied)
		if supplied == "" {
			return "", ValidationError("email is required for anonymous checkout")
		}
		if _, err := mail.ParseAddress(supplied); err != nil {
			return "", ValidationError("email is not a valid address")
		}
		return supplied, nil
	}

	user, err := s.users.GetUser(ctx, *caller.UserID, caller.Authorization)
	if err != nil {
		s.logger.Warn("User lookup failed", zap.Error(err))
		return "", UpstreamServiceError("User service error: "+err.Error(), err)
	}
	if user.Email == "" {
		return "", ValidationError("User has no email address on file")
	}
	return user.Email, nil
}

func (s *cartServiceImpl) failCheckout(ctx context.Context, donationIDs []uuid.UUID, reason string) {
	if err := s.checkout.FailCheckout(ctx, donationIDs, reason); err != nil {
		s.logger.Error("Failed to mark checkout donations failed", zap.Error(err))
	}
}

// idempotencyKey scopes a client key to the caller, since the cart itself
// is no longer active once a checkout succeeds.
func (s *cartServiceImpl) idempotencyKey(caller Caller, cartID *uuid.UUID, key string) string {
	if key == "" || s.store == nil {
		return ""
	}
	if caller.Authenticated() {
		return "user:" + caller.UserID.String() + ":" + key
	}
	if cartID != nil {
		return "cart:" + cartID.String() + ":" + key
	}
	return ""
}

func (s *cartServiceImpl) replay(ctx context.Context, key string) (*models.CheckoutResponse, bool) {
	body, ok, err := s.store.GetIdempotent(ctx, idempotencyScopeCheckout, key)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var resp models.CheckoutResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		s.logger.Warn("Discarding unreadable idempotent response", zap.Error(err))
		return nil, false
	}
	s.logger.Info("Replaying checkout response", zap.String("reference", resp.Reference))
	return &resp, true
}

func (s *cartServiceImpl) remember(ctx context.Context, key string, resp *models.CheckoutResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.store.SaveIdempotent(ctx, idempotencyScopeCheckout, key, body, s.cfg.IdempotencyTTL); err != nil {
		s.logger.Warn("Failed to store idempotent response", zap.Error(err))
	}
}

func (s *cartServiceImpl) cartWriteError(msg string, err error) *ServiceError {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return NotFoundError("Cart item not found")
	case errors.Is(err, repository.ErrCartNotActive):
		return ConflictError("Cart is no longer active", err)
	}
	s.logger.Error(msg, zap.Error(err))
	return InternalError(msg, err)
}

func (s *cartServiceImpl) record(ctx context.Context, metric string) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.RecordCount(ctx, metric, nil); err != nil {
		s.logger.Debug("Failed to record metric", zap.String("metric", metric), zap.Error(err))
	}
}

// chargeError maps a gateway failure onto the error taxonomy.
func chargeError(err error) *ServiceError {
	if providers.IsRejection(err) {
		return PaymentInitiationError("Payment initialization failed: "+gatewayMessage(err), err)
	}
	return UpstreamServiceError("Payment gateway is not reachable", err)
}

func gatewayMessage(err error) string {
	var gwErr *providers.GatewayError
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	return err.Error()
}
