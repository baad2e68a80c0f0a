package controllers_test

import (
	"context"

	"github.com/causehive/donation-service/jobs"
	"github.com/causehive/donation-service/middleware"
	"github.com/causehive/donation-service/models"
	"github.com/causehive/donation-service/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ---- concrete mocks implementing the service interfaces ----

type mockCartSvc struct {
	cart     *models.Cart
	item     *models.CartItem
	checkout *models.CheckoutResponse
	err      *services.ServiceError

	lastCaller  services.Caller
	lastCartID  *uuid.UUID
	lastItemID  uuid.UUID
	lastAdd     models.AddToCartRequest
	lastUpdate  models.UpdateCartItemRequest
	lastIdemKey string
}

func (m *mockCartSvc) GetCart(ctx context.Context, caller services.Caller, cartID *uuid.UUID) (*models.Cart, *services.ServiceError) {
	m.lastCaller, m.lastCartID = caller, cartID
	return m.cart, m.err
}

func (m *mockCartSvc) AddItem(ctx context.Context, caller services.Caller, req models.AddToCartRequest) (*models.Cart, *models.CartItem, *services.ServiceError) {
	m.lastCaller, m.lastAdd = caller, req
	return m.cart, m.item, m.err
}

func (m *mockCartSvc) UpdateItem(ctx context.Context, caller services.Caller, itemID uuid.UUID, req models.UpdateCartItemRequest) (*models.CartItem, *services.ServiceError) {
	m.lastCaller, m.lastItemID, m.lastUpdate = caller, itemID, req
	return m.item, m.err
}

func (m *mockCartSvc) RemoveItem(ctx context.Context, caller services.Caller, itemID uuid.UUID, cartID *uuid.UUID) *services.ServiceError {
	m.lastCaller, m.lastItemID, m.lastCartID = caller, itemID, cartID
	return m.err
}

func (m *mockCartSvc) DeleteCart(ctx context.Context, caller services.Caller, cartID *uuid.UUID) *services.ServiceError {
	m.lastCaller, m.lastCartID = caller, cartID
	return m.err
}

func (m *mockCartSvc) Checkout(ctx context.Context, caller services.Caller, req models.CheckoutRequest, idempotencyKey string) (*models.CheckoutResponse, *services.ServiceError) {
	m.lastCaller, m.lastCartID, m.lastIdemKey = caller, req.CartID, idempotencyKey
	return m.checkout, m.err
}

type mockPaymentSvc struct {
	result   *models.ReconcileResult
	payment  *models.PaymentTransaction
	checkout *models.CheckoutResponse
	err      *services.ServiceError

	webhookCalls  int
	lastReference string
	lastEvent     models.PaystackWebhookEvent
}

func (m *mockPaymentSvc) InitiatePayment(ctx context.Context, caller services.Caller, req models.InitiatePaymentRequest) (*models.CheckoutResponse, *services.ServiceError) {
	return m.checkout, m.err
}

func (m *mockPaymentSvc) Verify(ctx context.Context, reference string) (*models.ReconcileResult, *services.ServiceError) {
	m.lastReference = reference
	return m.result, m.err
}

func (m *mockPaymentSvc) HandleWebhook(ctx context.Context, event models.PaystackWebhookEvent) (*models.ReconcileResult, *services.ServiceError) {
	m.webhookCalls++
	m.lastEvent = event
	return m.result, m.err
}

func (m *mockPaymentSvc) GetPayment(ctx context.Context, caller services.Caller, id uuid.UUID) (*models.PaymentTransaction, *services.ServiceError) {
	return m.payment, m.err
}

type mockDonationSvc struct {
	donations []models.Donation
	total     int64
	err       *services.ServiceError

	lastPage, lastLimit int
}

func (m *mockDonationSvc) ListDonations(ctx context.Context, caller services.Caller, page, limit int) ([]models.Donation, int64, *services.ServiceError) {
	m.lastPage, m.lastLimit = page, limit
	return m.donations, m.total, m.err
}

func (m *mockDonationSvc) GetDonation(ctx context.Context, caller services.Caller, id uuid.UUID) (*models.Donation, *services.ServiceError) {
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.donations {
		if m.donations[i].ID == id {
			return &m.donations[i], nil
		}
	}
	return nil, services.NotFoundError("Donation not found")
}

type mockWithdrawalSvc struct {
	withdrawal *models.WithdrawalRequest
	list       []models.WithdrawalRequest
	total      int64
	stats      *models.WithdrawalStatistics
	userStats  *models.UserWithdrawalStatistics
	err        *services.ServiceError

	lastCaller  services.Caller
	lastRequest models.CreateWithdrawalRequest
	lastFilter  models.WithdrawalFilter
	lastID      uuid.UUID
}

func (m *mockWithdrawalSvc) RequestWithdrawal(ctx context.Context, caller services.Caller, req models.CreateWithdrawalRequest) (*models.WithdrawalRequest, *services.ServiceError) {
	m.lastCaller, m.lastRequest = caller, req
	return m.withdrawal, m.err
}

func (m *mockWithdrawalSvc) VerifyTransfer(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, *services.ServiceError) {
	m.lastID = id
	return m.withdrawal, m.err
}

func (m *mockWithdrawalSvc) Retry(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, *services.ServiceError) {
	m.lastID = id
	return m.withdrawal, m.err
}

func (m *mockWithdrawalSvc) ListForUser(ctx context.Context, caller services.Caller, page, limit int) ([]models.WithdrawalRequest, int64, *services.ServiceError) {
	m.lastCaller = caller
	return m.list, m.total, m.err
}

func (m *mockWithdrawalSvc) GetForUser(ctx context.Context, caller services.Caller, id uuid.UUID) (*models.WithdrawalRequest, *services.ServiceError) {
	m.lastCaller, m.lastID = caller, id
	return m.withdrawal, m.err
}

func (m *mockWithdrawalSvc) UserStatistics(ctx context.Context, caller services.Caller) (*models.UserWithdrawalStatistics, *services.ServiceError) {
	m.lastCaller = caller
	return m.userStats, m.err
}

func (m *mockWithdrawalSvc) List(ctx context.Context, filter models.WithdrawalFilter) ([]models.WithdrawalRequest, int64, *services.ServiceError) {
	m.lastFilter = filter
	return m.list, m.total, m.err
}

func (m *mockWithdrawalSvc) Statistics(ctx context.Context) (*models.WithdrawalStatistics, *services.ServiceError) {
	return m.stats, m.err
}

func (m *mockWithdrawalSvc) HandleVerifyJob(ctx context.Context, job jobs.Job) error { return nil }

// ---- helpers ----

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Identity(nil, zap.NewNop()))
	return r
}
