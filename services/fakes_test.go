package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/causehive/donation-service/clients"
	"github.com/causehive/donation-service/jobs"
	"github.com/causehive/donation-service/models"
	"github.com/causehive/donation-service/providers"
	"github.com/causehive/donation-service/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// --- Gateway ---

type MockGateway struct{ mock.Mock }

func (m *MockGateway) InitializeCharge(ctx context.Context, req providers.ChargeRequest) (*providers.ChargeInitialization, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.ChargeInitialization), args.Error(1)
}

func (m *MockGateway) VerifyCharge(ctx context.Context, reference string) (*providers.ChargeVerification, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.ChargeVerification), args.Error(1)
}

func (m *MockGateway) CreateRecipient(ctx context.Context, req providers.RecipientRequest) (*providers.Recipient, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.Recipient), args.Error(1)
}

func (m *MockGateway) InitiateTransfer(ctx context.Context, req providers.TransferRequest) (*providers.Transfer, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.Transfer), args.Error(1)
}

func (m *MockGateway) VerifyTransfer(ctx context.Context, reference string) (*providers.TransferVerification, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.TransferVerification), args.Error(1)
}

func rejected(op, msg string) error {
	return &providers.GatewayError{Operation: op, StatusCode: 400, Message: msg, Rejected: true}
}

func unreachable(op string) error {
	return &providers.GatewayError{Operation: op, Message: "request failed"}
}

// --- Collaborators ---

type fakeCauses struct {
	causes map[uuid.UUID]*clients.Cause
	err    error
	calls  int
}

func (f *fakeCauses) GetCause(ctx context.Context, causeID uuid.UUID, authHeader string) (*clients.Cause, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.causes[causeID]
	if !ok {
		return nil, &clients.StatusError{Service: "cause", StatusCode: 404, Body: "not found"}
	}
	return c, nil
}

type fakeUsers struct {
	users   map[uuid.UUID]*clients.User
	profile *clients.Profile
	err     error
	profErr error
}

func (f *fakeUsers) GetUser(ctx context.Context, userID uuid.UUID, authHeader string) (*clients.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[userID]
	if !ok {
		return nil, &clients.StatusError{Service: "user", StatusCode: 404, Body: "not found"}
	}
	return u, nil
}

func (f *fakeUsers) GetProfile(ctx context.Context, authHeader string) (*clients.Profile, error) {
	if f.profErr != nil {
		return nil, f.profErr
	}
	if f.profile == nil {
		return nil, &clients.StatusError{Service: "user", StatusCode: 404, Body: "not found"}
	}
	return f.profile, nil
}

// --- Queue, publisher, SNS ---

type recordingQueue struct {
	jobs   []jobs.Job
	delays []time.Duration
	err    error
}

func (q *recordingQueue) Enqueue(ctx context.Context, job jobs.Job, delay time.Duration) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	q.delays = append(q.delays, delay)
	return nil
}

type recordingPublisher struct {
	donations   []models.DonationCompletedEvent
	withdrawals []models.WithdrawalEvent
}

func (p *recordingPublisher) PublishDonationCompleted(ctx context.Context, event models.DonationCompletedEvent) error {
	p.donations = append(p.donations, event)
	return nil
}

func (p *recordingPublisher) PublishWithdrawalEvent(ctx context.Context, event models.WithdrawalEvent) error {
	p.withdrawals = append(p.withdrawals, event)
	return nil
}

type mockSNS struct {
	published [][]byte
	err       error
}

func (m *mockSNS) Publish(ctx context.Context, topicArn string, message []byte) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, append([]byte(nil), message...))
	return nil
}

// --- Key/value store ---

type memKV struct {
	mu     sync.Mutex
	locks  map[string]bool
	values map[string][]byte
	marks  map[string]bool
}

func newMemKV() *memKV {
	return &memKV{locks: map[string]bool{}, values: map[string][]byte{}, marks: map[string]bool{}}
}

func (k *memKV) AcquireLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks[key] {
		return nil, repository.ErrLockHeld
	}
	k.locks[key] = true
	return func() {
		k.mu.Lock()
		delete(k.locks, key)
		k.mu.Unlock()
	}, nil
}

func (k *memKV) GetIdempotent(ctx context.Context, scope, key string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.values[scope+":"+key]
	return v, ok, nil
}

func (k *memKV) SaveIdempotent(ctx context.Context, scope, key string, body []byte, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.values[scope+":"+key] = body
	return nil
}

func (k *memKV) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.marks[key] {
		return false, nil
	}
	k.marks[key] = true
	return true, nil
}

func (k *memKV) UnmarkOnce(ctx context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.marks, key)
	return nil
}

// --- Carts, donations and payments ---

// memStore keeps carts, donations and payments in memory and implements the
// cart, checkout, donation and payment repositories with the same
// transactional outcomes as the gorm versions.
type memStore struct {
	mu        sync.Mutex
	carts     map[uuid.UUID]*models.Cart
	donations map[uuid.UUID]*models.Donation
	payments  map[uuid.UUID]*models.PaymentTransaction

	writes    int
	attachErr error
	failCalls int
}

func newMemStore() *memStore {
	return &memStore{
		carts:     map[uuid.UUID]*models.Cart{},
		donations: map[uuid.UUID]*models.Donation{},
		payments:  map[uuid.UUID]*models.PaymentTransaction{},
	}
}

func cloneCart(c *models.Cart) *models.Cart {
	cp := *c
	cp.Items = append([]models.CartItem(nil), c.Items...)
	return &cp
}

func (s *memStore) GetOrCreateActive(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.carts {
		if c.UserID != nil && *c.UserID == userID && c.Status == models.CartStatusActive {
			return cloneCart(c), nil
		}
	}
	uid := userID
	c := &models.Cart{ID: uuid.New(), UserID: &uid, Status: models.CartStatusActive}
	s.carts[c.ID] = c
	return cloneCart(c), nil
}

func (s *memStore) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.carts {
		if c.UserID != nil && *c.UserID == userID && c.Status == models.CartStatusActive {
			return cloneCart(c), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) FindByID(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[cartID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneCart(c), nil
}

func (s *memStore) CreateAnonymous(ctx context.Context) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &models.Cart{ID: uuid.New(), Status: models.CartStatusActive}
	s.carts[c.ID] = c
	return cloneCart(c), nil
}

func (s *memStore) AddItem(ctx context.Context, cartID, causeID uuid.UUID, amount decimal.Decimal, quantity int) (*models.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[cartID]
	if !ok || c.Status != models.CartStatusActive {
		return nil, repository.ErrCartNotActive
	}
	for i := range c.Items {
		if c.Items[i].CauseID == causeID {
			c.Items[i].Quantity += quantity
			c.Items[i].DonationAmount = amount
			item := c.Items[i]
			return &item, nil
		}
	}
	item := models.CartItem{ID: uuid.New(), CartID: cartID, CauseID: causeID, DonationAmount: amount, Quantity: quantity}
	c.Items = append(c.Items, item)
	return &item, nil
}

func (s *memStore) SetItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, quantity int) (*models.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[cartID]
	if !ok || c.Status != models.CartStatusActive {
		return nil, repository.ErrCartNotActive
	}
	for i := range c.Items {
		if c.Items[i].ID != itemID {
			continue
		}
		if quantity <= 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil, nil
		}
		c.Items[i].Quantity = quantity
		item := c.Items[i]
		return &item, nil
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	_, err := s.SetItemQuantity(ctx, cartID, itemID, 0)
	return err
}

func (s *memStore) Delete(ctx context.Context, cartID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.carts[cartID]; !ok {
		return repository.ErrNotFound
	}
	delete(s.carts, cartID)
	return nil
}

func (s *memStore) CreateCheckoutDonations(ctx context.Context, cartID uuid.UUID, snapshot []models.CartItem, donations []models.Donation) ([]models.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[cartID]
	if !ok || c.Status != models.CartStatusActive {
		return nil, repository.ErrCartNotActive
	}
	if len(c.Items) != len(snapshot) {
		return nil, repository.ErrCartChanged
	}
	for i := range snapshot {
		if c.Items[i].ID != snapshot[i].ID || c.Items[i].Quantity != snapshot[i].Quantity ||
			!c.Items[i].DonationAmount.Equal(snapshot[i].DonationAmount) {
			return nil, repository.ErrCartChanged
		}
	}
	out := make([]models.Donation, len(donations))
	for i, d := range donations {
		d := d // go1.21 shares loop variables across iterations
		d.ID = uuid.New()
		d.DonatedAt = time.Now()
		s.donations[d.ID] = &d
		out[i] = d
		s.writes++
	}
	return out, nil
}

func (s *memStore) AttachPayment(ctx context.Context, cartID *uuid.UUID, payment *models.PaymentTransaction, donationIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attachErr != nil {
		return s.attachErr
	}
	for _, p := range s.payments {
		if p.TransactionID == payment.TransactionID {
			return repository.ErrDuplicateReference
		}
	}
	payment.ID = uuid.New()
	cp := *payment
	s.payments[payment.ID] = &cp
	s.writes++
	for _, id := range donationIDs {
		d := s.donations[id]
		pid := payment.ID
		d.PaymentID = &pid
		if id == payment.DonationID {
			ref := payment.TransactionID
			d.TransactionID = &ref
		}
	}
	if cartID != nil {
		if c, ok := s.carts[*cartID]; ok {
			c.Status = models.CartStatusCompleted
		}
	}
	return nil
}

func (s *memStore) FailCheckout(ctx context.Context, donationIDs []uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCalls++
	for _, id := range donationIDs {
		if d, ok := s.donations[id]; ok && d.Status == models.DonationStatusPending {
			d.Status = models.DonationStatusFailed
			d.FailureReason = reason
		}
	}
	return nil
}

func (s *memStore) donation(id uuid.UUID) *models.Donation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.donations[id]; ok {
		cp := *d
		return &cp
	}
	return nil
}

func (s *memStore) allDonations() []models.Donation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Donation, 0, len(s.donations))
	for _, d := range s.donations {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DonatedAt.Before(out[j].DonatedAt) })
	return out
}

// donationRepo exposes memStore as a DonationRepository; FindByID would
// otherwise collide with the cart lookup.
type donationRepo struct{ s *memStore }

func (r donationRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Donation, error) {
	if d := r.s.donation(id); d != nil {
		return d, nil
	}
	return nil, repository.ErrNotFound
}

func (r donationRepo) ListByUser(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Donation, int64, error) {
	var out []models.Donation
	for _, d := range r.s.allDonations() {
		if d.UserID != nil && *d.UserID == userID {
			out = append(out, d)
		}
	}
	total := int64(len(out))
	start := (page - 1) * limit
	if start >= len(out) {
		return []models.Donation{}, total, nil
	}
	end := start + limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (r donationRepo) MarkOrphansFailed(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, d := range r.s.donations {
		if d.Status == models.DonationStatusPending && d.PaymentID == nil && d.DonatedAt.Before(olderThan) {
			d.Status = models.DonationStatusFailed
			d.FailureReason = reason
			n++
		}
	}
	return n, nil
}

type paymentRepo struct{ s *memStore }

func (r paymentRepo) FindByReference(ctx context.Context, reference string) (*models.PaymentTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.TransactionID == reference {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r paymentRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.payments[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r paymentRepo) FindByDonationID(ctx context.Context, donationID uuid.UUID) (*models.PaymentTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.DonationID == donationID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r paymentRepo) Reconcile(ctx context.Context, in repository.ReconcileInput) (*models.ReconcileResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var payment *models.PaymentTransaction
	for _, p := range r.s.payments {
		if p.TransactionID == in.Reference {
			payment = p
		}
	}
	if payment == nil {
		return nil, repository.ErrNotFound
	}

	result := &models.ReconcileResult{PreviousStatus: payment.Status}
	transition := models.ResolvePaymentTransition(payment.Status, in.Target)
	result.Conflict = transition.Conflict
	if transition.Apply {
		payment.Status = in.Target
		payment.GatewayStatus = in.GatewayStatus
		payment.FailureReason = in.FailureReason
		donationStatus := models.DonationStatusFailed
		if in.Target == models.PaymentStatusCompleted {
			donationStatus = models.DonationStatusCompleted
			at := in.At
			payment.CompletedAt = &at
		}
		for _, d := range r.s.donations {
			if d.PaymentID == nil || *d.PaymentID != payment.ID || d.Status == donationStatus {
				continue
			}
			d.Status = donationStatus
			d.FailureReason = in.FailureReason
			if donationStatus == models.DonationStatusCompleted {
				result.CompletedDonations = append(result.CompletedDonations, *d)
			}
		}
		result.Changed = true
	}
	cp := *payment
	result.Payment = &cp
	return result, nil
}

// --- Withdrawals ---

type memWithdrawals struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*models.WithdrawalRequest
	creates int
	updates int
}

func newMemWithdrawals() *memWithdrawals {
	return &memWithdrawals{rows: map[uuid.UUID]*models.WithdrawalRequest{}}
}

func (m *memWithdrawals) reserved(causeID uuid.UUID, except uuid.UUID) decimal.Decimal {
	sum := decimal.Zero
	for _, w := range m.rows {
		if w.CauseID != causeID || w.ID == except {
			continue
		}
		if w.Status == models.WithdrawalStatusProcessing || w.Status == models.WithdrawalStatusCompleted {
			sum = sum.Add(w.Amount)
		}
	}
	return sum
}

func (m *memWithdrawals) check(w *models.WithdrawalRequest, balance decimal.Decimal) error {
	available := balance.Sub(m.reserved(w.CauseID, w.ID))
	if w.Amount.GreaterThan(available) {
		if available.IsNegative() {
			available = decimal.Zero
		}
		return &repository.InsufficientBalanceError{Requested: w.Amount, Available: available}
	}
	return nil
}

func (m *memWithdrawals) CreateWithBalanceCheck(ctx context.Context, w *models.WithdrawalRequest, causeBalance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(w, causeBalance); err != nil {
		return err
	}
	w.ID = uuid.New()
	w.Status = models.WithdrawalStatusProcessing
	w.Attempts = 1
	w.RequestedAt = time.Now()
	cp := *w
	m.rows[w.ID] = &cp
	m.creates++
	return nil
}

func (m *memWithdrawals) RetryWithBalanceCheck(ctx context.Context, w *models.WithdrawalRequest, causeBalance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[w.ID]
	if !ok || row.Status != models.WithdrawalStatusFailed {
		return repository.ErrStaleStatus
	}
	if err := m.check(w, causeBalance); err != nil {
		return err
	}
	row.ResetForRetry()
	row.Attempts++
	w.ResetForRetry()
	w.Attempts = row.Attempts
	return nil
}

func (m *memWithdrawals) FindByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.rows[id]; ok {
		cp := *w
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memWithdrawals) FindReusableRecipient(ctx context.Context, userID uuid.UUID, method, fingerprint string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.rows {
		if w.UserID == userID && w.PaymentMethod == method && w.RecipientFingerprint == fingerprint && w.RecipientCode != "" {
			return w.RecipientCode, nil
		}
	}
	return "", nil
}

func (m *memWithdrawals) UpdateFrom(ctx context.Context, w *models.WithdrawalRequest, expectedStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[w.ID]
	if !ok || row.Status != expectedStatus {
		return repository.ErrStaleStatus
	}
	row.Status = w.Status
	row.RecipientCode = w.RecipientCode
	row.RecipientFingerprint = w.RecipientFingerprint
	row.TransactionID = w.TransactionID
	row.FailureReason = w.FailureReason
	row.CompletedAt = w.CompletedAt
	m.updates++
	return nil
}

func (m *memWithdrawals) ListByUser(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.WithdrawalRequest, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WithdrawalRequest
	for _, w := range m.rows {
		if w.UserID == userID {
			out = append(out, *w)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memWithdrawals) List(ctx context.Context, filter models.WithdrawalFilter) ([]models.WithdrawalRequest, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WithdrawalRequest
	for _, w := range m.rows {
		if filter.Status != "" && w.Status != filter.Status {
			continue
		}
		out = append(out, *w)
	}
	return out, int64(len(out)), nil
}

func (m *memWithdrawals) Statistics(ctx context.Context) (*models.WithdrawalStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]*models.WithdrawalStatusCount{}
	for _, w := range m.rows {
		c, ok := counts[w.Status]
		if !ok {
			c = &models.WithdrawalStatusCount{Status: w.Status}
			counts[w.Status] = c
		}
		c.Count++
		c.Total = c.Total.Add(w.Amount)
	}
	rows := make([]models.WithdrawalStatusCount, 0, len(counts))
	for _, c := range counts {
		rows = append(rows, *c)
	}
	return repository.BuildWithdrawalStatistics(rows), nil
}

func (m *memWithdrawals) UserStatistics(ctx context.Context, userID uuid.UUID) (*models.UserWithdrawalStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.UserWithdrawalStatistics{}
	for _, w := range m.rows {
		if w.UserID != userID {
			continue
		}
		stats.TotalWithdrawals++
		stats.TotalAmount = stats.TotalAmount.Add(w.Amount)
		if w.Status == models.WithdrawalStatusCompleted {
			stats.CompletedWithdrawals++
		}
	}
	return stats, nil
}

func (m *memWithdrawals) get(id uuid.UUID) models.WithdrawalRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}
