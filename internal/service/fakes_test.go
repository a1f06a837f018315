package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"sneaker-store/internal/khalti"
	"sneaker-store/internal/models"
	"sneaker-store/internal/redisclient"
	"sneaker-store/internal/store"
)

// memStore mirrors the transactional behavior of *store.Store under one mutex
type memStore struct {
	mu       sync.Mutex
	products map[int64]*models.Product
	intents  map[int64]*models.PurchaseIntent
	payments []models.PaymentRecord
	users    map[int64]*models.User
	reviews  []models.Review
	nextID   int64
}

func newMemStore() *memStore {
	return &memStore{
		products: map[int64]*models.Product{},
		intents:  map[int64]*models.PurchaseIntent{},
		users:    map[int64]*models.User{},
		nextID:   100,
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) addProduct(id int64, name string, price int64, sizes ...models.SizeStock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id] = &models.Product{ID: id, Name: name, Category: "running", Price: price, Image: "uploads/" + name + ".png", Sizes: sizes}
}

func (m *memStore) addUser(id int64, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = &models.User{ID: id, Email: email, Name: strings.Split(email, "@")[0], Role: models.RoleCustomer}
}

func (m *memStore) stock(productID int64, size string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[productID].FindSize(size).Quantity
}

func (m *memStore) setPrice(productID int64, price int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[productID].Price = price
}

func (m *memStore) intentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.intents)
}

func (m *memStore) paymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

func (m *memStore) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok || p.Removed {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	cp := *p
	cp.Sizes = append([]models.SizeStock(nil), p.Sizes...)
	return &cp, nil
}

func (m *memStore) ListProducts(_ context.Context, f models.ProductFilter) ([]models.Product, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []models.Product
	for _, p := range m.products {
		if p.Removed || (f.Category != "" && p.Category != f.Category) {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Search)) {
			continue
		}
		all = append(all, *p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if f.Offset >= total {
		return []models.Product{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return all[f.Offset:end], total, nil
}

func (m *memStore) CreateProduct(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.products {
		if existing.Name == p.Name && existing.Category == p.Category {
			return store.ErrDuplicateProduct
		}
	}
	p.ID = m.id()
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *memStore) RestockProduct(_ context.Context, productID int64, size string, qty int) (*models.SizeStock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok || p.Removed {
		return nil, store.ErrNotFound
	}
	if s := p.FindSize(size); s != nil {
		s.Quantity += qty
		return s, nil
	}
	p.Sizes = append(p.Sizes, models.SizeStock{ProductID: productID, Size: size, Quantity: qty})
	return &p.Sizes[len(p.Sizes)-1], nil
}

func (m *memStore) RemoveProduct(_ context.Context, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok || p.Removed {
		return store.ErrNotFound
	}
	p.Removed = true
	return nil
}

func (m *memStore) CreatePurchaseIntents(_ context.Context, intents []*models.PurchaseIntent, holdSince time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := map[int64]*models.PurchaseIntent{}
	decrements := map[*models.SizeStock]int{}
	for _, pi := range intents {
		p, ok := m.products[pi.ProductID]
		if !ok {
			return store.ErrInsufficientStock
		}
		size := p.FindSize(pi.Size)
		if size == nil {
			return store.ErrInsufficientStock
		}
		held := 0
		for _, all := range []map[int64]*models.PurchaseIntent{m.intents, staged} {
			for _, other := range all {
				if other.ProductID == pi.ProductID && other.Size == pi.Size &&
					other.PaymentMethod == models.PaymentMethodKhalti &&
					other.PaymentStatus == models.PaymentStatusPending &&
					other.CreatedAt.After(holdSince) {
					held += other.Quantity
				}
			}
		}
		if size.Quantity-decrements[size]-held < pi.Quantity {
			return store.ErrInsufficientStock
		}
		if pi.PaymentMethod == models.PaymentMethodCOD {
			decrements[size] += pi.Quantity
		}
		pi.ID = m.id()
		pi.CreatedAt = time.Now()
		cp := *pi
		staged[pi.ID] = &cp
	}

	for size, n := range decrements {
		size.Quantity -= n
	}
	for id, pi := range staged {
		m.intents[id] = pi
	}
	return nil
}

func (m *memStore) GetPurchaseIntent(_ context.Context, id int64) (*models.PurchaseIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pi, ok := m.intents[id]
	if !ok {
		return nil, fmt.Errorf("purchase intent %d: %w", id, store.ErrNotFound)
	}
	cp := *pi
	return &cp, nil
}

func (m *memStore) ListIntentsByCheckoutRef(_ context.Context, ref string) ([]models.PurchaseIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.PurchaseIntent{}
	for _, pi := range m.intents {
		if pi.CheckoutRef == ref {
			out = append(out, *pi)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListIntentsByUser(_ context.Context, userID int64) ([]models.PurchaseIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.PurchaseIntent{}
	for _, pi := range m.intents {
		if pi.UserID == userID {
			out = append(out, *pi)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) ListIntents(_ context.Context, limit, offset int) ([]models.PurchaseIntent, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.PurchaseIntent{}
	for _, pi := range m.intents {
		out = append(out, *pi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	if offset >= total {
		return []models.PurchaseIntent{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *memStore) UpdateIntentStatus(_ context.Context, id int64, paymentStatus, deliveryStatus string) (*models.PurchaseIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pi, ok := m.intents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if paymentStatus != "" {
		pi.PaymentStatus = paymentStatus
	}
	if deliveryStatus != "" {
		pi.DeliveryStatus = deliveryStatus
	}
	cp := *pi
	return &cp, nil
}

func (m *memStore) CompletePayment(_ context.Context, intents []models.PurchaseIntent, record *models.PaymentRecord) (*store.CompletionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	first, ok := m.intents[record.PurchaseIntentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, p := range m.payments {
		if p.PurchaseIntentID == first.ID || p.TransactionID == record.TransactionID || p.Pidx == record.Pidx {
			return nil, store.ErrDuplicatePayment
		}
	}

	result := &store.CompletionResult{}
	sizes := make([]*models.SizeStock, len(intents))
	for i, pi := range intents {
		p, ok := m.products[pi.ProductID]
		if !ok || p.FindSize(pi.Size) == nil {
			return nil, store.ErrSizeNotFound
		}
		sizes[i] = p.FindSize(pi.Size)
	}
	for i, pi := range intents {
		remaining := sizes[i].Quantity - pi.Quantity
		if remaining < 0 {
			remaining = 0
			result.Clamped++
		}
		sizes[i].Quantity = remaining
		m.intents[pi.ID].PaymentStatus = models.PaymentStatusCompleted
	}

	record.ID = m.id()
	record.CreatedAt = time.Now()
	m.payments = append(m.payments, *record)
	return result, nil
}

func (m *memStore) GetPaymentByTransactionID(_ context.Context, txID string) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.TransactionID == txID {
			cp := p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetPaymentByPidx(_ context.Context, pidx string) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.Pidx == pidx {
			cp := p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ListPayments(_ context.Context, limit, offset int) ([]models.PaymentRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PaymentRecord(nil), m.payments...), len(m.payments), nil
}

func (m *memStore) UpsertUser(_ context.Context, email, role string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			u.Role = role
			cp := *u
			return &cp, nil
		}
	}
	u := &models.User{ID: m.id(), Email: email, Name: strings.Split(email, "@")[0], Role: role}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) CreateReview(_ context.Context, r *models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.reviews {
		if existing.PurchaseIntentID == r.PurchaseIntentID {
			return store.ErrDuplicateReview
		}
	}
	r.ID = m.id()
	m.reviews = append(m.reviews, *r)
	return nil
}

func (m *memStore) ListReviewsByProduct(_ context.Context, productID int64) ([]models.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Review{}
	for _, r := range m.reviews {
		if r.ProductID == productID {
			out = append(out, r)
		}
	}
	return out, nil
}

// fakeGateway records initiations and answers lookups from a fixed table
type fakeGateway struct {
	mu          sync.Mutex
	initiateErr error
	initiated   []*khalti.InitiateRequest
	lookups     map[string]*khalti.LookupResponse
	lookupErr   error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{lookups: map[string]*khalti.LookupResponse{}}
}

func (g *fakeGateway) Initiate(_ context.Context, req *khalti.InitiateRequest) (*khalti.InitiateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	g.initiated = append(g.initiated, req)
	pidx := fmt.Sprintf("pidx-%s", req.PurchaseOrderID)
	return &khalti.InitiateResponse{Pidx: pidx, PaymentURL: "https://pay.example/?pidx=" + pidx, ExpiresIn: 1800}, nil
}

func (g *fakeGateway) Lookup(_ context.Context, pidx string) (*khalti.LookupResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lookupErr != nil {
		return nil, g.lookupErr
	}
	resp, ok := g.lookups[pidx]
	if !ok {
		return nil, &khalti.GatewayError{HTTPStatus: 404, Detail: "Not found."}
	}
	return resp, nil
}

func (g *fakeGateway) complete(pidx, transactionID string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookups[pidx] = &khalti.LookupResponse{Pidx: pidx, TotalAmount: amount, Status: khalti.StatusCompleted, TransactionID: transactionID}
}

type fakeEvents struct {
	mu        sync.Mutex
	initiated []*models.CheckoutInitiatedEvent
	completed []*models.PaymentCompletedEvent
	failed    []*models.PaymentFailedEvent
	cod       []*models.CODOrderPlacedEvent
}

func (e *fakeEvents) PublishCheckoutInitiated(_ context.Context, ev *models.CheckoutInitiatedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initiated = append(e.initiated, ev)
	return nil
}

func (e *fakeEvents) PublishPaymentCompleted(_ context.Context, ev *models.PaymentCompletedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = append(e.completed, ev)
	return nil
}

func (e *fakeEvents) PublishPaymentFailed(_ context.Context, ev *models.PaymentFailedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, ev)
	return nil
}

func (e *fakeEvents) PublishCODOrderPlaced(_ context.Context, ev *models.CODOrderPlacedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cod = append(e.cod, ev)
	return nil
}

// fakeOTPs mirrors the attempt-counting Lua script
type fakeOTPs struct {
	hashes   map[string]string
	attempts map[string]int
}

func newFakeOTPs() *fakeOTPs {
	return &fakeOTPs{hashes: map[string]string{}, attempts: map[string]int{}}
}

func (f *fakeOTPs) StoreOTP(_ context.Context, email, hash string, _ time.Duration) error {
	f.hashes[email] = hash
	f.attempts[email] = 0
	return nil
}

func (f *fakeOTPs) ConsumeOTPAttempt(_ context.Context, email string, maxAttempts int) (int, string, error) {
	hash, ok := f.hashes[email]
	if !ok {
		return redisclient.OTPMissing, "", nil
	}
	f.attempts[email]++
	if f.attempts[email] > maxAttempts {
		delete(f.hashes, email)
		return redisclient.OTPExhausted, "", nil
	}
	return redisclient.OTPPending, hash, nil
}

func (f *fakeOTPs) DeleteOTP(_ context.Context, email string) error {
	delete(f.hashes, email)
	return nil
}
