package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptomart/internal/errs"
	"cryptomart/internal/models"
	"cryptomart/internal/storage"
)

// MemStorage is an in-memory ledger store for mock mode and tests. Records
// live in insertion-ordered slices with id indexes on top; one mutex makes
// every composite mutation atomic.
type MemStorage struct {
	mu sync.RWMutex

	users     []models.User
	userIdx   map[string]int
	emailIdx  map[string]int
	payments  []models.Payment
	payIdx    map[string]int
	orders    []models.Order
	orderIdx  map[string]int
	orderByPm map[string]int
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		userIdx:   make(map[string]int),
		emailIdx:  make(map[string]int),
		payIdx:    make(map[string]int),
		orderIdx:  make(map[string]int),
		orderByPm: make(map[string]int),
	}
}

func (m *MemStorage) InitStorage(ctx context.Context) error { return nil }

func (m *MemStorage) DbClose() error { return nil }

func (m *MemStorage) AddUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.userIdx[u.ID]; ok {
		return errs.Conflict("user %v already exists", u.ID)
	}
	if _, ok := m.emailIdx[u.Email]; ok {
		return errs.Conflict("email %v already taken", u.Email)
	}
	m.users = append(m.users, copyUser(*u))
	m.userIdx[u.ID] = len(m.users) - 1
	m.emailIdx[u.Email] = len(m.users) - 1
	return nil
}

func (m *MemStorage) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.userIdx[id]
	if !ok {
		return nil, errs.NotFound("user %v not found", id)
	}
	u := copyUser(m.users[i])
	return &u, nil
}

func (m *MemStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.emailIdx[email]
	if !ok {
		return nil, errs.NotFound("user with email %v not found", email)
	}
	u := copyUser(m.users[i])
	return &u, nil
}

func (m *MemStorage) GetUsers(ctx context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.User, 0, len(m.users))
	for i := len(m.users) - 1; i >= 0; i-- {
		out = append(out, copyUser(m.users[i]))
	}
	return out, nil
}

func (m *MemStorage) GetPaymentByID(ctx context.Context, id string) (*models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.payIdx[id]
	if !ok {
		return nil, errs.NotFound("payment %v not found", id)
	}
	p := copyPayment(m.payments[i])
	return &p, nil
}

func (m *MemStorage) GetPayments(ctx context.Context) ([]models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Payment, 0, len(m.payments))
	for i := len(m.payments) - 1; i >= 0; i-- {
		out = append(out, copyPayment(m.payments[i]))
	}
	return out, nil
}

func (m *MemStorage) GetPaymentsByUser(ctx context.Context, userID string) ([]models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Payment
	for i := len(m.payments) - 1; i >= 0; i-- {
		if m.payments[i].UserID == userID {
			out = append(out, copyPayment(m.payments[i]))
		}
	}
	return out, nil
}

func (m *MemStorage) GetStalePendingPayments(ctx context.Context, cutoff time.Time, lim int) ([]models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Payment
	for i := range m.payments {
		if len(out) >= lim {
			break
		}
		p := m.payments[i]
		if p.Status == models.PaymentStatusPending && p.CreatedAt.Before(cutoff) {
			out = append(out, copyPayment(p))
		}
	}
	return out, nil
}

func (m *MemStorage) GetOrders(ctx context.Context) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Order, 0, len(m.orders))
	for i := len(m.orders) - 1; i >= 0; i-- {
		out = append(out, m.orders[i])
	}
	return out, nil
}

func (m *MemStorage) GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Order
	for i := len(m.orders) - 1; i >= 0; i-- {
		if m.orders[i].UserID == userID {
			out = append(out, m.orders[i])
		}
	}
	return out, nil
}

func (m *MemStorage) GetOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.orderByPm[paymentID]
	if !ok {
		return nil, errs.NotFound("order for payment %v not found", paymentID)
	}
	o := m.orders[i]
	return &o, nil
}

func (m *MemStorage) AddPayment(ctx context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payIdx[p.ID]; ok {
		return errs.Conflict("payment %v already exists", p.ID)
	}
	ui, ok := m.userIdx[p.UserID]
	if !ok {
		return errs.NotFound("user %v not found", p.UserID)
	}
	debit := decimal.NewFromInt(p.Coins)
	if m.users[ui].Coins.LessThan(debit) {
		return errs.InsufficientBalance("user %v has %v coins, needs %v", p.UserID, m.users[ui].Coins, p.Coins)
	}
	m.users[ui].Coins = m.users[ui].Coins.Sub(debit)
	m.payments = append(m.payments, copyPayment(*p))
	m.payIdx[p.ID] = len(m.payments) - 1
	return nil
}

func (m *MemStorage) ConfirmPayment(ctx context.Context, paymentID string, credit storage.CryptoCredit) (*models.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pi, ok := m.payIdx[paymentID]
	if !ok {
		return nil, false, errs.NotFound("payment %v not found", paymentID)
	}
	switch m.payments[pi].Status {
	case models.PaymentStatusConfirmed:
		p := copyPayment(m.payments[pi])
		return &p, false, nil
	case models.PaymentStatusExpired:
		return nil, false, errs.Conflict("payment %v already expired", paymentID)
	}
	ui, ok := m.userIdx[m.payments[pi].UserID]
	if !ok {
		return nil, false, errs.NotFound("user %v not found", m.payments[pi].UserID)
	}

	if m.users[ui].Crypto == nil {
		m.users[ui].Crypto = make(map[string]decimal.Decimal)
	}
	m.users[ui].Crypto[credit.Code] = m.users[ui].Crypto[credit.Code].Add(credit.Amount)

	confirmedAt := credit.ConfirmedAt
	amount := credit.Amount
	m.payments[pi].Status = models.PaymentStatusConfirmed
	m.payments[pi].ConfirmedAt = &confirmedAt
	m.payments[pi].CryptoType = credit.Code
	m.payments[pi].CryptoAmount = &amount

	o := models.Order{
		ID:            credit.OrderID,
		UserID:        m.payments[pi].UserID,
		PaymentID:     paymentID,
		CoinsDeducted: m.payments[pi].Coins,
		AmountUSD:     m.payments[pi].AmountUSD,
		CryptoType:    credit.Code,
		CryptoAmount:  credit.Amount,
		Status:        models.OrderStatusCompleted,
		CreatedAt:     credit.ConfirmedAt,
	}
	m.orders = append(m.orders, o)
	m.orderIdx[o.ID] = len(m.orders) - 1
	m.orderByPm[paymentID] = len(m.orders) - 1

	p := copyPayment(m.payments[pi])
	return &p, true, nil
}

func (m *MemStorage) ExpirePayment(ctx context.Context, paymentID string) (*models.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pi, ok := m.payIdx[paymentID]
	if !ok {
		return nil, false, errs.NotFound("payment %v not found", paymentID)
	}
	if m.payments[pi].Status != models.PaymentStatusPending {
		p := copyPayment(m.payments[pi])
		return &p, false, nil
	}
	ui, ok := m.userIdx[m.payments[pi].UserID]
	if !ok {
		return nil, false, errs.NotFound("user %v not found", m.payments[pi].UserID)
	}
	m.users[ui].Coins = m.users[ui].Coins.Add(decimal.NewFromInt(m.payments[pi].Coins))
	m.payments[pi].Status = models.PaymentStatusExpired
	p := copyPayment(m.payments[pi])
	return &p, true, nil
}

func copyUser(u models.User) models.User {
	if u.Crypto != nil {
		crypto := make(map[string]decimal.Decimal, len(u.Crypto))
		for k, v := range u.Crypto {
			crypto[k] = v
		}
		u.Crypto = crypto
	}
	return u
}

func copyPayment(p models.Payment) models.Payment {
	if p.ConfirmedAt != nil {
		t := *p.ConfirmedAt
		p.ConfirmedAt = &t
	}
	if p.CryptoAmount != nil {
		a := *p.CryptoAmount
		p.CryptoAmount = &a
	}
	return p
}
