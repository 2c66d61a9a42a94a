package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cryptomart/internal/models"
)

// CryptoCredit is the crediting side of a payment confirmation: which code to
// credit, how much, and the identity of the order row emitted alongside.
type CryptoCredit struct {
	Code        string
	Amount      decimal.Decimal
	ConfirmedAt time.Time
	OrderID     string
}

// Storage is the ledger store: three record collections (users, payments,
// orders) keyed by id with point lookups, most-recent-first scans and inserts.
// Composite mutations (debit+create, confirm+credit+order, expire+restore)
// apply as a single atomic unit: either all changes are visible or none,
// under any number of concurrent callers. Lookups report absence as
// errs.ErrNotFound and infrastructure faults as errs.ErrStorage.
type Storage interface {
	InitStorage(ctx context.Context) error
	DbClose() error

	// AddUser inserts a new user. An already taken email reports errs.ErrConflict.
	AddUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUsers(ctx context.Context) ([]models.User, error)

	GetPaymentByID(ctx context.Context, id string) (*models.Payment, error)
	GetPayments(ctx context.Context) ([]models.Payment, error)
	GetPaymentsByUser(ctx context.Context, userID string) ([]models.Payment, error)
	// GetStalePendingPayments returns up to lim PENDING payments created
	// before cutoff, oldest first, for the expiry sweeper.
	GetStalePendingPayments(ctx context.Context, cutoff time.Time, lim int) ([]models.Payment, error)

	GetOrders(ctx context.Context) ([]models.Order, error)
	GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	GetOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error)

	// AddPayment debits p.Coins from the owning user and inserts p with
	// status PENDING in one atomic unit. The balance check runs inside the
	// same unit, so concurrent calls can never overdraw: a short balance
	// reports errs.ErrInsufficientBalance and leaves nothing applied.
	AddPayment(ctx context.Context, p *models.Payment) error

	// ConfirmPayment transitions a PENDING payment to CONFIRMED, credits
	// credit.Amount of credit.Code to the owning user and appends the
	// matching order, atomically. An already CONFIRMED payment is returned
	// unchanged with applied=false. An EXPIRED payment reports
	// errs.ErrConflict. A missing owning user reports errs.ErrNotFound and
	// leaves the payment PENDING.
	ConfirmPayment(ctx context.Context, paymentID string, credit CryptoCredit) (p *models.Payment, applied bool, err error)

	// ExpirePayment transitions a PENDING payment to EXPIRED and restores
	// its coins to the owning user, atomically. Payments already in a
	// terminal state are returned unchanged with applied=false.
	ExpirePayment(ctx context.Context, paymentID string) (p *models.Payment, applied bool, err error)
}
