package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusConfirmed PaymentStatus = "CONFIRMED"
	PaymentStatusExpired   PaymentStatus = "EXPIRED"
)

type OrderStatus string

const OrderStatusCompleted OrderStatus = "COMPLETED"

// User holds the coin balance and the crypto holdings credited by confirmed
// conversions. Coins are debited only when a conversion is initiated and
// restored only when a pending payment expires; Crypto is incremented only by
// a confirmation.
type User struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name"`
	Email        string                     `json:"email"`
	PasswordHash string                     `json:"-"`
	Coins        decimal.Decimal            `json:"coins"`
	Crypto       map[string]decimal.Decimal `json:"crypto"`
	CreatedAt    time.Time                  `json:"created_at"`
}

// Payment records a requested conversion. The coins were already debited from
// the owning user when the payment was created: committed, not reserved.
// ConfirmedAt, CryptoType and CryptoAmount are set exactly once, together, at
// the PENDING to CONFIRMED transition and never change afterwards.
type Payment struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	Coins        int64            `json:"coins"`
	AmountUSD    decimal.Decimal  `json:"amount_usd"`
	Status       PaymentStatus    `json:"status"`
	ChargeRef    string           `json:"charge_ref"`
	CreatedAt    time.Time        `json:"created_at"`
	ConfirmedAt  *time.Time       `json:"confirmed_at,omitempty"`
	CryptoType   string           `json:"crypto_type,omitempty"`
	CryptoAmount *decimal.Decimal `json:"crypto_amount,omitempty"`
}

// Order is the immutable record of a completed conversion. Exactly one order
// exists per confirmed payment.
type Order struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	PaymentID     string          `json:"payment_id"`
	CoinsDeducted int64           `json:"coins_deducted"`
	AmountUSD     decimal.Decimal `json:"amount_usd"`
	CryptoType    string          `json:"crypto_type"`
	CryptoAmount  decimal.Decimal `json:"crypto_amount"`
	Status        OrderStatus     `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}
