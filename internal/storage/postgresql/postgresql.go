package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cryptomart/internal/errs"
	"cryptomart/internal/logger"
	"cryptomart/internal/models"
	"cryptomart/internal/storage"
)

const opTimeout = 3 * time.Second

const pgUniqueViolation = "23505"

func dbMigrate(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logger.Log.Error("db driver error on migration", zap.Error(err))
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://db/migrations", "postgres", driver)
	if err != nil {
		logger.Log.Error("migration instance creation error on migration", zap.Error(err))
		return err
	}
	_, dirty, err := m.Version()
	if err != nil {
		switch err {
		case migrate.ErrNilVersion:
			logger.Log.Info("no migration was applied yet - first migration")
		default:
			logger.Log.Error("checking database dirty on migration error", zap.Error(err))
			return err
		}
	}
	if dirty {
		logger.Log.Error("migration - database is in dirty state")
		return err
	}
	err = m.Up()
	if err != nil {
		switch err {
		case migrate.ErrNoChange:
			logger.Log.Info("migration - db version is up to date")
			return nil
		default:
			logger.Log.Error("db migration error", zap.Error(err))
			return err
		}
	}
	return nil
}

type PsqlStorage struct {
	dbAddress  string
	connection *sql.DB
}

func NewPsqlStorage(dba string) *PsqlStorage {
	return &PsqlStorage{dbAddress: dba}
}

func (s *PsqlStorage) InitStorage(ctx context.Context) error {
	db, err := sql.Open("pgx", s.dbAddress)
	if err != nil {
		logger.Log.Error("opening db connection error", zap.Error(err))
		return errs.Storage(err, "opening db connection failed")
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	err = db.PingContext(ctx)
	if err != nil {
		logger.Log.Error("db ping err", zap.Error(err))
		return errs.Storage(err, "db ping failed")
	}
	err = dbMigrate(db)
	if err != nil {
		return errs.Storage(err, "db migration failed")
	}
	s.connection = db
	logger.Log.Info("db connection is ready")
	return nil
}

func (s *PsqlStorage) DbClose() error {
	return s.connection.Close()
}

func (s *PsqlStorage) AddUser(ctx context.Context, user *models.User) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	tx, err := s.connection.BeginTx(ctx, nil)
	if err != nil {
		logger.Log.Error("add user error - transaction open failed", zap.Error(err))
		return errs.Storage(err, "adding user failed")
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO users (id,name,email,pwdhash,coins,created_at) VALUES($1,$2,$3,$4,$5,$6)",
		user.ID, user.Name, user.Email, user.PasswordHash, user.Coins, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return errs.Conflict("email %v already taken", user.Email)
		}
		logger.Log.Error("add user error - db inserting failed", zap.Error(err))
		return errs.Storage(err, "adding user failed")
	}
	for code, amount := range user.Crypto {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO crypto_holdings (user_id,code,amount) VALUES($1,$2,$3)",
			user.ID, code, amount)
		if err != nil {
			logger.Log.Error("add user error - holdings inserting failed", zap.Error(err))
			return errs.Storage(err, "adding user failed")
		}
	}
	if err := tx.Commit(); err != nil {
		logger.Log.Error("add user error - commit failed", zap.Error(err))
		return errs.Storage(err, "adding user failed")
	}
	return nil
}

func (s *PsqlStorage) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	row := s.connection.QueryRowContext(ctx,
		"SELECT id,name,email,pwdhash,coins,created_at FROM users WHERE id = $1", id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("user %v not found", id)
		}
		logger.Log.Error("get user by id error - db row scan error", zap.Error(err))
		return nil, errs.Storage(err, "getting user failed")
	}
	if err := s.loadHoldings(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *PsqlStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	row := s.connection.QueryRowContext(ctx,
		"SELECT id,name,email,pwdhash,coins,created_at FROM users WHERE email = $1", email)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("user with email %v not found", email)
		}
		logger.Log.Error("get user by email error - db row scan error", zap.Error(err))
		return nil, errs.Storage(err, "getting user failed")
	}
	if err := s.loadHoldings(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *PsqlStorage) GetUsers(ctx context.Context) ([]models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	rows, err := s.connection.QueryContext(ctx,
		"SELECT id,name,email,pwdhash,coins,created_at FROM users ORDER BY created_at DESC")
	if err != nil {
		logger.Log.Error("get users error - query error", zap.Error(err))
		return nil, errs.Storage(err, "listing users failed")
	}
	defer rows.Close()
	users := []models.User{}
	index := map[string]int{}
	for rows.Next() {
		var u models.User
		err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Coins, &u.CreatedAt)
		if err != nil {
			logger.Log.Error("get users error - scan error", zap.Error(err))
			return nil, errs.Storage(err, "listing users failed")
		}
		u.Crypto = make(map[string]decimal.Decimal)
		users = append(users, u)
		index[u.ID] = len(users) - 1
	}
	if rows.Err() != nil {
		logger.Log.Error("get users error - rows iteration error", zap.Error(rows.Err()))
		return nil, errs.Storage(rows.Err(), "listing users failed")
	}

	hrows, err := s.connection.QueryContext(ctx, "SELECT user_id,code,amount FROM crypto_holdings")
	if err != nil {
		logger.Log.Error("get users error - holdings query error", zap.Error(err))
		return nil, errs.Storage(err, "listing users failed")
	}
	defer hrows.Close()
	for hrows.Next() {
		var uid, code string
		var amount decimal.Decimal
		if err := hrows.Scan(&uid, &code, &amount); err != nil {
			logger.Log.Error("get users error - holdings scan error", zap.Error(err))
			return nil, errs.Storage(err, "listing users failed")
		}
		if i, ok := index[uid]; ok {
			users[i].Crypto[code] = amount
		}
	}
	if hrows.Err() != nil {
		logger.Log.Error("get users error - holdings iteration error", zap.Error(hrows.Err()))
		return nil, errs.Storage(hrows.Err(), "listing users failed")
	}
	return users, nil
}

func (s *PsqlStorage) GetPaymentByID(ctx context.Context, id string) (*models.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	row := s.connection.QueryRowContext(ctx,
		"SELECT id,user_id,coins,amount_usd,status,charge_ref,created_at,confirmed_at,crypto_type,crypto_amount FROM payments WHERE id = $1", id)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("payment %v not found", id)
		}
		logger.Log.Error("get payment by id error - db row scan error", zap.Error(err))
		return nil, errs.Storage(err, "getting payment failed")
	}
	return p, nil
}

func (s *PsqlStorage) GetPayments(ctx context.Context) ([]models.Payment, error) {
	return s.queryPayments(ctx,
		"SELECT id,user_id,coins,amount_usd,status,charge_ref,created_at,confirmed_at,crypto_type,crypto_amount FROM payments ORDER BY created_at DESC")
}

func (s *PsqlStorage) GetPaymentsByUser(ctx context.Context, userID string) ([]models.Payment, error) {
	return s.queryPayments(ctx,
		"SELECT id,user_id,coins,amount_usd,status,charge_ref,created_at,confirmed_at,crypto_type,crypto_amount FROM payments WHERE user_id = $1 ORDER BY created_at DESC",
		userID)
}

func (s *PsqlStorage) GetStalePendingPayments(ctx context.Context, cutoff time.Time, lim int) ([]models.Payment, error) {
	return s.queryPayments(ctx,
		"SELECT id,user_id,coins,amount_usd,status,charge_ref,created_at,confirmed_at,crypto_type,crypto_amount FROM payments WHERE status = $1 AND created_at < $2 ORDER BY created_at LIMIT $3",
		models.PaymentStatusPending, cutoff, lim)
}

func (s *PsqlStorage) queryPayments(ctx context.Context, query string, args ...any) ([]models.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	rows, err := s.connection.QueryContext(ctx, query, args...)
	if err != nil {
		logger.Log.Error("get payments error - query error", zap.Error(err))
		return nil, errs.Storage(err, "listing payments failed")
	}
	defer rows.Close()
	payments := []models.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			logger.Log.Error("get payments error - scan error", zap.Error(err))
			return nil, errs.Storage(err, "listing payments failed")
		}
		payments = append(payments, *p)
	}
	if rows.Err() != nil {
		logger.Log.Error("get payments error - rows iteration error", zap.Error(rows.Err()))
		return nil, errs.Storage(rows.Err(), "listing payments failed")
	}
	return payments, nil
}

func (s *PsqlStorage) GetOrders(ctx context.Context) ([]models.Order, error) {
	return s.queryOrders(ctx,
		"SELECT id,user_id,payment_id,coins_deducted,amount_usd,crypto_type,crypto_amount,status,created_at FROM orders ORDER BY created_at DESC")
}

func (s *PsqlStorage) GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return s.queryOrders(ctx,
		"SELECT id,user_id,payment_id,coins_deducted,amount_usd,crypto_type,crypto_amount,status,created_at FROM orders WHERE user_id = $1 ORDER BY created_at DESC",
		userID)
}

func (s *PsqlStorage) GetOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	row := s.connection.QueryRowContext(ctx,
		"SELECT id,user_id,payment_id,coins_deducted,amount_usd,crypto_type,crypto_amount,status,created_at FROM orders WHERE payment_id = $1", paymentID)
	var o models.Order
	err := row.Scan(&o.ID, &o.UserID, &o.PaymentID, &o.CoinsDeducted, &o.AmountUSD, &o.CryptoType, &o.CryptoAmount, &o.Status, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("order for payment %v not found", paymentID)
		}
		logger.Log.Error("get order by payment id error - db row scan error", zap.Error(err))
		return nil, errs.Storage(err, "getting order failed")
	}
	return &o, nil
}

func (s *PsqlStorage) queryOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	rows, err := s.connection.QueryContext(ctx, query, args...)
	if err != nil {
		logger.Log.Error("get orders error - query error", zap.Error(err))
		return nil, errs.Storage(err, "listing orders failed")
	}
	defer rows.Close()
	orders := []models.Order{}
	for rows.Next() {
		var o models.Order
		err := rows.Scan(&o.ID, &o.UserID, &o.PaymentID, &o.CoinsDeducted, &o.AmountUSD, &o.CryptoType, &o.CryptoAmount, &o.Status, &o.CreatedAt)
		if err != nil {
			logger.Log.Error("get orders error - scan error", zap.Error(err))
			return nil, errs.Storage(err, "listing orders failed")
		}
		orders = append(orders, o)
	}
	if rows.Err() != nil {
		logger.Log.Error("get orders error - rows iteration error", zap.Error(rows.Err()))
		return nil, errs.Storage(rows.Err(), "listing orders failed")
	}
	return orders, nil
}

// AddPayment debits the user and inserts the pending payment in one
// transaction. The user row is locked first, so the balance check cannot race
// a concurrent debit.
func (s *PsqlStorage) AddPayment(ctx context.Context, p *models.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	tx, err := s.connection.BeginTx(ctx, nil)
	if err != nil {
		logger.Log.Error("add payment error - transaction open failed", zap.Error(err))
		return errs.Storage(err, "adding payment failed")
	}
	defer tx.Rollback()

	var coins decimal.Decimal
	err = tx.QueryRowContext(ctx,
		"SELECT coins FROM users WHERE id = $1 FOR UPDATE", p.UserID).Scan(&coins)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errs.NotFound("user %v not found", p.UserID)
		}
		logger.Log.Error("add payment error - user lock failed", zap.Error(err))
		return errs.Storage(err, "adding payment failed")
	}
	debit := decimal.NewFromInt(p.Coins)
	if coins.LessThan(debit) {
		return errs.InsufficientBalance("user %v has %v coins, needs %v", p.UserID, coins, p.Coins)
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE users SET coins = coins - $1 WHERE id = $2", debit, p.UserID)
	if err != nil {
		logger.Log.Error("add payment error - balance update failed", zap.Error(err))
		return errs.Storage(err, "adding payment failed")
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO payments (id,user_id,coins,amount_usd,status,charge_ref,created_at) VALUES($1,$2,$3,$4,$5,$6,$7)",
		p.ID, p.UserID, p.Coins, p.AmountUSD, p.Status, p.ChargeRef, p.CreatedAt)
	if err != nil {
		logger.Log.Error("add payment error - db inserting failed", zap.Error(err))
		return errs.Storage(err, "adding payment failed")
	}
	if err := tx.Commit(); err != nil {
		logger.Log.Error("add payment error - commit failed", zap.Error(err))
		return errs.Storage(err, "adding payment failed")
	}
	return nil
}

// ConfirmPayment locks the payment row, then the user row, credits the
// holdings, stamps the payment and appends the order in one transaction.
func (s *PsqlStorage) ConfirmPayment(ctx context.Context, paymentID string, credit storage.CryptoCredit) (*models.Payment, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	tx, err := s.connection.BeginTx(ctx, nil)
	if err != nil {
		logger.Log.Error("confirm payment error - transaction open failed", zap.Error(err))
		return nil, false, errs.Storage(err, "confirming payment failed")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT id,user_id,coins,amount_usd,status,charge_ref,created_at,confirmed_at,crypto_type,crypto_amount FROM payments WHERE id = $1 FOR UPDATE", paymentID)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, errs.NotFound("payment %v not found", paymentID)
		}
		logger.Log.Error("confirm payment error - payment lock failed", zap.Error(err))
		return nil, false, errs.Storage(err, "confirming payment failed")
	}
	switch p.Status {
	case models.PaymentStatusConfirmed:
		return p, false, nil
	case models.PaymentStatusExpired:
		return nil, false, errs.Conflict("payment %v already expired", paymentID)
	}

	var uid string
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM users WHERE id = $1 FOR UPDATE", p.UserID).Scan(&uid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, errs.NotFound("user %v not found", p.UserID)
		}
		logger.Log.Error("confirm payment error - user lock failed", zap.Error(err))
		return nil, false, errs.Storage(err, "confirming payment failed")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO crypto_holdings (user_id,code,amount) VALUES($1,$2,$3)
		ON CONFLICT (user_id,code) DO UPDATE SET amount = crypto_holdings.amount + EXCLUDED.amount`,
		p.UserID, credit.Code, credit.Amount)
	if err != nil {
		logger.Log.Error("confirm payment error - holdings update failed", zap.Error(err))
		return nil, false, errs.Storage(err, "confirming payment failed")
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE payments SET status = $1, confirmed_at = $2, crypto_type = $3, crypto_amount = $4 WHERE id = $5",
		models.PaymentStatusConfirmed, credit.ConfirmedAt, credit.Code, credit.Amount, paymentID)
	if err != nil {
		logger.Log.Error("confirm payment error - status update failed", zap.Error(err))
		return nil, false, errs.Storage(err, "confirming payment failed")
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO orders (id,user_id,payment_id,coins_deducted,amount_usd,crypto_type,crypto_amount,status,created_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)",
		credit.OrderID, p.UserID, paymentID, p.Coins, p.AmountUSD, credit.Code, credit.Amount, models.OrderStatusCompleted, credit.ConfirmedAt)
	if err != nil {
		logger.Log.Error("confirm payment error - order inserting failed", zap.Error(err))
		return nil, false, errs.Storage(err, "confirming payment failed")
	}
	if err := tx.Commit(); err != nil {
		logger.Log.Error("confirm payment error - commit failed", zap.Error(err))
		return nil, false, errs.Storage(err, "confirming payment failed")
	}

	confirmedAt := credit.ConfirmedAt
	amount := credit.Amount
	p.Status = models.PaymentStatusConfirmed
	p.ConfirmedAt = &confirmedAt
	p.CryptoType = credit.Code
	p.CryptoAmount = &amount
	return p, true, nil
}

// ExpirePayment restores the coins of a stale pending payment and marks it
// EXPIRED in one transaction. Terminal payments are left unchanged.
func (s *PsqlStorage) ExpirePayment(ctx context.Context, paymentID string) (*models.Payment, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	tx, err := s.connection.BeginTx(ctx, nil)
	if err != nil {
		logger.Log.Error("expire payment error - transaction open failed", zap.Error(err))
		return nil, false, errs.Storage(err, "expiring payment failed")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT id,user_id,coins,amount_usd,status,charge_ref,created_at,confirmed_at,crypto_type,crypto_amount FROM payments WHERE id = $1 FOR UPDATE", paymentID)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, errs.NotFound("payment %v not found", paymentID)
		}
		logger.Log.Error("expire payment error - payment lock failed", zap.Error(err))
		return nil, false, errs.Storage(err, "expiring payment failed")
	}
	if p.Status != models.PaymentStatusPending {
		return p, false, nil
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE users SET coins = coins + $1 WHERE id = $2", decimal.NewFromInt(p.Coins), p.UserID)
	if err != nil {
		logger.Log.Error("expire payment error - balance restore failed", zap.Error(err))
		return nil, false, errs.Storage(err, "expiring payment failed")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, false, errs.NotFound("user %v not found", p.UserID)
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE payments SET status = $1 WHERE id = $2", models.PaymentStatusExpired, paymentID)
	if err != nil {
		logger.Log.Error("expire payment error - status update failed", zap.Error(err))
		return nil, false, errs.Storage(err, "expiring payment failed")
	}
	if err := tx.Commit(); err != nil {
		logger.Log.Error("expire payment error - commit failed", zap.Error(err))
		return nil, false, errs.Storage(err, "expiring payment failed")
	}

	p.Status = models.PaymentStatusExpired
	return p, true, nil
}

func (s *PsqlStorage) loadHoldings(ctx context.Context, user *models.User) error {
	user.Crypto = make(map[string]decimal.Decimal)
	rows, err := s.connection.QueryContext(ctx,
		"SELECT code,amount FROM crypto_holdings WHERE user_id = $1", user.ID)
	if err != nil {
		logger.Log.Error("load holdings error - query error", zap.Error(err))
		return errs.Storage(err, "getting user failed")
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		var amount decimal.Decimal
		if err := rows.Scan(&code, &amount); err != nil {
			logger.Log.Error("load holdings error - scan error", zap.Error(err))
			return errs.Storage(err, "getting user failed")
		}
		user.Crypto[code] = amount
	}
	if rows.Err() != nil {
		logger.Log.Error("load holdings error - rows iteration error", zap.Error(rows.Err()))
		return errs.Storage(rows.Err(), "getting user failed")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Coins, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	var confirmedAt sql.NullTime
	var cryptoType sql.NullString
	var cryptoAmount decimal.NullDecimal
	err := row.Scan(&p.ID, &p.UserID, &p.Coins, &p.AmountUSD, &p.Status, &p.ChargeRef, &p.CreatedAt, &confirmedAt, &cryptoType, &cryptoAmount)
	if err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		p.ConfirmedAt = &t
	}
	if cryptoType.Valid {
		p.CryptoType = cryptoType.String
	}
	if cryptoAmount.Valid {
		a := cryptoAmount.Decimal
		p.CryptoAmount = &a
	}
	return &p, nil
}
