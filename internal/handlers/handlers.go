package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"cryptomart/internal/authorization"
	"cryptomart/internal/constants"
	"cryptomart/internal/errs"
	"cryptomart/internal/ledger"
	"cryptomart/internal/logger"
	"cryptomart/internal/middlewares"
	"cryptomart/internal/models"
	"cryptomart/internal/storage"
	"cryptomart/internal/utils"
)

var validate = validator.New()

type registerRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type estimateRequest struct {
	Coins *json.Number `json:"coins" validate:"required"`
}

type conversionRequest struct {
	Coins *int64 `json:"coins" validate:"required"`
}

type webhookRequest struct {
	PaymentID string `json:"payment_id" validate:"required"`
	Action    string `json:"action" validate:"required"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		logger.Log.Error("response serialization failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"kind":"storage_failure","message":"Internal Server Error"}}`))
		return
	}
	w.Header().Set("Content-Type", constants.CntTypeHeaderJSON)
	w.WriteHeader(code)
	w.Write(body)
}

// writeErr maps the error taxonomy to HTTP statuses. Storage faults and
// anything unrecognized stay generic: no internal state leaves the process.
func writeErr(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	var status int
	switch kind {
	case errs.KindInvalidInput:
		status = http.StatusBadRequest
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindOutOfRange:
		status = http.StatusUnprocessableEntity
	case errs.KindInsufficientBalance:
		status = http.StatusPaymentRequired
	case errs.KindConflict:
		status = http.StatusConflict
	default:
		logger.Log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]errorBody{
			"error": {Kind: errs.KindStorage.String(), Message: "Internal Server Error"},
		})
		return
	}
	var e *errs.Error
	msg := "request failed"
	if errors.As(err, &e) {
		msg = e.Msg
	}
	writeJSON(w, status, map[string]errorBody{"error": {Kind: kind.String(), Message: msg}})
}

// readBody decodes and validates a JSON request body into dst.
func readBody(r *http.Request, dst any) error {
	if appType := r.Header.Get("Content-Type"); appType != constants.CntTypeHeaderJSON {
		return errs.InvalidInput("wrong request Content-Type")
	}
	reqBody, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		return errs.Storage(err, "body reading failed")
	}
	if err := json.Unmarshal(reqBody, dst); err != nil {
		logger.Log.Debug("body deserialization error", zap.Error(err))
		return errs.InvalidInput("wrong request format")
	}
	if err := validate.Struct(dst); err != nil {
		logger.Log.Debug("body validation error", zap.Error(err))
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return errs.InvalidInput("field %v failed on %v", verrs[0].Field(), verrs[0].Tag())
		}
		return errs.InvalidInput("wrong request format")
	}
	return nil
}

// requestUID extracts the user id stored in the context by the Authorize
// middleware.
func requestUID(r *http.Request) (string, error) {
	userID := r.Context().Value(middlewares.UID)
	userIDStr, ok := userID.(string)
	if !ok {
		return "", errs.Storage(nil, "getting uid value from request context failed")
	}
	return userIDStr, nil
}

func RegisterPostHandler(s storage.Storage, a authorization.Authorizer, grant decimal.Decimal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := readBody(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		pwdHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			logger.Log.Error("registration handler error - password hashing failed", zap.Error(err))
			writeErr(w, errs.Storage(err, "password hashing failed"))
			return
		}
		user := models.User{
			ID:           uuid.New().String(),
			Name:         req.Name,
			Email:        req.Email,
			PasswordHash: string(pwdHash),
			Coins:        grant,
			Crypto:       make(map[string]decimal.Decimal),
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.AddUser(r.Context(), &user); err != nil {
			writeErr(w, err)
			return
		}
		token, err := a.ProduceToken(user.ID)
		if err != nil {
			writeErr(w, errs.Storage(err, "token producing failed"))
			return
		}
		logger.Log.Info("user registered", zap.String("user", user.ID))
		w.Header().Add(constants.HeaderToken, token)
		writeJSON(w, http.StatusOK, user)
	}
}

func LoginPostHandler(s storage.Storage, a authorization.Authorizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := readBody(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		// cheap gate before the storage lookup
		if !utils.CheckEmail(req.Email) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Wrong email or password"))
			return
		}
		user, err := s.GetUserByEmail(r.Context(), req.Email)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte("Wrong email or password"))
				return
			}
			writeErr(w, err)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Wrong email or password"))
			return
		}
		token, err := a.ProduceToken(user.ID)
		if err != nil {
			writeErr(w, errs.Storage(err, "token producing failed"))
			return
		}
		w.Header().Add(constants.HeaderToken, token)
		writeJSON(w, http.StatusOK, user)
	}
}

func BalanceGetHandler(s storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUID(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		user, err := s.GetUserByID(r.Context(), userID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"coins":  user.Coins,
			"crypto": user.Crypto,
		})
	}
}

func EstimatePostHandler(l *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUID(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		var req estimateRequest
		if err := readBody(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		coins, err := decimal.NewFromString(req.Coins.String())
		if err != nil {
			writeErr(w, errs.InvalidInput("coins must be a number"))
			return
		}
		amountUSD, err := l.EstimateUSD(r.Context(), userID, coins)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"amount_usd": amountUSD})
	}
}

func ConversionPostHandler(l *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUID(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		var req conversionRequest
		if err := readBody(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		payment, err := l.Initiate(r.Context(), userID, *req.Coins)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payment)
	}
}

func PaymentsGetHandler(s storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUID(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		payments, err := s.GetPaymentsByUser(r.Context(), userID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if len(payments) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, payments)
	}
}

func OrdersGetHandler(s storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUID(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		orders, err := s.GetOrdersByUser(r.Context(), userID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if len(orders) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, orders)
	}
}

// WebhookPostHandler processes the payment confirmation event from the
// external processor. Safe to re-deliver: an already confirmed payment is
// returned unchanged.
func WebhookPostHandler(l *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req webhookRequest
		if err := readBody(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		payment, err := l.Confirm(r.Context(), req.PaymentID, req.Action)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payment)
	}
}

func CollectionsGetHandler(l *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "collection")
		records, err := l.ListCollection(r.Context(), name)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Cryptomart page not found"))
	}
}
