package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cryptomart/internal/errs"
	"cryptomart/internal/logger"
)

// Processor is the external payment processor collaborator: it creates hosted
// charges and quotes crypto prices. Production uses the HTTP client, tests and
// mock mode use the stub.
type Processor interface {
	CreateCharge(ctx context.Context, userID string, amountUSD decimal.Decimal) (string, error)
	PriceUSD(ctx context.Context, code string) (decimal.Decimal, error)
}

type HTTPClient struct {
	url     string
	client  *http.Client
	repeats int
}

func NewHTTPClient(u string, repeats int) *HTTPClient {
	return &HTTPClient{url: u, client: &http.Client{Timeout: 10 * time.Second}, repeats: repeats}
}

type chargeRequest struct {
	UserID    string          `json:"user_id"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
}

type chargeResponse struct {
	ChargeRef string `json:"charge_ref"`
}

type priceResponse struct {
	Code     string          `json:"code"`
	PriceUSD decimal.Decimal `json:"price_usd"`
}

// CreateCharge requests a hosted charge reference, retrying according to
// repeats and honoring Retry-After on 429 the way the processor asks.
func (c *HTTPClient) CreateCharge(ctx context.Context, userID string, amountUSD decimal.Decimal) (string, error) {
	body, err := json.Marshal(chargeRequest{UserID: userID, AmountUSD: amountUSD})
	if err != nil {
		return "", errs.Storage(err, "payment processor unavailable")
	}
	var resp chargeResponse
	err = c.do(ctx, http.MethodPost, c.url+"/api/charges", body, &resp)
	if err != nil {
		return "", err
	}
	if resp.ChargeRef == "" {
		return "", errs.Storage(nil, "payment processor unavailable")
	}
	return resp.ChargeRef, nil
}

// PriceUSD fetches the current USD price for one unit of the given code.
func (c *HTTPClient) PriceUSD(ctx context.Context, code string) (decimal.Decimal, error) {
	var resp priceResponse
	err := c.do(ctx, http.MethodGet, c.url+"/api/prices/"+code, nil, &resp)
	if err != nil {
		return decimal.Zero, err
	}
	if !resp.PriceUSD.IsPositive() {
		return decimal.Zero, errs.Storage(nil, "payment processor unavailable")
	}
	return resp.PriceUSD, nil
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body []byte, out any) error {
	for i := 1; i <= c.repeats; i++ {
		logger.Log.Debug("processor request attempt", zap.String("attempt", strconv.Itoa(i)), zap.String("url", url))
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return errs.Storage(err, "payment processor unavailable")
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		r, err := c.client.Do(req)
		// if request failed repeat
		if err != nil {
			logger.Log.Error("request to processor failed", zap.String("url", url), zap.Error(err))
			continue
		}
		switch r.StatusCode {
		// if too many requests wait for delay and drop the repeat counter
		case http.StatusTooManyRequests:
			r.Body.Close()
			delay, err := strconv.Atoi(r.Header.Get("Retry-After"))
			if err != nil {
				logger.Log.Error("converting retry-after failed", zap.String("url", url), zap.Error(err))
				continue
			}
			delayTimer := time.NewTimer(time.Duration(delay) * time.Second)
			select {
			case <-ctx.Done():
				delayTimer.Stop()
				return errs.Storage(ctx.Err(), "payment processor unavailable")
			case <-delayTimer.C:
			}
			i = 1
			continue
		case http.StatusOK, http.StatusCreated:
			respBody, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				logger.Log.Error("processor response body reading failed", zap.String("url", url), zap.Error(err))
				continue
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				logger.Log.Error("processor response body unmarshal failed", zap.String("url", url), zap.Error(err))
				continue
			}
			return nil
		default:
			r.Body.Close()
			logger.Log.Error("processor returned unexpected status", zap.String("url", url), zap.Int("status", r.StatusCode))
			continue
		}
	}
	return errs.Storage(fmt.Errorf("%d attempts exhausted", c.repeats), "payment processor unavailable")
}
