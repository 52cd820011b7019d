package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"marketplace-checkout/internal/config"
	"marketplace-checkout/internal/model"
	"marketplace-checkout/internal/monitoring"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// PaymentClient talks to the crypto payment API. Callers own scheduling:
// there is no retry, caching or request coalescing here.
type PaymentClient interface {
	CreateSession(ctx context.Context, req *model.PaymentRequest) (*model.PaymentSession, error)
	PollStatus(ctx context.Context, transactionID string) (*model.TransactionStatus, error)
}

// APIError is a non-2xx answer from the payment API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment api error %d: %s", e.StatusCode, e.Body)
}

type paymentClientImpl struct {
	http *resty.Client
}

type createSessionBody struct {
	Amount      json.Number `json:"amount"`
	Currency    string      `json:"currency"`
	ProductID   string      `json:"productId"`
	ProductType string      `json:"productType"`
	UserID      string      `json:"userId"`
}

type sessionResult struct {
	PaymentAddress string          `json:"paymentAddress"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	QRCodeURL      string          `json:"qrCodeUrl"`
	ExpirationTime int64           `json:"expirationTime"`
	TransactionID  string          `json:"transactionId"`
}

type statusResult struct {
	Status          string `json:"status"`
	Confirmations   *int   `json:"confirmations,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
	PaidAt          *int64 `json:"paidAt,omitempty"`
}

func NewPaymentClient(cfg *config.PaymentAPI) PaymentClient {
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		c.SetAuthToken(cfg.APIKey)
	}

	return &paymentClientImpl{http: c}
}

func (c *paymentClientImpl) CreateSession(ctx context.Context, req *model.PaymentRequest) (*model.PaymentSession, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid payment request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&createSessionBody{
			Amount:      json.Number(req.Amount.String()),
			Currency:    req.Currency,
			ProductID:   req.ProductID,
			ProductType: string(req.ProductType),
			UserID:      req.UserID,
		}).
		Post("/sessions")
	if err := checkResponse(resp, err); err != nil {
		observe("create_session", start, false)
		return nil, fmt.Errorf("create payment session: %w", err)
	}

	var result sessionResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		observe("create_session", start, false)
		return nil, fmt.Errorf("decode payment session: %w", err)
	}
	if result.TransactionID == "" || result.ExpirationTime == 0 {
		observe("create_session", start, false)
		return nil, errors.New("payment session response is missing transactionId or expirationTime")
	}
	observe("create_session", start, true)

	return &model.PaymentSession{
		PaymentAddress: result.PaymentAddress,
		Amount:         result.Amount,
		Currency:       result.Currency,
		QRCodeURL:      result.QRCodeURL,
		ExpirationTime: result.ExpirationTime,
		TransactionID:  result.TransactionID,
	}, nil
}

func (c *paymentClientImpl) PollStatus(ctx context.Context, transactionID string) (*model.TransactionStatus, error) {
	if transactionID == "" {
		return nil, errors.New("transaction id is required")
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("transactionID", transactionID).
		Get("/sessions/{transactionID}/status")
	if err := checkResponse(resp, err); err != nil {
		observe("poll_status", start, false)
		return nil, fmt.Errorf("poll payment status: %w", err)
	}

	var result statusResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		observe("poll_status", start, false)
		return nil, fmt.Errorf("decode payment status: %w", err)
	}
	status := model.PaymentStatus(result.Status)
	if !status.Valid() {
		observe("poll_status", start, false)
		return nil, fmt.Errorf("unknown payment status %q", result.Status)
	}
	observe("poll_status", start, true)

	return &model.TransactionStatus{
		Status:          status,
		Confirmations:   result.Confirmations,
		TransactionHash: result.TransactionHash,
		PaidAt:          result.PaidAt,
	}, nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return &APIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}

func observe(operation string, start time.Time, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	monitoring.PaymentAPIDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}
