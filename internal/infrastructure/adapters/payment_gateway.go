package adapters

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/coinpilot/coinpilot-core/pkg/errors"
	"github.com/coinpilot/coinpilot-core/pkg/metrics"
)

const defaultPaymentTimeout = 30 * time.Second

// PaymentConfig represents payment processor configuration
type PaymentConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	Environment string // sandbox or production
}

// PaymentClient charges funding sources through the payment processor.
// Every charge carries an idempotency key, so retried requests are
// applied at most once on the processor side.
type PaymentClient struct {
	config         PaymentConfig
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *zap.Logger
}

// NewPaymentClient creates a new payment processor client
func NewPaymentClient(config PaymentConfig, logger *zap.Logger) *PaymentClient {
	if config.Timeout == 0 {
		config.Timeout = defaultPaymentTimeout
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	st := gobreaker.Settings{
		Name:        "PaymentProcessor",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &PaymentClient{
		config:         config,
		httpClient:     httpClient,
		circuitBreaker: gobreaker.NewCircuitBreaker(st),
		logger:         logger,
	}
}

type chargeRequest struct {
	PayerRef string `json:"payer_ref"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type chargeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Charge debits the payer's funding source
func (c *PaymentClient) Charge(ctx context.Context, payerRef string, amount decimal.Decimal, currency, idempotencyKey string) (string, error) {
	started := time.Now()

	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return c.doCharge(ctx, payerRef, amount, currency, idempotencyKey)
	})

	metrics.ExternalCallDuration.WithLabelValues("payment", "charge").
		Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.ExternalCallFailures.WithLabelValues("payment", "charge").Inc()
		c.logger.Error("charge failed",
			zap.Error(err),
			zap.String("payer_ref", payerRef),
			zap.String("idempotency_key", idempotencyKey),
		)
		return "", errors.Wrap(err, errors.ErrCodePaymentFailed,
			fmt.Sprintf("charge %s %s", amount.String(), currency))
	}

	paymentID := result.(string)
	c.logger.Info("charge succeeded",
		zap.String("payment_id", paymentID),
		zap.String("payer_ref", payerRef),
		zap.String("amount", amount.String()),
	)

	return paymentID, nil
}

// RevokeMandate withdraws the recurring-payment authorization for a
// payer reference, so the processor refuses further charges against it
func (c *PaymentClient) RevokeMandate(ctx context.Context, payerRef string) error {
	started := time.Now()

	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.doRevokeMandate(ctx, payerRef)
	})

	metrics.ExternalCallDuration.WithLabelValues("payment", "revoke_mandate").
		Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.ExternalCallFailures.WithLabelValues("payment", "revoke_mandate").Inc()
		c.logger.Error("mandate revocation failed",
			zap.Error(err),
			zap.String("payer_ref", payerRef),
		)
		return errors.Wrap(err, errors.ErrCodePaymentFailed,
			fmt.Sprintf("revoke mandate for %s", payerRef))
	}

	c.logger.Info("mandate revoked", zap.String("payer_ref", payerRef))
	return nil
}

func (c *PaymentClient) doRevokeMandate(ctx context.Context, payerRef string) error {
	url := c.config.BaseURL + "/v1/mandates/" + payerRef
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("build mandate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mandate request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read mandate response: %w", err)
	}

	// A mandate already gone counts as revoked
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return fmt.Errorf("processor returned status %d: %s", resp.StatusCode, string(body))
}

func (c *PaymentClient) doCharge(ctx context.Context, payerRef string, amount decimal.Decimal, currency, idempotencyKey string) (string, error) {
	payload, err := json.Marshal(chargeRequest{
		PayerRef: payerRef,
		Amount:   amount.String(),
		Currency: currency,
	})
	if err != nil {
		return "", fmt.Errorf("marshal charge request: %w", err)
	}

	url := c.config.BaseURL + "/v1/charges"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("charge request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read charge response: %w", err)
	}

	var charge chargeResponse
	if err := json.Unmarshal(body, &charge); err != nil {
		return "", fmt.Errorf("decode charge response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if charge.Error != "" {
			return "", fmt.Errorf("processor declined charge: %s", charge.Error)
		}
		return "", fmt.Errorf("processor returned status %d", resp.StatusCode)
	}

	if charge.Status != "succeeded" && charge.Status != "pending" {
		return "", fmt.Errorf("charge in unexpected status %q", charge.Status)
	}

	return charge.ID, nil
}
