package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcm/rcm/internal/platform/errs"
)

// Gateway opens payment intents with the external payment processor.
// Signature verification is local (HMAC over the order/payment pair) and
// does not go through this interface.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error)
}

// SignPayment computes the gateway signature for an (order, payment) pair:
// HMAC-SHA256 over "orderID|paymentID" keyed with the gateway secret,
// hex-encoded. Exposed for tests and for sandbox tooling that has to forge
// valid callbacks.
func SignPayment(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a gateway callback signature in constant time.
func VerifySignature(secret, orderID, paymentID, signature string) bool {
	expected := SignPayment(secret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// HTTPGateway talks to the payment processor's REST API with a bounded
// per-call budget.
type HTTPGateway struct {
	baseURL string
	keyID   string
	secret  string
	client  *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

func NewHTTPGateway(baseURL, keyID, secret string, timeout time.Duration, logger zerolog.Logger) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		keyID:   keyID,
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger,
	}
}

type gatewayOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type gatewayOrderResponse struct {
	ID string `json:"id"`
}

// CreateOrder opens a payment intent and returns the gateway's order id.
func (g *HTTPGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	body, err := json.Marshal(gatewayOrderRequest{Amount: amountMinor, Currency: currency, Receipt: receipt})
	if err != nil {
		return "", fmt.Errorf("marshal order request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.keyID, g.secret)

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return "", errs.UpstreamTimeout("gateway order creation exceeded %s budget", g.timeout)
		}
		return "", fmt.Errorf("gateway order request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	var out gatewayOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode order response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("gateway returned empty order id")
	}

	g.logger.Debug().Str("gateway_order_id", out.ID).Int64("amount_minor", amountMinor).Msg("gateway order created")
	return out.ID, nil
}
