package khalti

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"sneaker-store/internal/util"

	"go.uber.org/zap"
)

// StatusCompleted is the lookup status of a fully paid checkout
const StatusCompleted = "Completed"

// DetailInvalidCredentials replaces the gateway body on 401 responses
const DetailInvalidCredentials = "InvalidCredentials"

// GatewayError is a non-2xx response from the gateway
type GatewayError struct {
	HTTPStatus int
	Detail     string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("khalti: status %d: %s", e.HTTPStatus, e.Detail)
}

// IsGatewayError reports whether err wraps a *GatewayError
func IsGatewayError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr)
}

// CustomerInfo is shown to the payer on the hosted checkout page
type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// InitiateRequest starts a hosted checkout. Amount is in paisa.
type InitiateRequest struct {
	ReturnURL         string       `json:"return_url"`
	WebsiteURL        string       `json:"website_url"`
	Amount            int64        `json:"amount"`
	PurchaseOrderID   string       `json:"purchase_order_id"`
	PurchaseOrderName string       `json:"purchase_order_name"`
	CustomerInfo      CustomerInfo `json:"customer_info"`
}

type InitiateResponse struct {
	Pidx       string `json:"pidx"`
	PaymentURL string `json:"payment_url"`
	ExpiresAt  string `json:"expires_at"`
	ExpiresIn  int    `json:"expires_in"`
}

type LookupResponse struct {
	Pidx          string `json:"pidx"`
	TotalAmount   int64  `json:"total_amount"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Fee           int64  `json:"fee"`
	Refunded      bool   `json:"refunded"`
}

// Client calls the Khalti ePayment API. Calls are never retried.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a gateway client; baseURL has no trailing slash
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: util.GetLogger(),
	}
}

// Initiate registers a checkout and returns the hosted payment URL
func (c *Client) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error) {
	var resp InitiateResponse
	if err := c.doRequest(ctx, "initiate", "/epayment/initiate/", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Lookup fetches the authoritative state of a payment
func (c *Client) Lookup(ctx context.Context, pidx string) (*LookupResponse, error) {
	var resp LookupResponse
	body := map[string]string{"pidx": pidx}
	if err := c.doRequest(ctx, "lookup", "/epayment/lookup/", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doRequest(ctx context.Context, operation, path string, body interface{}, out interface{}) error {
	ctx, span := util.StartSpan(ctx, "khalti."+operation)
	defer span.End()

	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		util.GatewayErrorsTotal.WithLabelValues(operation, "transport").Inc()
		util.RecordError(span, err)
		return fmt.Errorf("khalti %s: %w", operation, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := &GatewayError{HTTPStatus: resp.StatusCode, Detail: string(respBytes)}
		if resp.StatusCode == http.StatusUnauthorized {
			gwErr.Detail = DetailInvalidCredentials
		}
		util.GatewayErrorsTotal.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()
		util.RecordError(span, gwErr)
		c.logger.Error("Gateway request failed",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", gwErr.Detail))
		return gwErr
	}

	if err := json.Unmarshal(respBytes, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
