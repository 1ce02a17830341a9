package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
}

// Client is the REST adapter for the provider. Amounts go over the wire as
// integer minor units, authenticated with HTTP basic auth.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

var _ Gateway = (*Client)(nil)

type orderBody struct {
	ID       string            `json:"id,omitempty"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Status   string            `json:"status,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type paymentBody struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Method           string `json:"method"`
	Captured         bool   `json:"captured"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	CreatedAt        int64  `json:"created_at"`
}

func (b paymentBody) toPayment(raw []byte) *ProviderPayment {
	p := &ProviderPayment{
		ID:               b.ID,
		OrderID:          b.OrderID,
		Status:           b.Status,
		Amount:           FromMinor(b.Amount),
		Currency:         b.Currency,
		Method:           b.Method,
		Captured:         b.Captured,
		ErrorCode:        b.ErrorCode,
		ErrorDescription: b.ErrorDescription,
		Raw:              raw,
	}
	if b.CreatedAt > 0 {
		p.CreatedAt = time.Unix(b.CreatedAt, 0).UTC()
	}
	return p
}

type refundBody struct {
	ID        string            `json:"id,omitempty"`
	PaymentID string            `json:"payment_id,omitempty"`
	Amount    int64             `json:"amount,omitempty"`
	Status    string            `json:"status,omitempty"`
	Notes     map[string]string `json:"notes,omitempty"`
}

type errorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string, cust Customer) (*ProviderOrder, error) {
	req := orderBody{Amount: ToMinor(amount), Currency: currency, Receipt: receipt}
	if cust.ID != "" {
		req.Notes = map[string]string{"customer_id": cust.ID, "email": cust.Email}
	}
	var out orderBody
	if _, err := c.do(ctx, http.MethodPost, "/v1/orders", req, &out); err != nil {
		return nil, errors.Wrap(err, "create provider order")
	}
	return &ProviderOrder{
		ID:       out.ID,
		Receipt:  out.Receipt,
		Amount:   FromMinor(out.Amount),
		Currency: out.Currency,
		Status:   out.Status,
	}, nil
}

func (c *Client) VerifySignature(paymentID, orderID, signature string) error {
	return VerifyCheckout(c.cfg.KeySecret, orderID, paymentID, signature)
}

func (c *Client) PaymentDetails(ctx context.Context, paymentID string) (*ProviderPayment, error) {
	var out paymentBody
	raw, err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &out)
	if err != nil {
		return nil, errors.Wrapf(err, "payment details %s", paymentID)
	}
	return out.toPayment(raw), nil
}

// Capture captures an authorized payment. A payment that the provider
// already captured is returned as is.
func (c *Client) Capture(ctx context.Context, paymentID string, amount decimal.Decimal, currency string) (*ProviderPayment, error) {
	req := struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}{ToMinor(amount), currency}

	var out paymentBody
	raw, err := c.do(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID)+"/capture", req, &out)
	if errors.Is(err, ErrDeclined) && strings.Contains(strings.ToLower(err.Error()), "already been captured") {
		return c.PaymentDetails(ctx, paymentID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "capture %s", paymentID)
	}
	return out.toPayment(raw), nil
}

func (c *Client) Refund(ctx context.Context, paymentID string, amount decimal.Decimal, reason string) (*ProviderRefund, error) {
	req := refundBody{Notes: map[string]string{"reason": reason}}
	if amount.IsPositive() {
		req.Amount = ToMinor(amount)
	}
	var out refundBody
	if _, err := c.do(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID)+"/refund", req, &out); err != nil {
		return nil, errors.Wrapf(err, "refund %s", paymentID)
	}
	return &ProviderRefund{ID: out.ID, PaymentID: out.PaymentID, Amount: FromMinor(out.Amount), Status: out.Status}, nil
}

func (c *Client) VerifyWebhookSignature(body []byte, signature string) error {
	return VerifyWebhook(c.cfg.WebhookSecret, body, signature)
}

func (c *Client) DecodeWebhook(body []byte) (*WebhookEvent, error) {
	return DecodeWebhook(body)
}

type webhookBody struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment struct {
			Entity json.RawMessage `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// DecodeWebhook parses a provider notification. Events without an id get one
// derived from the body so redeliveries still deduplicate.
func DecodeWebhook(body []byte) (*WebhookEvent, error) {
	var w webhookBody
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, errors.Wrap(err, "decode webhook")
	}
	if w.Event == "" {
		return nil, errors.New("decode webhook: missing event")
	}
	ev := &WebhookEvent{ID: w.ID, Event: w.Event}
	if ev.ID == "" {
		sum := sha256.Sum256(body)
		ev.ID = hex.EncodeToString(sum[:16])
	}
	if w.CreatedAt > 0 {
		ev.CreatedAt = time.Unix(w.CreatedAt, 0).UTC()
	}
	if len(w.Payload.Payment.Entity) > 0 {
		var p paymentBody
		if err := json.Unmarshal(w.Payload.Payment.Entity, &p); err != nil {
			return nil, errors.Wrap(err, "decode webhook payment")
		}
		ev.Payment = p.toPayment(w.Payload.Payment.Entity)
	}
	return ev, nil
}

// do sends one request. Transport failures, timeouts and 5xx responses are
// marked ErrOutcomeUnknown; 404 is ErrNotFound; other 4xx are ErrDeclined.
func (c *Client) do(ctx context.Context, method, path string, in, out any) ([]byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s %s", method, path), ErrOutcomeUnknown)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "read response"), ErrOutcomeUnknown)
	}

	if resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		msg := eb.Error.Description
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		err := errors.Newf("%s %s: %d %s", method, path, resp.StatusCode, msg)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, errors.Mark(err, ErrNotFound)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return nil, errors.Mark(err, ErrOutcomeUnknown)
		default:
			return nil, errors.Mark(err, ErrDeclined)
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, errors.Wrap(err, "decode response")
		}
	}
	return raw, nil
}
