package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vendemais/order-service/internal/app"
)

var centsPerUnit = decimal.NewFromInt(100)

type Config struct {
	APIBase       string
	SecretKey     string
	WebhookSecret string

	SuccessURL string
	CancelURL  string

	Timeout            time.Duration
	SignatureTolerance time.Duration
}

// Client is the production PaymentProcessor: a thin wrapper over the
// processor's form-encoded HTTP API.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

type sessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutSession opens a hosted checkout session. The four party ids
// travel as opaque metadata and come back untouched in webhook events; the
// reconciler depends on metadata[transaction_id] to correlate.
func (c *Client) CreateCheckoutSession(ctx context.Context, p app.CheckoutSessionParams) (app.CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", c.cfg.SuccessURL)
	form.Set("cancel_url", c.cfg.CancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", "brl")
	form.Set("line_items[0][price_data][product_data][name]", p.Title)
	form.Set("line_items[0][price_data][unit_amount]", p.Amount.Mul(centsPerUnit).StringFixed(0))
	form.Set("metadata[transaction_id]", p.TransactionID.String())
	form.Set("metadata[product_id]", p.ProductID.String())
	form.Set("metadata[buyer_id]", p.BuyerID.String())
	form.Set("metadata[seller_id]", p.SellerID.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.APIBase+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return app.CheckoutSession{}, fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return app.CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return app.CheckoutSession{}, fmt.Errorf("read session response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return app.CheckoutSession{}, fmt.Errorf("processor returned status %d: %s", resp.StatusCode, truncate(body))
	}

	var session sessionResponse
	if err := json.Unmarshal(body, &session); err != nil {
		return app.CheckoutSession{}, fmt.Errorf("decode session response: %w", err)
	}
	if session.ID == "" || session.URL == "" {
		return app.CheckoutSession{}, fmt.Errorf("processor response missing id or url")
	}

	return app.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (c *Client) VerifySignature(payload []byte, sigHeader string) error {
	return VerifySignature(c.cfg.WebhookSecret, payload, sigHeader, c.cfg.SignatureTolerance, time.Now())
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
