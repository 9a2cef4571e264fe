package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vendemais/order-service/internal/app"
	"github.com/vendemais/order-service/internal/domain"
)

type Config struct {
	APIBase string
	Token   string

	// The aggregator rejects requests without an identifying User-Agent.
	UserAgent string

	Timeout time.Duration
}

// Client is the production CarrierAggregator, a thin JSON wrapper over the
// Melhor Envio API. The aggregator enforces a request-rate ceiling; the
// bounded http.Client timeout keeps a slow upstream from pinning handlers.
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

type addressPayload struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Document   string `json:"document"`
	Address    string `json:"address"`
	Number     string `json:"number"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district"`
	City       string `json:"city"`
	StateAbbr  string `json:"state_abbr"`
	PostalCode string `json:"postal_code"`
}

type volumePayload struct {
	Weight float64 `json:"weight"`
	Height float64 `json:"height"`
	Width  float64 `json:"width"`
	Length float64 `json:"length"`
}

func toAddressPayload(a domain.Address) addressPayload {
	return addressPayload{
		Name:       a.Name,
		Phone:      a.Phone,
		Document:   a.Document,
		Address:    a.Street,
		Number:     a.Number,
		Complement: a.Complement,
		District:   a.District,
		City:       a.City,
		StateAbbr:  a.State,
		PostalCode: a.PostalCode,
	}
}

func toVolumePayload(p domain.Package) volumePayload {
	return volumePayload{
		Weight: p.WeightKg,
		Height: p.HeightCm,
		Width:  p.WidthCm,
		Length: p.LengthCm,
	}
}

type rateResponse struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Price   string `json:"price"`
	Company struct {
		Name string `json:"name"`
	} `json:"company"`
	DeliveryTime int    `json:"delivery_time"`
	Error        string `json:"error,omitempty"`
}

func (c *Client) CalculateRates(ctx context.Context, q app.RateQuery) ([]app.Rate, error) {
	reqBody := map[string]any{
		"from":    map[string]string{"postal_code": q.FromPostalCode},
		"to":      map[string]string{"postal_code": q.ToPostalCode},
		"package": toVolumePayload(q.Package),
	}

	var raw []rateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/me/shipment/calculate", reqBody, &raw); err != nil {
		return nil, err
	}

	rates := make([]app.Rate, 0, len(raw))
	for _, r := range raw {
		// Services the carrier cannot serve come back with an error field.
		if r.Error != "" {
			continue
		}
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			c.log.Warn("skipping rate with unparseable price", "service_id", r.ID, "price", r.Price)
			continue
		}
		rates = append(rates, app.Rate{
			ServiceID:    r.ID,
			Carrier:      r.Company.Name,
			Service:      r.Name,
			Price:        price,
			DeliveryDays: r.DeliveryTime,
		})
	}
	return rates, nil
}

func (c *Client) AddToCart(ctx context.Context, item app.CartItem) (string, error) {
	reqBody := map[string]any{
		"service": item.ServiceID,
		"from":    toAddressPayload(item.From),
		"to":      toAddressPayload(item.To),
		"volumes": []volumePayload{toVolumePayload(item.Package)},
		"products": []map[string]any{{
			"name":          item.ProductTitle,
			"quantity":      1,
			"unitary_value": item.InsuredValue.InexactFloat64(),
		}},
		"options": map[string]any{
			"insurance_value": item.InsuredValue.InexactFloat64(),
			"receipt":         false,
			"own_hand":        false,
		},
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/me/cart", reqBody, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("aggregator cart response missing id")
	}
	return resp.ID, nil
}

func (c *Client) Checkout(ctx context.Context, cartItemIDs []string) (app.CarrierOrder, error) {
	var resp struct {
		Purchase struct {
			Orders []struct {
				ID       string `json:"id"`
				Protocol string `json:"protocol"`
			} `json:"orders"`
		} `json:"purchase"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/me/shipment/checkout",
		map[string]any{"orders": cartItemIDs}, &resp); err != nil {
		return app.CarrierOrder{}, err
	}
	if len(resp.Purchase.Orders) == 0 {
		return app.CarrierOrder{}, fmt.Errorf("aggregator checkout returned no orders")
	}

	order := resp.Purchase.Orders[0]
	return app.CarrierOrder{PurchaseID: order.ID, TrackingCode: order.Protocol}, nil
}

func (c *Client) GenerateLabel(ctx context.Context, purchaseIDs []string) error {
	return c.doJSON(ctx, http.MethodPost, "/me/shipment/generate",
		map[string]any{"orders": purchaseIDs}, nil)
}

func (c *Client) PrintLabel(ctx context.Context, purchaseIDs []string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/me/shipment/print",
		map[string]any{"mode": "public", "orders": purchaseIDs}, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("aggregator print response missing url")
	}
	return resp.URL, nil
}

type trackResponse struct {
	Status      string `json:"status"`
	Tracking    string `json:"tracking"`
	Occurrences []struct {
		CreatedAt   string `json:"created_at"`
		Description string `json:"description"`
		Location    string `json:"location"`
	} `json:"occurrences"`
}

func (c *Client) Track(ctx context.Context, carrierOrderID string) (app.CarrierTracking, error) {
	var resp map[string]trackResponse
	if err := c.doJSON(ctx, http.MethodPost, "/me/shipment/tracking",
		map[string]any{"orders": []string{carrierOrderID}}, &resp); err != nil {
		return app.CarrierTracking{}, err
	}

	tr, ok := resp[carrierOrderID]
	if !ok {
		return app.CarrierTracking{}, fmt.Errorf("aggregator tracking response missing order %s", carrierOrderID)
	}

	events := make([]domain.TrackingEvent, 0, len(tr.Occurrences))
	for _, occ := range tr.Occurrences {
		date, err := time.Parse(time.RFC3339, occ.CreatedAt)
		if err != nil {
			// Some occurrences arrive with a space-separated timestamp.
			date, err = time.Parse("2006-01-02 15:04:05", occ.CreatedAt)
			if err != nil {
				c.log.Warn("skipping tracking occurrence with unparseable date",
					"carrier_order_id", carrierOrderID, "date", occ.CreatedAt)
				continue
			}
		}
		events = append(events, domain.TrackingEvent{
			Date:        date,
			Description: occ.Description,
			Location:    occ.Location,
		})
	}

	return app.CarrierTracking{Status: tr.Status, Events: events}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, out any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBase+path, body)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("aggregator %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read aggregator response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("aggregator %s %s: status %d: %s", method, path, resp.StatusCode, truncate(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode aggregator response: %w", err)
		}
	}
	return nil
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
