package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vendemais/order-service/internal/domain"
)

const sessionCacheTTL = 24 * time.Hour

type CreateCheckoutRequest struct {
	ProductID      uuid.UUID
	BuyerID        uuid.UUID
	IdempotencyKey string
}

type CreateCheckoutResponse struct {
	TransactionID string `json:"transaction_id"`
	CheckoutURL   string `json:"checkout_url"`
}

// CheckoutService creates the local transaction record and requests a hosted
// checkout session from the payment processor.
type CheckoutService struct {
	products     ProductStore
	transactions TransactionStore
	processor    PaymentProcessor
	sessions     SessionCache
	feeRate      decimal.Decimal
	provider     string
	log          *slog.Logger
}

func NewCheckoutService(
	products ProductStore,
	transactions TransactionStore,
	processor PaymentProcessor,
	sessions SessionCache,
	feeRate decimal.Decimal,
	provider string,
	log *slog.Logger,
) *CheckoutService {
	return &CheckoutService{
		products:     products,
		transactions: transactions,
		processor:    processor,
		sessions:     sessions,
		feeRate:      feeRate,
		provider:     provider,
		log:          log,
	}
}

// CreateCheckout verifies the product is purchasable, inserts the pending
// transaction, and only then asks the processor for a session, so the metadata
// passed outward references a transaction the webhook will later find.
func (s *CheckoutService) CreateCheckout(ctx context.Context, req CreateCheckoutRequest) (CreateCheckoutResponse, error) {
	if req.IdempotencyKey != "" {
		if cached, ok := s.cachedResponse(ctx, req.IdempotencyKey); ok {
			return cached, nil
		}
	}

	product, err := s.products.GetProduct(ctx, req.ProductID)
	if err != nil {
		return CreateCheckoutResponse{}, fmt.Errorf("load product: %w", err)
	}

	txn, err := domain.NewTransaction(product, req.BuyerID, s.feeRate, s.provider)
	if err != nil {
		return CreateCheckoutResponse{}, err
	}

	// The local row must exist before the remote call: the processor echoes
	// the transaction id back in webhook metadata.
	if err := s.transactions.CreateTransaction(ctx, txn); err != nil {
		return CreateCheckoutResponse{}, fmt.Errorf("create transaction: %w", err)
	}

	session, err := s.processor.CreateCheckoutSession(ctx, CheckoutSessionParams{
		TransactionID: txn.ID,
		ProductID:     product.ID,
		BuyerID:       req.BuyerID,
		SellerID:      product.SellerID,
		Title:         product.Title,
		Amount:        txn.Amount,
	})
	if err != nil {
		// Recoverable: the transaction stays pending with no provider session.
		s.log.WarnContext(ctx, "checkout session creation failed, transaction left pending",
			"transaction_id", txn.ID,
			"product_id", product.ID,
			"err", err)
		return CreateCheckoutResponse{}, fmt.Errorf("create checkout session: %w", err)
	}

	if err := s.transactions.SetProviderSession(ctx, txn.ID, session.ID); err != nil {
		return CreateCheckoutResponse{}, fmt.Errorf("persist provider session: %w", err)
	}

	resp := CreateCheckoutResponse{
		TransactionID: txn.ID.String(),
		CheckoutURL:   session.URL,
	}
	if req.IdempotencyKey != "" {
		s.cache(ctx, req.IdempotencyKey, resp)
	}

	s.log.InfoContext(ctx, "checkout created",
		"transaction_id", txn.ID,
		"product_id", product.ID,
		"buyer_id", req.BuyerID,
		"amount", txn.Amount.String(),
		"platform_fee", txn.PlatformFee.String(),
		"session_id", session.ID,
	)

	return resp, nil
}

func (s *CheckoutService) cachedResponse(ctx context.Context, key string) (CreateCheckoutResponse, bool) {
	cached, ok, err := s.sessions.Get(ctx, key)
	if err != nil {
		s.log.WarnContext(ctx, "session cache unavailable", "err", err, "idempotency_key", key)
		return CreateCheckoutResponse{}, false
	}
	if !ok {
		return CreateCheckoutResponse{}, false
	}

	var resp CreateCheckoutResponse
	if err := json.Unmarshal([]byte(cached), &resp); err != nil {
		s.log.WarnContext(ctx, "corrupt session cache entry, ignoring", "err", err)
		return CreateCheckoutResponse{}, false
	}

	s.log.InfoContext(ctx, "idempotent checkout replay from cache",
		"transaction_id", resp.TransactionID,
		"idempotency_key", key,
	)
	return resp, true
}

func (s *CheckoutService) cache(ctx context.Context, key string, resp CreateCheckoutResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.WarnContext(ctx, "cannot marshal checkout response for caching", "err", err)
		return
	}
	if err := s.sessions.Set(ctx, key, string(data), sessionCacheTTL); err != nil {
		s.log.WarnContext(ctx, "failed to cache checkout response", "err", err)
	}
}
