package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrValidation marks synchronous input rejections: no state was mutated
	// and the caller should not retry without changing the request.
	ErrValidation = errors.New("invalid request")

	ErrTransactionNotFound = errors.New("transaction not found")

	ErrProductNotFound = errors.New("product not found")

	ErrProductUnavailable = errors.New("product is not available for purchase")

	ErrSelfPurchase = errors.New("buyer cannot purchase their own product")

	ErrInvalidTransition = errors.New("invalid transaction status transition")
)

type TransactionStatus string

const (
	TransactionPending    TransactionStatus = "pending"
	TransactionProcessing TransactionStatus = "processing"
	TransactionPaid       TransactionStatus = "paid"
	TransactionReleased   TransactionStatus = "released"
	TransactionRefunded   TransactionStatus = "refunded"
	TransactionFailed     TransactionStatus = "failed"
)

// Settled reports whether the transaction already passed the paid gate.
// A webhook for a settled transaction is a duplicate, never a regression.
func (s TransactionStatus) Settled() bool {
	return s == TransactionPaid || s == TransactionReleased || s == TransactionRefunded
}

// Payable reports whether a "checkout session completed" event may move the
// transaction to paid. Status only moves forward: paid never returns to pending.
func (s TransactionStatus) Payable() bool {
	return s == TransactionPending || s == TransactionProcessing
}

// Transaction is the authoritative local record of one purchase attempt.
// Monetary fields are fixed-point; the marketplace is single-currency.
type Transaction struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	BuyerID   uuid.UUID
	SellerID  uuid.UUID

	Amount       decimal.Decimal
	PlatformFee  decimal.Decimal
	SellerAmount decimal.Decimal
	ShippingCost decimal.Decimal

	PaymentMethod   string
	PaymentProvider string

	// ProviderTransactionID is the processor's checkout session id.
	// Empty until the session is created, write-once afterwards.
	ProviderTransactionID string

	Status TransactionStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTransaction creates a pending transaction for a product purchase.
// The platform fee is computed from the configured rate, never supplied by the
// caller, so seller_amount + platform_fee == amount holds by construction.
func NewTransaction(product *Product, buyerID uuid.UUID, feeRate decimal.Decimal, provider string) (*Transaction, error) {
	if product == nil {
		return nil, ErrProductNotFound
	}
	if product.Status != ProductAvailable {
		return nil, ErrProductUnavailable
	}
	if buyerID == product.SellerID {
		return nil, ErrSelfPurchase
	}
	if !product.Price.IsPositive() {
		return nil, fmt.Errorf("%w: product price must be positive, got %s", ErrValidation, product.Price)
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: fee rate must be in [0,1), got %s", ErrValidation, feeRate)
	}

	amount := product.Price.Round(2)
	fee := amount.Mul(feeRate).Round(2)

	now := time.Now().UTC()
	return &Transaction{
		ID:              uuid.New(),
		ProductID:       product.ID,
		BuyerID:         buyerID,
		SellerID:        product.SellerID,
		Amount:          amount,
		PlatformFee:     fee,
		SellerAmount:    amount.Sub(fee),
		ShippingCost:    decimal.Zero,
		PaymentMethod:   "checkout_session",
		PaymentProvider: provider,
		Status:          TransactionPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}
