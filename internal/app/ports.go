package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vendemais/order-service/internal/domain"
)

// ProductStore reads the slice of the catalog the payment core needs.
// Product status mutation happens only inside WebhookLedger.ConfirmPayment.
type ProductStore interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
}

type TransactionStore interface {
	CreateTransaction(ctx context.Context, t *domain.Transaction) error

	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)

	// SetProviderSession records the processor's session id on a transaction.
	// The column is write-once: a second call for the same transaction fails.
	SetProviderSession(ctx context.Context, transactionID uuid.UUID, sessionID string) error
}

// WebhookLedger is the idempotency ledger plus the atomic reconciliation step.
type WebhookLedger interface {
	// RecordEvent inserts an unprocessed ledger row, classifying the attempt.
	// Uniqueness on the event key must be enforced by the storage layer; a
	// conflict is an outcome, not an error.
	RecordEvent(ctx context.Context, key domain.EventKey, payload []byte) (domain.LedgerOutcome, error)

	// ConfirmPayment moves the transaction to paid, the product to sold, and
	// flips the ledger row processed=true, all in one atomic unit. Settled
	// transactions are a no-op success; any failure leaves the row unprocessed
	// so a processor retry can complete the work.
	ConfirmPayment(ctx context.Context, key domain.EventKey, transactionID uuid.UUID) error

	// MarkProcessed closes out a ledger row for events with no side effects
	// (unknown types, events missing correlation metadata).
	MarkProcessed(ctx context.Context, key domain.EventKey) error
}

type ShipmentStore interface {
	// CreateShipment persists the shipment and records the shipping cost onto
	// the parent transaction in the same atomic unit.
	CreateShipment(ctx context.Context, s *domain.Shipment, shippingCost decimal.Decimal) error

	GetShipment(ctx context.Context, id uuid.UUID) (*domain.Shipment, error)

	// ClaimLabelGeneration transitions pending -> label_generating so only one
	// caller runs the carrier chain at a time.
	ClaimLabelGeneration(ctx context.Context, shipmentID uuid.UUID) error

	// ReleaseLabelClaim returns a failed claim to pending so a retry starts clean.
	ReleaseLabelClaim(ctx context.Context, shipmentID uuid.UUID) error

	// AttachLabel persists the carrier identifiers, all at once, only after the
	// whole remote chain succeeded. Rejects shipments that already have a label.
	AttachLabel(ctx context.Context, shipmentID uuid.UUID, carrierOrderID, trackingCode, labelURL string) error

	UpdateTracking(ctx context.Context, shipmentID uuid.UUID, status domain.ShipmentStatus, events []domain.TrackingEvent) error
}

// CheckoutSessionParams carries the opaque metadata the processor echoes back
// in webhooks so the reconciler can correlate the event to a local transaction.
type CheckoutSessionParams struct {
	TransactionID uuid.UUID
	ProductID     uuid.UUID
	BuyerID       uuid.UUID
	SellerID      uuid.UUID

	Title  string
	Amount decimal.Decimal
}

type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentProcessor is the outbound boundary with the hosted-checkout provider.
type PaymentProcessor interface {
	CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (CheckoutSession, error)

	// VerifySignature checks the webhook signature over the raw, unparsed body.
	VerifySignature(payload []byte, sigHeader string) error
}

type RateQuery struct {
	FromPostalCode string
	ToPostalCode   string
	Package        domain.Package
}

type Rate struct {
	ServiceID    int
	Carrier      string
	Service      string
	Price        decimal.Decimal
	DeliveryDays int
}

// CartItem is the full shipment detail the aggregator needs to price and
// insure a label purchase.
type CartItem struct {
	ServiceID    int
	From         domain.Address
	To           domain.Address
	Package      domain.Package
	InsuredValue decimal.Decimal
	ProductTitle string
}

type CarrierOrder struct {
	PurchaseID   string
	TrackingCode string
}

type CarrierTracking struct {
	Status string
	Events []domain.TrackingEvent
}

// CarrierAggregator is the outbound boundary with the carrier aggregation API.
// Label purchase is a four-call chain; each call depends on the id returned by
// the previous one and none of it is atomic.
type CarrierAggregator interface {
	CalculateRates(ctx context.Context, q RateQuery) ([]Rate, error)
	AddToCart(ctx context.Context, item CartItem) (cartItemID string, err error)
	Checkout(ctx context.Context, cartItemIDs []string) (CarrierOrder, error)
	GenerateLabel(ctx context.Context, purchaseIDs []string) error
	PrintLabel(ctx context.Context, purchaseIDs []string) (pdfURL string, err error)
	Track(ctx context.Context, carrierOrderID string) (CarrierTracking, error)
}

// SessionCache replays checkout responses for repeated idempotency keys.
type SessionCache interface {
	// Get returns (result, true, nil), ("", false, nil) if miss
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores result for key with a TTL
	// Uses SET NX so the first writer wins in a race between two concurrent identical requests
	Set(ctx context.Context, key string, result string, ttl time.Duration) error
}
