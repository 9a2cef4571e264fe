package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vendemais/order-service/internal/domain"
)

type CreateShipmentRequest struct {
	TransactionID    uuid.UUID
	SellerID         uuid.UUID
	Method           string
	From             domain.Address
	To               domain.Address
	CarrierServiceID int
	Meeting          *domain.MeetingDetails
	ShippingCost     decimal.Decimal
}

type GenerateLabelResponse struct {
	LabelURL     string `json:"label_url"`
	TrackingCode string `json:"tracking_code"`
}

type TrackingView struct {
	Status domain.ShipmentStatus  `json:"status"`
	Events []domain.TrackingEvent `json:"events"`
}

// ShipmentService drives a shipment from creation through label purchase and
// tracking refresh against the carrier aggregator.
type ShipmentService struct {
	shipments    ShipmentStore
	transactions TransactionStore
	products     ProductStore
	carrier      CarrierAggregator
	log          *slog.Logger
}

func NewShipmentService(
	shipments ShipmentStore,
	transactions TransactionStore,
	products ProductStore,
	carrier CarrierAggregator,
	log *slog.Logger,
) *ShipmentService {
	return &ShipmentService{
		shipments:    shipments,
		transactions: transactions,
		products:     products,
		carrier:      carrier,
		log:          log,
	}
}

// CreateShipment persists a pending shipment for the transaction's seller.
// Package dimensions for carrier shipments come from the product record, not
// from the caller, so the insured weight always matches the listing.
func (s *ShipmentService) CreateShipment(ctx context.Context, req CreateShipmentRequest) (*domain.Shipment, error) {
	txn, err := s.transactions.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	if txn.SellerID != req.SellerID {
		return nil, domain.ErrNotSeller
	}

	method, err := domain.ParseShipmentMethod(req.Method)
	if err != nil {
		return nil, err
	}

	var pkg domain.Package
	if method == domain.MethodCarrier {
		product, err := s.products.GetProduct(ctx, txn.ProductID)
		if err != nil {
			return nil, fmt.Errorf("load product for dimensions: %w", err)
		}
		pkg = product.Package
	}

	shp, err := domain.NewShipment(req.TransactionID, method, req.From, req.To, pkg, req.CarrierServiceID, req.Meeting)
	if err != nil {
		return nil, err
	}

	if req.ShippingCost.IsNegative() {
		return nil, fmt.Errorf("%w: shipping cost cannot be negative", domain.ErrValidation)
	}

	if err := s.shipments.CreateShipment(ctx, shp, req.ShippingCost); err != nil {
		return nil, fmt.Errorf("create shipment: %w", err)
	}

	s.log.InfoContext(ctx, "shipment created",
		"shipment_id", shp.ID,
		"transaction_id", txn.ID,
		"method", method,
		"shipping_cost", req.ShippingCost.String(),
	)
	return shp, nil
}

// GenerateLabel runs the aggregator's add-to-cart -> checkout -> generate ->
// print chain. The intermediate ids live only in local variables; nothing is
// persisted until the whole chain succeeds, so a failed attempt leaves the
// shipment clean for a retry.
func (s *ShipmentService) GenerateLabel(ctx context.Context, shipmentID, sellerID uuid.UUID) (GenerateLabelResponse, error) {
	shp, err := s.shipments.GetShipment(ctx, shipmentID)
	if err != nil {
		return GenerateLabelResponse{}, fmt.Errorf("load shipment: %w", err)
	}

	txn, err := s.transactions.GetTransaction(ctx, shp.TransactionID)
	if err != nil {
		return GenerateLabelResponse{}, fmt.Errorf("load transaction: %w", err)
	}
	if txn.SellerID != sellerID {
		return GenerateLabelResponse{}, domain.ErrNotSeller
	}

	if shp.Method != domain.MethodCarrier {
		return GenerateLabelResponse{}, domain.ErrCarrierOnly
	}
	if shp.HasLabel() {
		return GenerateLabelResponse{}, domain.ErrLabelAlreadyGenerated
	}

	product, err := s.products.GetProduct(ctx, txn.ProductID)
	if err != nil {
		return GenerateLabelResponse{}, fmt.Errorf("load product for insurance: %w", err)
	}

	// Claim the shipment so concurrent requests cannot both pass the null
	// check above and double-purchase from the carrier.
	if err := s.shipments.ClaimLabelGeneration(ctx, shp.ID); err != nil {
		return GenerateLabelResponse{}, err
	}

	order, pdfURL, err := s.purchaseLabel(ctx, shp, product)
	if err != nil {
		if relErr := s.shipments.ReleaseLabelClaim(ctx, shp.ID); relErr != nil {
			s.log.ErrorContext(ctx, "failed to release label claim after carrier error",
				"shipment_id", shp.ID, "err", relErr)
		}
		return GenerateLabelResponse{}, err
	}

	if err := s.shipments.AttachLabel(ctx, shp.ID, order.PurchaseID, order.TrackingCode, pdfURL); err != nil {
		// The carrier purchase already went through; the claim stays held so a
		// retry cannot buy a second label. Log the identifiers so the paid-for
		// label can be re-attached operationally.
		s.log.ErrorContext(ctx, "label purchased but not persisted",
			"shipment_id", shp.ID,
			"carrier_order_id", order.PurchaseID,
			"tracking_code", order.TrackingCode,
			"label_url", pdfURL,
			"err", err)
		return GenerateLabelResponse{}, fmt.Errorf("persist label: %w", err)
	}

	s.log.InfoContext(ctx, "label generated",
		"shipment_id", shp.ID,
		"carrier_order_id", order.PurchaseID,
		"tracking_code", order.TrackingCode,
	)
	return GenerateLabelResponse{LabelURL: pdfURL, TrackingCode: order.TrackingCode}, nil
}

// purchaseLabel is the four-call remote chain. Each call depends on the id
// returned by the previous one; all state stays in locals until the caller
// persists the final result.
func (s *ShipmentService) purchaseLabel(ctx context.Context, shp *domain.Shipment, product *domain.Product) (CarrierOrder, string, error) {
	cartItemID, err := s.carrier.AddToCart(ctx, CartItem{
		ServiceID:    shp.CarrierServiceID,
		From:         shp.FromAddress,
		To:           shp.ToAddress,
		Package:      shp.Package,
		InsuredValue: product.Price,
		ProductTitle: product.Title,
	})
	if err != nil {
		return CarrierOrder{}, "", fmt.Errorf("carrier add to cart: %w", err)
	}

	order, err := s.carrier.Checkout(ctx, []string{cartItemID})
	if err != nil {
		return CarrierOrder{}, "", fmt.Errorf("carrier checkout: %w", err)
	}

	if err := s.carrier.GenerateLabel(ctx, []string{order.PurchaseID}); err != nil {
		return CarrierOrder{}, "", fmt.Errorf("carrier generate label: %w", err)
	}

	pdfURL, err := s.carrier.PrintLabel(ctx, []string{order.PurchaseID})
	if err != nil {
		return CarrierOrder{}, "", fmt.Errorf("carrier print label: %w", err)
	}

	return order, pdfURL, nil
}

// RefreshTracking returns the freshest view of a shipment it can. Tracking is
// best-effort: a remote failure degrades to the last-known local state rather
// than surfacing an error to the buyer or seller.
func (s *ShipmentService) RefreshTracking(ctx context.Context, shipmentID, requesterID uuid.UUID) (TrackingView, error) {
	shp, err := s.shipments.GetShipment(ctx, shipmentID)
	if err != nil {
		return TrackingView{}, fmt.Errorf("load shipment: %w", err)
	}

	txn, err := s.transactions.GetTransaction(ctx, shp.TransactionID)
	if err != nil {
		return TrackingView{}, fmt.Errorf("load transaction: %w", err)
	}
	if requesterID != txn.BuyerID && requesterID != txn.SellerID {
		return TrackingView{}, domain.ErrNotParticipant
	}

	local := TrackingView{Status: shp.Status, Events: shp.TrackingEvents}
	if local.Events == nil {
		local.Events = []domain.TrackingEvent{}
	}

	// No carrier linkage yet: nothing remote to ask.
	if shp.MelhorEnvioOrderID == "" {
		return local, nil
	}

	remote, err := s.carrier.Track(ctx, shp.MelhorEnvioOrderID)
	if err != nil {
		s.log.WarnContext(ctx, "carrier tracking unavailable, returning last known state",
			"shipment_id", shp.ID,
			"carrier_order_id", shp.MelhorEnvioOrderID,
			"err", err)
		return local, nil
	}

	status := mapCarrierStatus(remote.Status, shp.Status)
	if err := s.shipments.UpdateTracking(ctx, shp.ID, status, remote.Events); err != nil {
		s.log.WarnContext(ctx, "failed to persist refreshed tracking",
			"shipment_id", shp.ID, "err", err)
	}

	return TrackingView{Status: status, Events: remote.Events}, nil
}

// CalculateRates proxies the aggregator's rate-shopping endpoint so the seller
// can pick a service before creating a carrier shipment. No persistence.
func (s *ShipmentService) CalculateRates(ctx context.Context, q RateQuery) ([]Rate, error) {
	rates, err := s.carrier.CalculateRates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("carrier rate calculation: %w", err)
	}
	return rates, nil
}

// mapCarrierStatus normalizes the aggregator's status vocabulary onto the
// local progression. Unknown values keep the current local status so a
// vocabulary change upstream never corrupts the record.
func mapCarrierStatus(remote string, current domain.ShipmentStatus) domain.ShipmentStatus {
	switch remote {
	case "pending", "released", "generated":
		return domain.ShipmentLabelGenerated
	case "posted":
		return domain.ShipmentPosted
	case "in_transit":
		return domain.ShipmentInTransit
	case "out_for_delivery":
		return domain.ShipmentOutForDelivery
	case "delivered":
		return domain.ShipmentDelivered
	case "canceled", "cancelled":
		return domain.ShipmentCancelled
	default:
		return current
	}
}
