package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vendemais/order-service/internal/app"
	"github.com/vendemais/order-service/internal/domain"
)

// Request / Response DTOs

type createCheckoutRequest struct {
	ProductID      string `json:"product_id"`
	BuyerID        string `json:"buyer_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

type createShipmentRequest struct {
	TransactionID    string                 `json:"transaction_id"`
	SellerID         string                 `json:"seller_id"`
	Method           string                 `json:"method"`
	From             domain.Address         `json:"from_address"`
	To               domain.Address         `json:"to_address"`
	CarrierServiceID int                    `json:"carrier_service_id,omitempty"`
	Meeting          *domain.MeetingDetails `json:"meeting,omitempty"`
	ShippingCost     string                 `json:"shipping_cost"`
}

type shipmentResponse struct {
	ID            string                 `json:"id"`
	TransactionID string                 `json:"transaction_id"`
	Method        string                 `json:"method"`
	Status        string                 `json:"status"`
	TrackingCode  string                 `json:"tracking_code,omitempty"`
	LabelURL      string                 `json:"label_url,omitempty"`
	Meeting       *domain.MeetingDetails `json:"meeting,omitempty"`
}

type generateLabelRequest struct {
	SellerID string `json:"seller_id"`
}

type calculateRatesRequest struct {
	FromPostalCode string         `json:"from_postal_code"`
	ToPostalCode   string         `json:"to_postal_code"`
	Package        domain.Package `json:"package"`
}

type rateResponse struct {
	ServiceID    int    `json:"service_id"`
	Carrier      string `json:"carrier"`
	Service      string `json:"service"`
	Price        string `json:"price"`
	DeliveryDays int    `json:"delivery_days"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// signatureHeader carries the processor's MAC over the raw webhook body.
const signatureHeader = "Stripe-Signature"

const maxWebhookBody = 1 << 20

type Handler struct {
	checkout  *app.CheckoutService
	webhooks  *app.WebhookService
	shipments *app.ShipmentService
	log       *slog.Logger
}

func NewHandler(checkout *app.CheckoutService, webhooks *app.WebhookService, shipments *app.ShipmentService, log *slog.Logger) *Handler {
	return &Handler{
		checkout:  checkout,
		webhooks:  webhooks,
		shipments: shipments,
		log:       log,
	}
}

func (h *Handler) createCheckout(w http.ResponseWriter, r *http.Request) {
	var body createCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "cannot parse request body", "INVALID_JSON")
		return
	}
	if headerKey := r.Header.Get("Idempotency-Key"); headerKey != "" {
		body.IdempotencyKey = headerKey
	}

	productID, err := uuid.Parse(body.ProductID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "product_id must be a valid UUID", "VALIDATION_ERROR")
		return
	}
	buyerID, err := uuid.Parse(body.BuyerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "buyer_id must be a valid UUID", "VALIDATION_ERROR")
		return
	}

	result, err := h.checkout.CreateCheckout(r.Context(), app.CreateCheckoutRequest{
		ProductID:      productID,
		BuyerID:        buyerID,
		IdempotencyKey: body.IdempotencyKey,
	})
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// paymentWebhook reads the body raw: the signature covers the wire bytes and
// must be verified before any parsing.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		webhookEventsTotal.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, "cannot read request body", "INVALID_BODY")
		return
	}

	duplicate, err := h.webhooks.HandleWebhook(r.Context(), rawBody, r.Header.Get(signatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrBadSignature):
			webhookEventsTotal.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusUnauthorized, "signature verification failed", "BAD_SIGNATURE")
		case errors.Is(err, domain.ErrMalformedEvent):
			webhookEventsTotal.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusBadRequest, err.Error(), "MALFORMED_EVENT")
		case errors.Is(err, domain.ErrTransactionNotFound):
			// Correlates to nothing we know: a data problem worth alerting on,
			// not something the processor can fix by retrying.
			webhookEventsTotal.WithLabelValues("rejected").Inc()
			h.log.ErrorContext(r.Context(), "webhook references unknown transaction", "err", err)
			writeError(w, http.StatusBadRequest, "unknown transaction", "UNKNOWN_TRANSACTION")
		default:
			webhookEventsTotal.WithLabelValues("failed").Inc()
			h.mapError(w, r, err)
		}
		return
	}

	if duplicate {
		webhookEventsTotal.WithLabelValues("duplicate").Inc()
	} else {
		webhookEventsTotal.WithLabelValues("accepted").Inc()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) createShipment(w http.ResponseWriter, r *http.Request) {
	var body createShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "cannot parse request body", "INVALID_JSON")
		return
	}

	transactionID, err := uuid.Parse(body.TransactionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "transaction_id must be a valid UUID", "VALIDATION_ERROR")
		return
	}
	sellerID, err := uuid.Parse(body.SellerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "seller_id must be a valid UUID", "VALIDATION_ERROR")
		return
	}

	shippingCost := decimal.Zero
	if body.ShippingCost != "" {
		if shippingCost, err = decimal.NewFromString(body.ShippingCost); err != nil {
			writeError(w, http.StatusBadRequest, "shipping_cost must be a decimal string", "VALIDATION_ERROR")
			return
		}
	}

	shp, err := h.shipments.CreateShipment(r.Context(), app.CreateShipmentRequest{
		TransactionID:    transactionID,
		SellerID:         sellerID,
		Method:           body.Method,
		From:             body.From,
		To:               body.To,
		CarrierServiceID: body.CarrierServiceID,
		Meeting:          body.Meeting,
		ShippingCost:     shippingCost,
	})
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, shipmentResponse{
		ID:            shp.ID.String(),
		TransactionID: shp.TransactionID.String(),
		Method:        string(shp.Method),
		Status:        string(shp.Status),
		Meeting:       shp.Meeting,
	})
}

func (h *Handler) generateLabel(w http.ResponseWriter, r *http.Request) {
	shipmentID, err := uuid.Parse(chi.URLParam(r, "shipmentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "shipment id must be a valid UUID", "VALIDATION_ERROR")
		return
	}

	var body generateLabelRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "cannot parse request body", "INVALID_JSON")
		return
	}
	sellerID, err := uuid.Parse(body.SellerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "seller_id must be a valid UUID", "VALIDATION_ERROR")
		return
	}

	result, err := h.shipments.GenerateLabel(r.Context(), shipmentID, sellerID)
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	labelGenerationsTotal.Inc()
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) refreshTracking(w http.ResponseWriter, r *http.Request) {
	shipmentID, err := uuid.Parse(chi.URLParam(r, "shipmentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "shipment id must be a valid UUID", "VALIDATION_ERROR")
		return
	}
	requesterID, err := uuid.Parse(r.URL.Query().Get("requester_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "requester_id must be a valid UUID", "VALIDATION_ERROR")
		return
	}

	view, err := h.shipments.RefreshTracking(r.Context(), shipmentID, requesterID)
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) calculateRates(w http.ResponseWriter, r *http.Request) {
	var body calculateRatesRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "cannot parse request body", "INVALID_JSON")
		return
	}
	if body.FromPostalCode == "" || body.ToPostalCode == "" {
		writeError(w, http.StatusBadRequest, "from_postal_code and to_postal_code are required", "VALIDATION_ERROR")
		return
	}

	rates, err := h.shipments.CalculateRates(r.Context(), app.RateQuery{
		FromPostalCode: body.FromPostalCode,
		ToPostalCode:   body.ToPostalCode,
		Package:        body.Package,
	})
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	out := make([]rateResponse, 0, len(rates))
	for _, rt := range rates {
		out = append(out, rateResponse{
			ServiceID:    rt.ServiceID,
			Carrier:      rt.Carrier,
			Service:      rt.Service,
			Price:        rt.Price.StringFixed(2),
			DeliveryDays: rt.DeliveryDays,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// error mapping
func (h *Handler) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrShipmentNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, domain.ErrProductUnavailable):
		writeError(w, http.StatusConflict, "product is no longer available", "PRODUCT_UNAVAILABLE")
	case errors.Is(err, domain.ErrSelfPurchase):
		writeError(w, http.StatusUnprocessableEntity, "buyer cannot purchase their own product", "SELF_PURCHASE")
	case errors.Is(err, domain.ErrNotSeller), errors.Is(err, domain.ErrNotParticipant):
		writeError(w, http.StatusForbidden, err.Error(), "FORBIDDEN")
	case errors.Is(err, domain.ErrCarrierOnly):
		writeError(w, http.StatusUnprocessableEntity, "label only available for carrier shipments", "CARRIER_ONLY")
	case errors.Is(err, domain.ErrLabelAlreadyGenerated):
		writeError(w, http.StatusConflict, "label already generated", "LABEL_ALREADY_GENERATED")
	case errors.Is(err, domain.ErrLabelInProgress):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusConflict, "label generation already in progress", "LABEL_IN_PROGRESS")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "INVALID_STATE_TRANSITION")
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "VALIDATION_ERROR")

	default:
		h.log.ErrorContext(r.Context(), "unhandled error in HTTP handler",
			"err", err,
			"path", r.URL.Path,
			"method", r.Method,
		)
		writeError(w, http.StatusInternalServerError, "an unexpected error occurred", "INTERNAL_ERROR")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
