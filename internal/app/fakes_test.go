package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vendemais/order-service/internal/domain"
)

// memStore implements every persistence port with the same semantics the
// postgres adapter guarantees: ledger uniqueness, status-guarded payment
// confirmation, and the label-generation claim.
type memStore struct {
	mu sync.Mutex

	products     map[uuid.UUID]*domain.Product
	transactions map[uuid.UUID]*domain.Transaction
	events       map[domain.EventKey]*domain.WebhookEvent
	shipments    map[uuid.UUID]*domain.Shipment

	// paymentApplied counts actual side-effect applications, not deliveries.
	paymentApplied int

	failConfirm error
	failAttach  error
}

var errSessionAlreadySet = errors.New("provider transaction id already set")

func newMemStore() *memStore {
	return &memStore{
		products:     make(map[uuid.UUID]*domain.Product),
		transactions: make(map[uuid.UUID]*domain.Transaction),
		events:       make(map[domain.EventKey]*domain.WebhookEvent),
		shipments:    make(map[uuid.UUID]*domain.Shipment),
	}
}

func (m *memStore) GetProduct(_ context.Context, id uuid.UUID) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) CreateTransaction(_ context.Context, t *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.transactions[t.ID] = &cp
	return nil
}

func (m *memStore) GetTransaction(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) SetProviderSession(_ context.Context, transactionID uuid.UUID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[transactionID]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	if t.ProviderTransactionID != "" {
		return errSessionAlreadySet
	}
	t.ProviderTransactionID = sessionID
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) RecordEvent(_ context.Context, key domain.EventKey, payload []byte) (domain.LedgerOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if evt, ok := m.events[key]; ok {
		if evt.Processed {
			return domain.LedgerDuplicateProcessed, nil
		}
		return domain.LedgerDuplicateUnprocessed, nil
	}
	m.events[key] = &domain.WebhookEvent{
		Key:        key,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
	return domain.LedgerInserted, nil
}

func (m *memStore) MarkProcessed(_ context.Context, key domain.EventKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if evt, ok := m.events[key]; ok {
		evt.Processed = true
	}
	return nil
}

func (m *memStore) ConfirmPayment(_ context.Context, key domain.EventKey, transactionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failConfirm != nil {
		return m.failConfirm
	}

	t, ok := m.transactions[transactionID]
	if !ok {
		return domain.ErrTransactionNotFound
	}

	switch {
	case t.Status.Settled():
		m.events[key].Processed = true
		return nil
	case !t.Status.Payable():
		return domain.ErrInvalidTransition
	}

	t.Status = domain.TransactionPaid
	t.UpdatedAt = time.Now().UTC()
	if p, ok := m.products[t.ProductID]; ok {
		p.Status = domain.ProductSold
	}
	m.events[key].Processed = true
	m.paymentApplied++
	return nil
}

func (m *memStore) CreateShipment(_ context.Context, s *domain.Shipment, shippingCost decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[s.TransactionID]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	t.ShippingCost = shippingCost
	cp := *s
	m.shipments[s.ID] = &cp
	return nil
}

func (m *memStore) GetShipment(_ context.Context, id uuid.UUID) (*domain.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[id]
	if !ok {
		return nil, domain.ErrShipmentNotFound
	}
	cp := *s
	cp.TrackingEvents = append([]domain.TrackingEvent(nil), s.TrackingEvents...)
	return &cp, nil
}

func (m *memStore) ClaimLabelGeneration(_ context.Context, shipmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[shipmentID]
	if !ok {
		return domain.ErrShipmentNotFound
	}
	switch {
	case s.Method != domain.MethodCarrier:
		return domain.ErrCarrierOnly
	case s.HasLabel():
		return domain.ErrLabelAlreadyGenerated
	case s.Status == domain.ShipmentLabelGenerating:
		return domain.ErrLabelInProgress
	case s.Status != domain.ShipmentPending:
		return domain.ErrInvalidTransition
	}
	s.Status = domain.ShipmentLabelGenerating
	return nil
}

func (m *memStore) ReleaseLabelClaim(_ context.Context, shipmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.shipments[shipmentID]; ok && s.Status == domain.ShipmentLabelGenerating {
		s.Status = domain.ShipmentPending
	}
	return nil
}

func (m *memStore) AttachLabel(_ context.Context, shipmentID uuid.UUID, carrierOrderID, trackingCode, labelURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAttach != nil {
		return m.failAttach
	}
	s, ok := m.shipments[shipmentID]
	if !ok {
		return domain.ErrShipmentNotFound
	}
	if s.HasLabel() {
		return domain.ErrLabelAlreadyGenerated
	}
	s.MelhorEnvioOrderID = carrierOrderID
	s.TrackingCode = trackingCode
	s.LabelURL = labelURL
	s.Status = domain.ShipmentLabelGenerated
	return nil
}

func (m *memStore) UpdateTracking(_ context.Context, shipmentID uuid.UUID, status domain.ShipmentStatus, events []domain.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[shipmentID]
	if !ok {
		return domain.ErrShipmentNotFound
	}
	s.Status = status
	s.TrackingEvents = append([]domain.TrackingEvent(nil), events...)
	return nil
}

type fakeProcessor struct {
	mu sync.Mutex

	session   CheckoutSession
	createErr error
	verifyErr error

	createCalls int
	lastParams  CheckoutSessionParams
}

func (f *fakeProcessor) CreateCheckoutSession(_ context.Context, p CheckoutSessionParams) (CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.lastParams = p
	if f.createErr != nil {
		return CheckoutSession{}, f.createErr
	}
	return f.session, nil
}

func (f *fakeProcessor) VerifySignature([]byte, string) error { return f.verifyErr }

type fakeCarrier struct {
	mu sync.Mutex

	rates []Rate

	cartItemID string
	order      CarrierOrder
	pdfURL     string
	tracking   CarrierTracking

	ratesErr    error
	cartErr     error
	checkoutErr error
	generateErr error
	printErr    error
	trackErr    error

	calls      []string
	trackCalls int
}

func (f *fakeCarrier) CalculateRates(_ context.Context, _ RateQuery) ([]Rate, error) {
	f.record("rates")
	return f.rates, f.ratesErr
}

func (f *fakeCarrier) AddToCart(_ context.Context, _ CartItem) (string, error) {
	f.record("cart")
	return f.cartItemID, f.cartErr
}

func (f *fakeCarrier) Checkout(_ context.Context, _ []string) (CarrierOrder, error) {
	f.record("checkout")
	if f.checkoutErr != nil {
		return CarrierOrder{}, f.checkoutErr
	}
	return f.order, nil
}

func (f *fakeCarrier) GenerateLabel(_ context.Context, _ []string) error {
	f.record("generate")
	return f.generateErr
}

func (f *fakeCarrier) PrintLabel(_ context.Context, _ []string) (string, error) {
	f.record("print")
	return f.pdfURL, f.printErr
}

func (f *fakeCarrier) Track(_ context.Context, _ string) (CarrierTracking, error) {
	f.record("track")
	f.mu.Lock()
	f.trackCalls++
	f.mu.Unlock()
	if f.trackErr != nil {
		return CarrierTracking{}, f.trackErr
	}
	return f.tracking, nil
}

func (f *fakeCarrier) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

// memCache is a map-backed SessionCache.
type memCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]string)}
}

func (c *memCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, result string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.entries[key] = result
	}
	return nil
}
