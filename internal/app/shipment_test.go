package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendemais/order-service/internal/domain"
)

var (
	testFrom = domain.Address{
		Name: "Ana Souza", Phone: "11999990000", Document: "12345678901",
		Street: "Rua Augusta", Number: "1200", District: "Consolação",
		City: "São Paulo", State: "SP", PostalCode: "01304-001",
	}
	testTo = domain.Address{
		Name: "Bruno Lima", Phone: "21988887777", Document: "98765432100",
		Street: "Av. Atlântica", Number: "500", District: "Copacabana",
		City: "Rio de Janeiro", State: "RJ", PostalCode: "22010-000",
	}
)

type shipmentFixture struct {
	svc     *ShipmentService
	store   *memStore
	carrier *fakeCarrier
	txn     *domain.Transaction
	product *domain.Product
}

func newShipmentFixture(t *testing.T) *shipmentFixture {
	t.Helper()

	store := newMemStore()
	product := availableProduct("100.00")
	store.products[product.ID] = product

	txn, err := domain.NewTransaction(product, uuid.New(), decimal.RequireFromString("0.08"), "stripe")
	require.NoError(t, err)
	txn.Status = domain.TransactionPaid
	require.NoError(t, store.CreateTransaction(context.Background(), txn))

	carrier := &fakeCarrier{
		cartItemID: "cart_abc",
		order:      CarrierOrder{PurchaseID: "me_order_1", TrackingCode: "BR123456789XX"},
		pdfURL:     "https://labels.example.com/me_order_1.pdf",
	}

	return &shipmentFixture{
		svc:     NewShipmentService(store, store, store, carrier, testLogger()),
		store:   store,
		carrier: carrier,
		txn:     txn,
		product: product,
	}
}

func (f *shipmentFixture) createCarrierShipment(t *testing.T) *domain.Shipment {
	t.Helper()
	shp, err := f.svc.CreateShipment(context.Background(), CreateShipmentRequest{
		TransactionID:    f.txn.ID,
		SellerID:         f.txn.SellerID,
		Method:           "carrier",
		From:             testFrom,
		To:               testTo,
		CarrierServiceID: 2,
		ShippingCost:     decimal.RequireFromString("21.50"),
	})
	require.NoError(t, err)
	return shp
}

func TestCreateShipmentCopiesDimensionsFromProduct(t *testing.T) {
	f := newShipmentFixture(t)

	shp := f.createCarrierShipment(t)

	assert.Equal(t, domain.MethodCarrier, shp.Method)
	assert.Equal(t, domain.ShipmentPending, shp.Status)
	assert.Equal(t, f.product.Package, shp.Package, "dimensions come from the product, not the caller")
	assert.Equal(t, testFrom, shp.FromAddress)
	assert.Equal(t, testTo, shp.ToAddress)

	// Shipping cost lands on the parent transaction.
	txn, err := f.store.GetTransaction(context.Background(), f.txn.ID)
	require.NoError(t, err)
	assert.True(t, txn.ShippingCost.Equal(decimal.RequireFromString("21.50")))
}

func TestCreateShipmentRejectsNonSeller(t *testing.T) {
	f := newShipmentFixture(t)

	_, err := f.svc.CreateShipment(context.Background(), CreateShipmentRequest{
		TransactionID: f.txn.ID,
		SellerID:      uuid.New(),
		Method:        "carrier",
		From:          testFrom,
		To:            testTo,
	})
	require.ErrorIs(t, err, domain.ErrNotSeller)
	assert.Empty(t, f.store.shipments)
}

func TestCreateShipmentRejectsUnknownMethod(t *testing.T) {
	f := newShipmentFixture(t)

	_, err := f.svc.CreateShipment(context.Background(), CreateShipmentRequest{
		TransactionID: f.txn.ID,
		SellerID:      f.txn.SellerID,
		Method:        "teleport",
		From:          testFrom,
		To:            testTo,
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateShipmentLocalMeetingKeepsNoCarrierFields(t *testing.T) {
	f := newShipmentFixture(t)
	when := time.Now().Add(48 * time.Hour)

	shp, err := f.svc.CreateShipment(context.Background(), CreateShipmentRequest{
		TransactionID: f.txn.ID,
		SellerID:      f.txn.SellerID,
		Method:        "local_meeting",
		From:          testFrom,
		To:            testTo,
		Meeting:       &domain.MeetingDetails{Location: "Praça da Sé", ScheduledAt: &when},
	})
	require.NoError(t, err)

	assert.True(t, shp.Package.IsZero(), "local methods carry no package dimensions")
	assert.Zero(t, shp.CarrierServiceID)
	require.NotNil(t, shp.Meeting)
	assert.Equal(t, "Praça da Sé", shp.Meeting.Location)
}

func TestGenerateLabelHappyPath(t *testing.T) {
	f := newShipmentFixture(t)
	shp := f.createCarrierShipment(t)

	result, err := f.svc.GenerateLabel(context.Background(), shp.ID, f.txn.SellerID)
	require.NoError(t, err)
	assert.Equal(t, "https://labels.example.com/me_order_1.pdf", result.LabelURL)
	assert.Equal(t, "BR123456789XX", result.TrackingCode)

	// The four remote calls run in chain order.
	assert.Equal(t, []string{"cart", "checkout", "generate", "print"}, f.carrier.calls)

	stored, err := f.store.GetShipment(context.Background(), shp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentLabelGenerated, stored.Status)
	assert.Equal(t, "me_order_1", stored.MelhorEnvioOrderID)
	assert.Equal(t, "BR123456789XX", stored.TrackingCode)
}

func TestGenerateLabelRejectsNonCarrierMethod(t *testing.T) {
	f := newShipmentFixture(t)

	shp, err := f.svc.CreateShipment(context.Background(), CreateShipmentRequest{
		TransactionID: f.txn.ID,
		SellerID:      f.txn.SellerID,
		Method:        "local_pickup",
		From:          testFrom,
		To:            testTo,
	})
	require.NoError(t, err)

	_, err = f.svc.GenerateLabel(context.Background(), shp.ID, f.txn.SellerID)
	require.ErrorIs(t, err, domain.ErrCarrierOnly)
	assert.Empty(t, f.carrier.calls, "no aggregator call for local shipments")
}

func TestGenerateLabelRejectsNonSeller(t *testing.T) {
	f := newShipmentFixture(t)
	shp := f.createCarrierShipment(t)

	_, err := f.svc.GenerateLabel(context.Background(), shp.ID, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotSeller)
	assert.Empty(t, f.carrier.calls)
}

func TestGenerateLabelSecondAttemptRejected(t *testing.T) {
	f := newShipmentFixture(t)
	shp := f.createCarrierShipment(t)

	_, err := f.svc.GenerateLabel(context.Background(), shp.ID, f.txn.SellerID)
	require.NoError(t, err)

	_, err = f.svc.GenerateLabel(context.Background(), shp.ID, f.txn.SellerID)
	require.ErrorIs(t, err, domain.ErrLabelAlreadyGenerated)

	// Exactly one carrier purchase happened.
	assert.Equal(t, []string{"cart", "checkout", "generate", "print"}, f.carrier.calls)
}

func TestGenerateLabelHeldClaimRejectsSecondCaller(t *testing.T) {
	f := newShipmentFixture(t)
	shp := f.createCarrierShipment(t)

	// Another request holds the claim mid-chain.
	require.NoError(t, f.store.ClaimLabelGeneration(context.Background(), shp.ID))

	_, err := f.svc.GenerateLabel(context.Background(), shp.ID, f.txn.SellerID)
	require.ErrorIs(t, err, domain.ErrLabelInProgress)
	assert.Empty(t, f.carrier.calls, "the loser must not reach the carrier")

	stored, err := f.store.GetShipment(context.Background(), shp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentLabelGenerating, stored.Status)
}

func TestGenerateLabelAttachFailureKeepsClaim(t *testing.T) {
	f := newShipmentFixture(t)
	shp := f.createCarrierShipment(t)
	f.store.failAttach = errors.New("database unavailable")

	_, err := f.svc.GenerateLabel(context.Background(), shp.ID, f.txn.SellerID)
	require.Error(t, err)
	assert.Equal(t, []string{"cart", "checkout", "generate", "print"}, f.carrier.calls)

	// The purchase went through remotely, so the claim is not released: a retry
	// must not buy a second label. Recovery re-attaches the logged identifiers.
	stored, err := f.store.GetShipment(context.Background(), shp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentLabelGenerating, stored.Status)
	assert.Empty(t, stored.LabelURL)
}

func TestGenerateLabelChainFailureLeavesShipmentClean(t *testing.T) {
	f := newShipmentFixture(t)
	shp := f.createCarrierShipment(t)
	f.carrier.checkoutErr = errors.New("aggregator timeout")

	_, err := f.svc.GenerateLabel(context.Background(), shp.ID, f.txn.SellerID)
	require.Error(t, err)

	// Nothing from the half-created remote cart was persisted, and the claim
	// was released so a retry starts clean.
	stored, err := f.store.GetShipment(context.Background(), shp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentPending, stored.Status)
	assert.Empty(t, stored.MelhorEnvioOrderID)
	assert.Empty(t, stored.TrackingCode)
	assert.Empty(t, stored.LabelURL)

	// Retry succeeds end to end.
	f.carrier.checkoutErr = nil
	result, err := f.svc.GenerateLabel(context.Background(), shp.ID, f.txn.SellerID)
	require.NoError(t, err)
	assert.Equal(t, "BR123456789XX", result.TrackingCode)
}

func TestRefreshTrackingWithoutCarrierOrderSkipsRemote(t *testing.T) {
	f := newShipmentFixture(t)
	shp := f.createCarrierShipment(t)

	view, err := f.svc.RefreshTracking(context.Background(), shp.ID, f.txn.BuyerID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentPending, view.Status)
	assert.Empty(t, view.Events)
	assert.Zero(t, f.carrier.trackCalls, "no remote call before a label exists")
}

func TestRefreshTrackingNormalizesAndPersists(t *testing.T) {
	f := newShipmentFixture(t)
	shp := f.createCarrierShipment(t)
	_, err := f.svc.GenerateLabel(context.Background(), shp.ID, f.txn.SellerID)
	require.NoError(t, err)

	f.carrier.tracking = CarrierTracking{
		Status: "posted",
		Events: []domain.TrackingEvent{
			{Date: time.Now().Add(-2 * time.Hour), Description: "Objeto postado", Location: "São Paulo / SP"},
			{Date: time.Now().Add(-1 * time.Hour), Description: "Em trânsito", Location: "Cajamar / SP"},
		},
	}

	view, err := f.svc.RefreshTracking(context.Background(), shp.ID, f.txn.SellerID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentPosted, view.Status)
	assert.Len(t, view.Events, 2)

	stored, err := f.store.GetShipment(context.Background(), shp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentPosted, stored.Status)
	assert.Len(t, stored.TrackingEvents, 2)
}

func TestRefreshTrackingDegradesOnRemoteFailure(t *testing.T) {
	f := newShipmentFixture(t)
	shp := f.createCarrierShipment(t)
	_, err := f.svc.GenerateLabel(context.Background(), shp.ID, f.txn.SellerID)
	require.NoError(t, err)

	known := []domain.TrackingEvent{
		{Date: time.Now().Add(-3 * time.Hour), Description: "Objeto postado", Location: "São Paulo / SP"},
		{Date: time.Now().Add(-1 * time.Hour), Description: "Em trânsito", Location: "Cajamar / SP"},
	}
	require.NoError(t, f.store.UpdateTracking(context.Background(), shp.ID, domain.ShipmentInTransit, known))

	f.carrier.trackErr = context.DeadlineExceeded

	// Remote failure returns the last-known state, never an error.
	view, err := f.svc.RefreshTracking(context.Background(), shp.ID, f.txn.BuyerID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentInTransit, view.Status)
	assert.Len(t, view.Events, 2)
}

func TestRefreshTrackingRejectsNonParticipant(t *testing.T) {
	f := newShipmentFixture(t)
	shp := f.createCarrierShipment(t)

	_, err := f.svc.RefreshTracking(context.Background(), shp.ID, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotParticipant)
}

func TestRefreshTrackingUnknownCarrierStatusKeepsLocal(t *testing.T) {
	f := newShipmentFixture(t)
	shp := f.createCarrierShipment(t)
	_, err := f.svc.GenerateLabel(context.Background(), shp.ID, f.txn.SellerID)
	require.NoError(t, err)

	f.carrier.tracking = CarrierTracking{Status: "some_new_upstream_state"}

	view, err := f.svc.RefreshTracking(context.Background(), shp.ID, f.txn.SellerID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentLabelGenerated, view.Status, "unknown vocabulary keeps the local status")
}
