package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrShipmentNotFound = errors.New("shipment not found")

	ErrNotSeller = errors.New("requesting user is not the seller of this transaction")

	ErrNotParticipant = errors.New("requesting user is neither buyer nor seller of this transaction")

	ErrCarrierOnly = errors.New("label only available for carrier shipments")

	ErrLabelAlreadyGenerated = errors.New("label already generated for this shipment")

	ErrLabelInProgress = errors.New("label generation already in progress for this shipment")
)

type ShipmentMethod string

const (
	MethodCarrier      ShipmentMethod = "carrier"
	MethodLocalPickup  ShipmentMethod = "local_pickup"
	MethodLocalMeeting ShipmentMethod = "local_meeting"
	MethodOwn          ShipmentMethod = "own"
)

func ParseShipmentMethod(s string) (ShipmentMethod, error) {
	switch m := ShipmentMethod(s); m {
	case MethodCarrier, MethodLocalPickup, MethodLocalMeeting, MethodOwn:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown shipment method %q", ErrValidation, s)
	}
}

type ShipmentStatus string

const (
	ShipmentPending         ShipmentStatus = "pending"
	ShipmentLabelGenerating ShipmentStatus = "label_generating"
	ShipmentLabelGenerated  ShipmentStatus = "label_generated"
	ShipmentPosted          ShipmentStatus = "posted"
	ShipmentInTransit       ShipmentStatus = "in_transit"
	ShipmentOutForDelivery  ShipmentStatus = "out_for_delivery"
	ShipmentDelivered       ShipmentStatus = "delivered"
	ShipmentCancelled       ShipmentStatus = "cancelled"

	// Local fulfillment progression, no carrier involved.
	ShipmentReadyForPickup   ShipmentStatus = "ready_for_pickup"
	ShipmentPickedUp         ShipmentStatus = "picked_up"
	ShipmentMeetingScheduled ShipmentStatus = "meeting_scheduled"
	ShipmentCompleted        ShipmentStatus = "completed"
)

// Address is a snapshot captured at shipment creation. It is never re-derived
// from the user profile, so historical shipments stay accurate after the user
// edits their address.
type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Document   string `json:"document"`
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

type TrackingEvent struct {
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
}

type MeetingDetails struct {
	Location    string     `json:"location"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// Shipment is the authoritative local record of one fulfillment attempt.
type Shipment struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	Method        ShipmentMethod

	FromAddress Address
	ToAddress   Address

	// Package dimensions are copied from the product at creation time for
	// carrier shipments; zero for local methods.
	Package Package

	// CarrierServiceID is the aggregator service chosen at creation time
	// (rate-shopping happens before the shipment exists). Zero for local methods.
	CarrierServiceID int

	// Carrier linkage, all empty until a label is actually generated.
	// Local and meeting methods never acquire these.
	MelhorEnvioOrderID string
	TrackingCode       string
	LabelURL           string

	Status         ShipmentStatus
	TrackingEvents []TrackingEvent
	Meeting        *MeetingDetails

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewShipment creates a pending shipment tied to a transaction. The package
// must come from the product for carrier shipments; callers never supply it.
func NewShipment(transactionID uuid.UUID, method ShipmentMethod, from, to Address, pkg Package, serviceID int, meeting *MeetingDetails) (*Shipment, error) {
	if method == MethodCarrier && pkg.IsZero() {
		return nil, fmt.Errorf("%w: carrier shipment requires product package dimensions", ErrValidation)
	}
	if method == MethodCarrier && serviceID <= 0 {
		return nil, fmt.Errorf("%w: carrier shipment requires a carrier service id", ErrValidation)
	}
	if method != MethodCarrier {
		pkg = Package{}
		serviceID = 0
	}
	if method == MethodLocalMeeting && meeting == nil {
		return nil, fmt.Errorf("%w: local meeting shipment requires meeting details", ErrValidation)
	}
	if method != MethodLocalMeeting {
		meeting = nil
	}

	now := time.Now().UTC()
	return &Shipment{
		ID:               uuid.New(),
		TransactionID:    transactionID,
		Method:           method,
		FromAddress:      from,
		ToAddress:        to,
		Package:          pkg,
		CarrierServiceID: serviceID,
		Status:           ShipmentPending,
		Meeting:          meeting,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (s *Shipment) HasLabel() bool { return s.LabelURL != "" }
