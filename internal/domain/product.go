package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ProductStatus string

const (
	ProductAvailable ProductStatus = "available"
	ProductReserved  ProductStatus = "reserved"
	ProductSold      ProductStatus = "sold"
)

// Package holds the physical dimensions used for carrier rate and insurance
// declarations. Weight in kilograms, dimensions in centimeters.
type Package struct {
	WeightKg float64 `json:"weight_kg"`
	HeightCm float64 `json:"height_cm"`
	WidthCm  float64 `json:"width_cm"`
	LengthCm float64 `json:"length_cm"`
}

func (p Package) IsZero() bool {
	return p.WeightKg == 0 && p.HeightCm == 0 && p.WidthCm == 0 && p.LengthCm == 0
}

// Product is the slice of the catalog the payment core needs: price and
// availability for checkout, dimensions for carrier shipments.
type Product struct {
	ID       uuid.UUID
	SellerID uuid.UUID
	Title    string
	Price    decimal.Decimal
	Status   ProductStatus
	Package  Package
}
