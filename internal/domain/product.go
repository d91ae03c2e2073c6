package domain

import (
	"github.com/shopspring/decimal"
)

// Product is a catalog item together with its ordered prices and media.
// Optional columns are nil when the source row holds NULL.
type Product struct {
	SupplierAID      string
	EAN              *string
	ManufacturerAID  *string
	ManufacturerName *string
	DescriptionShort *string
	DescriptionLong  *string
	DeliveryTime     *int32
	PriceQuantity    *int32
	QuantityMin      *int32
	OrderUnit        *string
	EclassID         *string
	EclassSystem     *string

	// Prices[0] is the canonical price.
	Prices []Price
	// Media[0] is the canonical image.
	Media []Media
}

// Price is one price entry of a product.
type Price struct {
	Amount    decimal.Decimal
	Currency  string
	PriceType string
}

// Media is one media attachment of a product.
type Media struct {
	Source      string
	Type        *string
	Description *string
	Purpose     *string
}
