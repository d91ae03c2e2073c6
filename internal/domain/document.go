package domain

// SearchDocument is the flat record written to the search index for one
// product. Scalar columns are always present (null when unset); the
// denormalized price and image fields are omitted entirely when the product
// has no prices or media.
type SearchDocument struct {
	SupplierAID      string  `json:"supplier_aid"`
	EAN              *string `json:"ean"`
	ManufacturerAID  *string `json:"manufacturer_aid"`
	ManufacturerName *string `json:"manufacturer_name"`
	DescriptionShort *string `json:"description_short"`
	DescriptionLong  *string `json:"description_long"`
	DeliveryTime     *int32  `json:"delivery_time"`
	OrderUnit        *string `json:"order_unit"`
	PriceQuantity    *int32  `json:"price_quantity"`
	QuantityMin      *int32  `json:"quantity_min"`
	EclassID         *string `json:"eclass_id"`
	EclassSystem     *string `json:"eclass_system"`

	PriceAmount   *float64 `json:"price_amount,omitempty"`
	PriceCurrency *string  `json:"price_currency,omitempty"`
	PriceType     *string  `json:"price_type,omitempty"`
	Image         *string  `json:"image,omitempty"`
}

// ID returns the index document identifier.
func (d *SearchDocument) ID() string {
	return d.SupplierAID
}

// BulkFailure describes one document the index rejected in a bulk write.
type BulkFailure struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// BulkResult is the outcome of a single bulk write.
type BulkResult struct {
	Succeeded int           `json:"succeeded"`
	Failures  []BulkFailure `json:"failures,omitempty"`
}
