// Package document projects product aggregates onto search documents.
package document

import (
	"github.com/utafrali/catalogsync/internal/domain"
)

// Build maps p to its search document. Scalar columns are copied verbatim;
// price fields come from the first price and image from the first media
// entry, and are left unset when the product has none.
func Build(p *domain.Product) domain.SearchDocument {
	doc := domain.SearchDocument{
		SupplierAID:      p.SupplierAID,
		EAN:              p.EAN,
		ManufacturerAID:  p.ManufacturerAID,
		ManufacturerName: p.ManufacturerName,
		DescriptionShort: p.DescriptionShort,
		DescriptionLong:  p.DescriptionLong,
		DeliveryTime:     p.DeliveryTime,
		OrderUnit:        p.OrderUnit,
		PriceQuantity:    p.PriceQuantity,
		QuantityMin:      p.QuantityMin,
		EclassID:         p.EclassID,
		EclassSystem:     p.EclassSystem,
	}

	if len(p.Prices) > 0 {
		price := p.Prices[0]
		amount := price.Amount.InexactFloat64()
		doc.PriceAmount = &amount
		doc.PriceCurrency = &price.Currency
		doc.PriceType = &price.PriceType
	}

	if len(p.Media) > 0 {
		image := p.Media[0].Source
		doc.Image = &image
	}

	return doc
}

// BuildAll maps a page of products to documents, preserving order.
func BuildAll(products []domain.Product) []domain.SearchDocument {
	docs := make([]domain.SearchDocument, len(products))
	for i := range products {
		docs[i] = Build(&products[i])
	}
	return docs
}
