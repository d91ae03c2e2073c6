package postgres

import (
	"context"
	"fmt"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/pkg/database"
)

const (
	listProductsQuery = `
		SELECT supplier_aid, ean, manufacturer_aid, manufacturer_name,
		       description_short, description_long, delivery_time, order_unit,
		       price_quantity, quantity_min, eclass_id, eclass_system
		FROM products
		ORDER BY supplier_aid
		LIMIT $1 OFFSET $2`

	listPricesQuery = `
		SELECT supplier_aid, amount, currency, price_type
		FROM product_prices
		WHERE supplier_aid = ANY($1)
		ORDER BY supplier_aid, id`

	listMediaQuery = `
		SELECT supplier_aid, source, type, description, purpose
		FROM product_media
		WHERE supplier_aid = ANY($1)
		ORDER BY supplier_aid, id`
)

// ProductRepository implements repository.ProductRepository using PostgreSQL.
type ProductRepository struct {
	db database.DBTX
}

// NewProductRepository creates a new PostgreSQL-backed product repository.
func NewProductRepository(db database.DBTX) *ProductRepository {
	return &ProductRepository{db: db}
}

// ListPage returns one page of products ordered by supplier AID. Prices and
// media of the whole page are loaded with one query each.
func (r *ProductRepository) ListPage(ctx context.Context, offset, limit int) ([]domain.Product, error) {
	products, err := r.listProducts(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return products, nil
	}

	ids := make([]string, len(products))
	byID := make(map[string]*domain.Product, len(products))
	for i := range products {
		ids[i] = products[i].SupplierAID
		byID[products[i].SupplierAID] = &products[i]
	}

	if err := r.attachPrices(ctx, ids, byID); err != nil {
		return nil, err
	}
	if err := r.attachMedia(ctx, ids, byID); err != nil {
		return nil, err
	}
	return products, nil
}

func (r *ProductRepository) listProducts(ctx context.Context, offset, limit int) (products []domain.Product, err error) {
	ctx, end := database.TraceQuery(ctx, "ListProductsPage", listProductsQuery)
	defer func() { end(len(products), err) }()

	rows, err := r.db.Query(ctx, listProductsQuery, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products = []domain.Product{}
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(
			&p.SupplierAID,
			&p.EAN,
			&p.ManufacturerAID,
			&p.ManufacturerName,
			&p.DescriptionShort,
			&p.DescriptionLong,
			&p.DeliveryTime,
			&p.OrderUnit,
			&p.PriceQuantity,
			&p.QuantityMin,
			&p.EclassID,
			&p.EclassSystem,
		); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}

func (r *ProductRepository) attachPrices(ctx context.Context, ids []string, byID map[string]*domain.Product) (err error) {
	count := 0
	ctx, end := database.TraceQuery(ctx, "ListProductPrices", listPricesQuery)
	defer func() { end(count, err) }()

	rows, err := r.db.Query(ctx, listPricesQuery, ids)
	if err != nil {
		return fmt.Errorf("list product prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			supplierAID string
			price       domain.Price
		)
		if err := rows.Scan(&supplierAID, &price.Amount, &price.Currency, &price.PriceType); err != nil {
			return fmt.Errorf("scan product price row: %w", err)
		}
		if p, ok := byID[supplierAID]; ok {
			p.Prices = append(p.Prices, price)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate product price rows: %w", err)
	}
	return nil
}

func (r *ProductRepository) attachMedia(ctx context.Context, ids []string, byID map[string]*domain.Product) (err error) {
	count := 0
	ctx, end := database.TraceQuery(ctx, "ListProductMedia", listMediaQuery)
	defer func() { end(count, err) }()

	rows, err := r.db.Query(ctx, listMediaQuery, ids)
	if err != nil {
		return fmt.Errorf("list product media: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			supplierAID string
			media       domain.Media
		)
		if err := rows.Scan(&supplierAID, &media.Source, &media.Type, &media.Description, &media.Purpose); err != nil {
			return fmt.Errorf("scan product media row: %w", err)
		}
		if p, ok := byID[supplierAID]; ok {
			p.Media = append(p.Media, media)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate product media rows: %w", err)
	}
	return nil
}
