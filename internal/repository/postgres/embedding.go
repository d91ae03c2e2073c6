package postgres

import (
	"context"
	"fmt"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/pkg/database"
)

const (
	textHashesQuery = `
		SELECT supplier_aid, text_hash
		FROM product_embeddings
		WHERE model = $1 AND supplier_aid = ANY($2)`

	upsertEmbeddingQuery = `
		INSERT INTO product_embeddings (supplier_aid, model, embedding, text_hash, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (supplier_aid, model) DO UPDATE
		SET embedding = EXCLUDED.embedding, text_hash = EXCLUDED.text_hash, updated_at = EXCLUDED.updated_at`
)

// EmbeddingRepository implements repository.EmbeddingRepository using PostgreSQL.
type EmbeddingRepository struct {
	db database.DBTX
}

// NewEmbeddingRepository creates a new PostgreSQL-backed embedding repository.
func NewEmbeddingRepository(db database.DBTX) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

// TextHashes returns the stored text hash of each listed product for model.
func (r *EmbeddingRepository) TextHashes(ctx context.Context, model string, supplierAIDs []string) (hashes map[string]string, err error) {
	hashes = make(map[string]string, len(supplierAIDs))
	if len(supplierAIDs) == 0 {
		return hashes, nil
	}

	ctx, end := database.TraceQuery(ctx, "ListEmbeddingHashes", textHashesQuery)
	defer func() { end(len(hashes), err) }()

	rows, err := r.db.Query(ctx, textHashesQuery, model, supplierAIDs)
	if err != nil {
		return nil, fmt.Errorf("list embedding hashes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var supplierAID, hash string
		if err := rows.Scan(&supplierAID, &hash); err != nil {
			return nil, fmt.Errorf("scan embedding hash row: %w", err)
		}
		hashes[supplierAID] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding hash rows: %w", err)
	}
	return hashes, nil
}

// Upsert writes embeddings in one transaction.
func (r *EmbeddingRepository) Upsert(ctx context.Context, embeddings []domain.ProductEmbedding) (err error) {
	if len(embeddings) == 0 {
		return nil
	}

	ctx, end := database.TraceQuery(ctx, "UpsertEmbeddings", upsertEmbeddingQuery)
	defer func() { end(len(embeddings), err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin embedding upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for i := range embeddings {
		e := &embeddings[i]
		if _, err = tx.Exec(ctx, upsertEmbeddingQuery,
			e.SupplierAID,
			e.Model,
			e.Vector,
			e.TextHash,
			e.UpdatedAt,
		); err != nil {
			return fmt.Errorf("upsert embedding %s: %w", e.SupplierAID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit embedding upsert: %w", err)
	}
	return nil
}
