package repository

import (
	"context"

	"github.com/utafrali/catalogsync/internal/domain"
)

// ProductRepository reads product aggregates from the catalog store.
type ProductRepository interface {
	// ListPage returns up to limit products starting at offset, ordered by
	// supplier AID, each with its prices and media in stored order. An empty
	// slice means the catalog is exhausted.
	ListPage(ctx context.Context, offset, limit int) ([]domain.Product, error)
}

// EmbeddingRepository persists product embedding vectors.
type EmbeddingRepository interface {
	// TextHashes returns the stored text hash per supplier AID for model.
	// Products without a stored embedding are absent from the map.
	TextHashes(ctx context.Context, model string, supplierAIDs []string) (map[string]string, error)

	// Upsert inserts or replaces embeddings in a single transaction.
	Upsert(ctx context.Context, embeddings []domain.ProductEmbedding) error
}
