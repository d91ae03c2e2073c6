package engine

import (
	"context"

	"github.com/utafrali/catalogsync/internal/domain"
)

// SearchIndex defines the write side of the product search index.
// Implementations may use Elasticsearch, in-memory storage, or other backends.
type SearchIndex interface {
	// CreateIndex creates name from the product index schema. When
	// deleteExisting is set, an index already holding that name is removed
	// first; otherwise an existing index is left as it is.
	CreateIndex(ctx context.Context, name string, deleteExisting bool) error

	// BulkWrite indexes docs into index in a single request. Documents the
	// index rejects are reported in the result, not as an error.
	BulkWrite(ctx context.Context, index string, docs []domain.SearchDocument) (domain.BulkResult, error)

	// Refresh makes all writes to index visible to readers.
	Refresh(ctx context.Context, index string) error

	// IndexExists reports whether an index or alias called name exists.
	IndexExists(ctx context.Context, name string) (bool, error)

	// ResolveAlias returns the indices alias points to, or nil if there is no
	// such alias.
	ResolveAlias(ctx context.Context, alias string) ([]string, error)

	// SwapAlias points alias at target and removes it from previous in one
	// atomic operation.
	SwapAlias(ctx context.Context, alias, target string, previous []string) error

	// DeleteIndex removes name. A missing index is not an error.
	DeleteIndex(ctx context.Context, name string) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}
