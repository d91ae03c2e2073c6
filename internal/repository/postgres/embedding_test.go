package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogsync/internal/domain"
)

func TestTextHashes(t *testing.T) {
	mock := newMock(t)
	repo := NewEmbeddingRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta(textHashesQuery)).
		WithArgs("text-embedding-3-small", []string{"S1", "S2"}).
		WillReturnRows(pgxmock.NewRows([]string{"supplier_aid", "text_hash"}).
			AddRow("S1", "abc"))

	hashes, err := repo.TextHashes(context.Background(), "text-embedding-3-small", []string{"S1", "S2"})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"S1": "abc"}, hashes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTextHashes_NoIDs(t *testing.T) {
	mock := newMock(t)
	repo := NewEmbeddingRepository(mock)

	hashes, err := repo.TextHashes(context.Background(), "m", nil)

	require.NoError(t, err)
	assert.Empty(t, hashes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_CommitsBatch(t *testing.T) {
	mock := newMock(t)
	repo := NewEmbeddingRepository(mock)

	embeddings := []domain.ProductEmbedding{
		{SupplierAID: "S1", Model: "m", Vector: []float32{0.1, 0.2}, TextHash: "h1", UpdatedAt: now},
		{SupplierAID: "S2", Model: "m", Vector: []float32{0.3, 0.4}, TextHash: "h2", UpdatedAt: now},
	}

	mock.ExpectBegin()
	for _, e := range embeddings {
		mock.ExpectExec(regexp.QuoteMeta(upsertEmbeddingQuery)).
			WithArgs(e.SupplierAID, e.Model, e.Vector, e.TextHash, e.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, repo.Upsert(context.Background(), embeddings))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_RollsBackOnError(t *testing.T) {
	mock := newMock(t)
	repo := NewEmbeddingRepository(mock)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(upsertEmbeddingQuery)).
		WithArgs("S1", "m", []float32{1}, "h1", now).
		WillReturnError(errors.New("value too long"))
	mock.ExpectRollback()

	err := repo.Upsert(context.Background(), []domain.ProductEmbedding{
		{SupplierAID: "S1", Model: "m", Vector: []float32{1}, TextHash: "h1", UpdatedAt: now},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert embedding S1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_Empty(t *testing.T) {
	mock := newMock(t)
	repo := NewEmbeddingRepository(mock)

	require.NoError(t, repo.Upsert(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
