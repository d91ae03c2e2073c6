package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogsync/internal/lock"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestIndexer(products *fakeProducts, index *recordingIndex, aliasSwap bool, opts ...IndexerOption) *Indexer {
	cfg := IndexerConfig{
		Index:     "products",
		AliasSwap: aliasSwap,
		PageSize:  1000,
		Retry:     fastRetry(3),
	}
	opts = append([]IndexerOption{WithClock(stepClock(testStart))}, opts...)
	return NewIndexer(products, index, cfg, newTestLogger(), opts...)
}

// ─── paging ─────────────────────────────────────────────────────────────────

func TestReindex_FetchesOnePageMoreThanNeeded(t *testing.T) {
	tests := []struct {
		name      string
		products  int
		wantFetch []int
		wantPages int
	}{
		{"empty catalog", 0, []int{0}, 0},
		{"partial last page", 2500, []int{0, 1000, 2000, 3000}, 3},
		{"exact multiple", 2000, []int{0, 1000, 2000}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products := &fakeProducts{products: makeProducts(tt.products)}
			svc := newTestIndexer(products, newRecordingIndex(), false)

			report, err := svc.Reindex(context.Background(), true)
			require.NoError(t, err)

			assert.Equal(t, tt.wantFetch, products.offsets)
			assert.Equal(t, tt.wantPages, report.Pages)
			assert.Equal(t, tt.products, report.Indexed)
			assert.Zero(t, report.Failed)
		})
	}
}

func TestReindex_CountsRejectedDocuments(t *testing.T) {
	index := newRecordingIndex()
	index.rejected["AID-00003"] = true
	index.rejected["AID-01500"] = true
	svc := newTestIndexer(&fakeProducts{products: makeProducts(2000)}, index, false)

	report, err := svc.Reindex(context.Background(), true)

	require.NoError(t, err)
	assert.Equal(t, 1998, report.Indexed)
	assert.Equal(t, 2, report.Failed)
	assert.Len(t, index.Documents("products"), 1998)
}

func TestReindex_DocumentsAreProjections(t *testing.T) {
	index := newRecordingIndex()
	svc := newTestIndexer(&fakeProducts{products: makeProducts(3)}, index, false)

	_, err := svc.Reindex(context.Background(), true)
	require.NoError(t, err)

	docs := index.Documents("products")
	require.Len(t, docs, 3)
	assert.Equal(t, "AID-00001", docs[1].SupplierAID)
	require.NotNil(t, docs[1].PriceAmount)
	assert.Equal(t, 2.0, *docs[1].PriceAmount)
	assert.Nil(t, docs[1].Image)
}

// ─── in-place strategy ──────────────────────────────────────────────────────

func TestReindex_InPlaceRecreateDropsStaleDocuments(t *testing.T) {
	ctx := context.Background()
	index := newRecordingIndex()
	products := &fakeProducts{products: makeProducts(5)}
	svc := newTestIndexer(products, index, false)

	_, err := svc.Reindex(ctx, true)
	require.NoError(t, err)

	products.products = products.products[:2]
	report, err := svc.Reindex(ctx, true)
	require.NoError(t, err)

	assert.Equal(t, "products", report.Index)
	assert.Empty(t, report.Alias)
	assert.Len(t, index.Documents("products"), 2)
	assert.Equal(t, []string{"products"}, index.Indices())
}

func TestReindex_WithoutRecreateKeepsExistingDocuments(t *testing.T) {
	ctx := context.Background()
	index := newRecordingIndex()
	products := &fakeProducts{products: makeProducts(5)}
	svc := newTestIndexer(products, index, false)

	_, err := svc.Reindex(ctx, true)
	require.NoError(t, err)

	products.products = products.products[:2]
	index.ops = nil
	_, err = svc.Reindex(ctx, false)
	require.NoError(t, err)

	assert.NotContains(t, index.ops, "create products")
	assert.Len(t, index.Documents("products"), 5)
}

func TestReindex_SchemaFailureStopsBeforeWrites(t *testing.T) {
	index := newRecordingIndex()
	index.createErr = errors.New("resource_already_exists_exception")
	products := &fakeProducts{products: makeProducts(10)}
	svc := newTestIndexer(products, index, false)

	_, err := svc.Reindex(context.Background(), true)

	require.ErrorIs(t, err, ErrSchemaCreation)
	assert.Empty(t, products.offsets)
	assert.Zero(t, index.bulkCalls)
}

// ─── alias strategy ─────────────────────────────────────────────────────────

func TestReindex_AliasSwappedAfterRefresh(t *testing.T) {
	index := newRecordingIndex()
	svc := newTestIndexer(&fakeProducts{products: makeProducts(1500)}, index, true)

	report, err := svc.Reindex(context.Background(), true)
	require.NoError(t, err)

	gen := "products_20260301120002000"
	assert.Equal(t, gen, report.Index)
	assert.Equal(t, "products", report.Alias)
	assert.Equal(t, []string{
		"create " + gen,
		"bulk " + gen,
		"bulk " + gen,
		"refresh " + gen,
		"swap products " + gen,
	}, index.ops)
	assert.Len(t, index.Documents("products"), 1500)
}

func TestReindex_NewGenerationReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	index := newRecordingIndex()
	products := &fakeProducts{products: makeProducts(4)}
	svc := newTestIndexer(products, index, true)

	first, err := svc.Reindex(ctx, true)
	require.NoError(t, err)

	products.products = products.products[:1]
	second, err := svc.Reindex(ctx, true)
	require.NoError(t, err)

	require.NotEqual(t, first.Index, second.Index)
	assert.Equal(t, []string{second.Index}, index.Indices())
	alias, err := index.ResolveAlias(ctx, "products")
	require.NoError(t, err)
	assert.Equal(t, []string{second.Index}, alias)
	assert.Len(t, index.Documents("products"), 1)
}

func TestReindex_ReplacesConcreteIndexHoldingAliasName(t *testing.T) {
	ctx := context.Background()
	index := newRecordingIndex()
	require.NoError(t, index.Engine.CreateIndex(ctx, "products", false))
	svc := newTestIndexer(&fakeProducts{products: makeProducts(2)}, index, true)

	report, err := svc.Reindex(ctx, true)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(index.ops), 2)
	assert.Equal(t, "delete products", index.ops[len(index.ops)-2])
	assert.Equal(t, "swap products "+report.Index, index.ops[len(index.ops)-1])
	assert.Equal(t, []string{report.Index}, index.Indices())
}

func TestReindex_FailedRunDiscardsGeneration(t *testing.T) {
	ctx := context.Background()
	index := newRecordingIndex()
	products := &fakeProducts{products: makeProducts(3)}
	svc := newTestIndexer(products, index, true)

	good, err := svc.Reindex(ctx, true)
	require.NoError(t, err)

	index.bulkErrs = []error{&statusErr{code: 400}}
	_, err = svc.Reindex(ctx, true)
	require.Error(t, err)

	assert.Equal(t, []string{good.Index}, index.Indices())
	alias, err := index.ResolveAlias(ctx, "products")
	require.NoError(t, err)
	assert.Equal(t, []string{good.Index}, alias)
	assert.Len(t, index.Documents("products"), 3)
}

func TestReindex_WithoutRecreateWritesThroughAlias(t *testing.T) {
	ctx := context.Background()
	index := newRecordingIndex()
	products := &fakeProducts{products: makeProducts(2)}
	svc := newTestIndexer(products, index, true)

	first, err := svc.Reindex(ctx, true)
	require.NoError(t, err)

	products.products = makeProducts(3)
	report, err := svc.Reindex(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, first.Index, report.Index)
	assert.Empty(t, report.Alias)
	assert.Len(t, index.Documents("products"), 3)
}

// ─── retries ────────────────────────────────────────────────────────────────

func TestReindex_RetriesTransientFetchFailure(t *testing.T) {
	products := &fakeProducts{
		products: makeProducts(10),
		errs:     []error{errors.New("connection reset by peer")},
	}
	svc := newTestIndexer(products, newRecordingIndex(), false)

	report, err := svc.Reindex(context.Background(), true)

	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1000}, products.offsets)
	assert.Equal(t, 10, report.Indexed)
}

func TestReindex_GivesUpAfterMaxAttempts(t *testing.T) {
	down := errors.New("connection refused")
	products := &fakeProducts{
		products: makeProducts(10),
		errs:     []error{down, down, down, down},
	}
	svc := newTestIndexer(products, newRecordingIndex(), false)

	_, err := svc.Reindex(context.Background(), true)

	require.ErrorIs(t, err, down)
	assert.Len(t, products.offsets, 3)
}

func TestReindex_DoesNotRetryUndefinedTable(t *testing.T) {
	missing := &pgconn.PgError{Code: "42P01", Message: `relation "products" does not exist`}
	products := &fakeProducts{
		products: makeProducts(10),
		errs:     []error{fmt.Errorf("list products: %w", missing)},
	}
	svc := newTestIndexer(products, newRecordingIndex(), false)

	_, err := svc.Reindex(context.Background(), true)

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "42P01", pgErr.Code)
	assert.Len(t, products.offsets, 1)
}

func TestReindex_RetriesSerializationFailure(t *testing.T) {
	products := &fakeProducts{
		products: makeProducts(10),
		errs:     []error{&pgconn.PgError{Code: "40001", Message: "could not serialize access"}},
	}
	svc := newTestIndexer(products, newRecordingIndex(), false)

	report, err := svc.Reindex(context.Background(), true)

	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1000}, products.offsets)
	assert.Equal(t, 10, report.Indexed)
}

func TestReindex_RetriesThrottledBulkWrite(t *testing.T) {
	index := newRecordingIndex()
	index.bulkErrs = []error{&statusErr{code: 429}, &statusErr{code: 503}}
	svc := newTestIndexer(&fakeProducts{products: makeProducts(10)}, index, false)

	report, err := svc.Reindex(context.Background(), true)

	require.NoError(t, err)
	assert.Equal(t, 3, index.bulkCalls)
	assert.Equal(t, 10, report.Indexed)
}

func TestReindex_DoesNotRetryPermanentBulkFailure(t *testing.T) {
	index := newRecordingIndex()
	index.bulkErrs = []error{&statusErr{code: 400}}
	svc := newTestIndexer(&fakeProducts{products: makeProducts(10)}, index, false)

	_, err := svc.Reindex(context.Background(), true)

	var se *statusErr
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, index.bulkCalls)
}

func TestReindex_SingleAttemptDisablesRetry(t *testing.T) {
	products := &fakeProducts{
		products: makeProducts(10),
		errs:     []error{errors.New("connection reset by peer")},
	}
	cfg := IndexerConfig{Index: "products", PageSize: 1000, Retry: fastRetry(1)}
	svc := NewIndexer(products, newRecordingIndex(), cfg, newTestLogger())

	_, err := svc.Reindex(context.Background(), true)

	require.Error(t, err)
	assert.Len(t, products.offsets, 1)
}

// ─── exclusion ──────────────────────────────────────────────────────────────

func TestReindex_RejectsConcurrentRunInProcess(t *testing.T) {
	products := &fakeProducts{
		products: makeProducts(1),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	svc := newTestIndexer(products, newRecordingIndex(), false)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Reindex(context.Background(), true)
		done <- err
	}()

	<-products.entered
	assert.True(t, svc.Running())
	assert.True(t, svc.Status().Running)

	_, err := svc.Reindex(context.Background(), true)
	assert.ErrorIs(t, err, ErrReindexInProgress)

	// Let the first run fetch its two pages.
	products.release <- struct{}{}
	<-products.entered
	products.release <- struct{}{}

	require.NoError(t, <-done)
	assert.False(t, svc.Running())
}

func TestReindex_SharedLockRejectsSecondProcess(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locker := lock.NewRedisLocker(client)

	held, err := locker.Acquire(ctx, reindexLockName, time.Minute)
	require.NoError(t, err)

	products := &fakeProducts{products: makeProducts(3)}
	svc := newTestIndexer(products, newRecordingIndex(), false, WithLocker(locker))

	_, err = svc.Reindex(ctx, true)
	require.ErrorIs(t, err, ErrReindexInProgress)
	assert.Empty(t, products.offsets)

	require.NoError(t, held.Release(ctx))

	_, err = svc.Reindex(ctx, true)
	require.NoError(t, err)
	assert.False(t, mr.Exists("catalogsync:lock:"+reindexLockName), "lock released after run")
}

// ─── reporting ──────────────────────────────────────────────────────────────

func TestReindex_NotifiesOnSuccessOnly(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{}
	index := newRecordingIndex()
	svc := newTestIndexer(&fakeProducts{products: makeProducts(2)}, index, true, WithReindexNotifier(notifier))

	report, err := svc.Reindex(ctx, true)
	require.NoError(t, err)
	require.Len(t, notifier.reindexed, 1)
	assert.Equal(t, report, notifier.reindexed[0])
	assert.NotEmpty(t, report.RunID)
	assert.True(t, report.FinishedAt.After(report.StartedAt))

	index.bulkErrs = []error{&statusErr{code: 400}}
	_, err = svc.Reindex(ctx, true)
	require.Error(t, err)
	assert.Len(t, notifier.reindexed, 1)
}

func TestReindex_NotifierErrorDoesNotFailRun(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("broker down")}
	svc := newTestIndexer(&fakeProducts{products: makeProducts(2)}, newRecordingIndex(), false, WithReindexNotifier(notifier))

	_, err := svc.Reindex(context.Background(), true)

	assert.NoError(t, err)
}

func TestStatus_TracksLastOutcome(t *testing.T) {
	ctx := context.Background()
	index := newRecordingIndex()
	svc := newTestIndexer(&fakeProducts{products: makeProducts(2)}, index, false)

	st := svc.Status()
	assert.False(t, st.Running)
	assert.Nil(t, st.Last)

	report, err := svc.Reindex(ctx, true)
	require.NoError(t, err)
	st = svc.Status()
	require.NotNil(t, st.Last)
	assert.Equal(t, report.RunID, st.Last.RunID)
	assert.Empty(t, st.LastError)

	index.bulkErrs = []error{&statusErr{code: 400}}
	_, err = svc.Reindex(ctx, true)
	require.Error(t, err)
	st = svc.Status()
	assert.Equal(t, report.RunID, st.Last.RunID)
	assert.Contains(t, st.LastError, "status 400")
}

func TestGenerationName(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 5, 7, 42*int(time.Millisecond), time.FixedZone("CET", 3600))

	assert.Equal(t, "products_20260301080507042", generationName("products", ts))
}

func TestStart_RunsInBackground(t *testing.T) {
	index := newRecordingIndex()
	svc := newTestIndexer(&fakeProducts{products: makeProducts(3)}, index, true)

	require.NoError(t, svc.Start(context.Background(), true))
	require.NoError(t, svc.Wait(context.Background()))

	st := svc.Status()
	assert.False(t, st.Running)
	require.NotNil(t, st.Last)
	assert.Equal(t, 3, st.Last.Indexed)
	assert.Len(t, index.Documents("products"), 3)
}

func TestWait_CancelsRunPastDeadline(t *testing.T) {
	products := &fakeProducts{products: makeProducts(3), stalled: make(chan struct{}, 1)}
	index := newRecordingIndex()
	svc := newTestIndexer(products, index, true)

	require.NoError(t, svc.Start(context.Background(), true))
	<-products.stalled

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := svc.Wait(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	st := svc.Status()
	assert.False(t, st.Running)
	assert.Contains(t, st.LastError, context.Canceled.Error())
	assert.Empty(t, index.Indices(), "canceled generation discarded")
	assert.Contains(t, index.ops, "delete products_20260301120002000")
}

func TestStart_RejectedWhileLockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locker := lock.NewRedisLocker(client)

	_, err := locker.Acquire(ctx, reindexLockName, time.Minute)
	require.NoError(t, err)

	svc := newTestIndexer(&fakeProducts{}, newRecordingIndex(), true, WithLocker(locker))

	assert.ErrorIs(t, svc.Start(ctx, true), ErrReindexInProgress)
	assert.False(t, svc.Running(), "guard released after a lost lock race")
}
