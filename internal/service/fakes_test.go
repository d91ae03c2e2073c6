package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/engine/memory"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func strPtr(s string) *string { return &s }

func makeProducts(n int) []domain.Product {
	products := make([]domain.Product, n)
	for i := range products {
		products[i] = domain.Product{
			SupplierAID:      fmt.Sprintf("AID-%05d", i),
			DescriptionShort: strPtr(fmt.Sprintf("Schraube %d", i)),
			Prices: []domain.Price{
				{Amount: decimal.NewFromInt(int64(i + 1)), Currency: "EUR", PriceType: "net_list"},
			},
		}
	}
	return products
}

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

// ─── product repository ─────────────────────────────────────────────────────

type fakeProducts struct {
	products []domain.Product
	// errs are returned, in order, by the first len(errs) calls.
	errs    []error
	offsets []int

	// entered and release let a test hold ListPage open.
	entered chan struct{}
	release chan struct{}
	// stalled, when set, makes ListPage signal it and block until ctx ends.
	stalled chan struct{}
}

func (f *fakeProducts) ListPage(ctx context.Context, offset, limit int) ([]domain.Product, error) {
	f.offsets = append(f.offsets, offset)
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.stalled != nil {
		f.stalled <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if offset >= len(f.products) {
		return []domain.Product{}, nil
	}
	return f.products[offset:min(offset+limit, len(f.products))], nil
}

// ─── search index ───────────────────────────────────────────────────────────

// recordingIndex is the in-memory engine with an operation log and injected
// failures.
type recordingIndex struct {
	*memory.Engine

	ops       []string
	createErr error
	bulkErrs  []error
	bulkCalls int
	rejected  map[string]bool
}

func newRecordingIndex() *recordingIndex {
	return &recordingIndex{Engine: memory.New(), rejected: map[string]bool{}}
}

func (r *recordingIndex) CreateIndex(ctx context.Context, name string, deleteExisting bool) error {
	r.ops = append(r.ops, "create "+name)
	if r.createErr != nil {
		return r.createErr
	}
	return r.Engine.CreateIndex(ctx, name, deleteExisting)
}

func (r *recordingIndex) BulkWrite(ctx context.Context, index string, docs []domain.SearchDocument) (domain.BulkResult, error) {
	r.bulkCalls++
	if len(r.bulkErrs) > 0 {
		err := r.bulkErrs[0]
		r.bulkErrs = r.bulkErrs[1:]
		if err != nil {
			return domain.BulkResult{}, err
		}
	}
	r.ops = append(r.ops, "bulk "+index)

	accepted := make([]domain.SearchDocument, 0, len(docs))
	var failures []domain.BulkFailure
	for _, doc := range docs {
		if r.rejected[doc.ID()] {
			failures = append(failures, domain.BulkFailure{
				ID:     doc.ID(),
				Status: 400,
				Type:   "mapper_parsing_exception",
				Reason: "failed to parse field [ean]",
			})
			continue
		}
		accepted = append(accepted, doc)
	}
	result, err := r.Engine.BulkWrite(ctx, index, accepted)
	result.Failures = failures
	return result, err
}

func (r *recordingIndex) Refresh(ctx context.Context, index string) error {
	r.ops = append(r.ops, "refresh "+index)
	return r.Engine.Refresh(ctx, index)
}

func (r *recordingIndex) SwapAlias(ctx context.Context, alias, target string, previous []string) error {
	r.ops = append(r.ops, "swap "+alias+" "+target)
	return r.Engine.SwapAlias(ctx, alias, target, previous)
}

func (r *recordingIndex) DeleteIndex(ctx context.Context, name string) error {
	r.ops = append(r.ops, "delete "+name)
	return r.Engine.DeleteIndex(ctx, name)
}

// statusErr carries its own retry verdict like an Elasticsearch status error.
type statusErr struct {
	code int
}

func (e *statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) Retryable() bool { return e.code == 429 || e.code >= 500 }

// ─── notifier ───────────────────────────────────────────────────────────────

type fakeNotifier struct {
	reindexed  []domain.ReindexReport
	backfilled []domain.BackfillReport
	err        error
}

func (f *fakeNotifier) ReindexCompleted(_ context.Context, report domain.ReindexReport) error {
	f.reindexed = append(f.reindexed, report)
	return f.err
}

func (f *fakeNotifier) BackfillCompleted(_ context.Context, report domain.BackfillReport) error {
	f.backfilled = append(f.backfilled, report)
	return f.err
}
