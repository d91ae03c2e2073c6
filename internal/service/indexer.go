package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/catalogsync/internal/document"
	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/engine"
	"github.com/utafrali/catalogsync/internal/lock"
	"github.com/utafrali/catalogsync/internal/metrics"
	"github.com/utafrali/catalogsync/internal/repository"
	"github.com/utafrali/catalogsync/pkg/logger"
	"github.com/utafrali/catalogsync/pkg/tracing"
)

const (
	tracerName      = "catalogsync/service"
	reindexLockName = "reindex"

	// DefaultPageSize is the number of products fetched and written per page.
	DefaultPageSize = 1000
)

var (
	// ErrSchemaCreation is returned when the target index cannot be created.
	// Nothing has been written when it occurs.
	ErrSchemaCreation = errors.New("create index schema")

	// ErrReindexInProgress is returned when another reindex holds the guard
	// or the shared lock.
	ErrReindexInProgress = errors.New("reindex already in progress")
)

// ReindexNotifier is told about every successful reindex.
type ReindexNotifier interface {
	ReindexCompleted(ctx context.Context, report domain.ReindexReport) error
}

// IndexerConfig configures an Indexer.
type IndexerConfig struct {
	// Index is the name readers query. With AliasSwap it is an alias over
	// timestamped generations, otherwise a concrete index.
	Index     string
	AliasSwap bool
	PageSize  int
	Retry     RetryConfig
	LockTTL   time.Duration
}

// ReindexStatus is the state reported to operators.
type ReindexStatus struct {
	Running   bool                  `json:"running"`
	Last      *domain.ReindexReport `json:"last,omitempty"`
	LastError string                `json:"last_error,omitempty"`
}

// IndexerOption customizes an Indexer.
type IndexerOption func(*Indexer)

// WithLocker makes reindex runs exclusive across processes.
func WithLocker(l lock.Locker) IndexerOption {
	return func(s *Indexer) { s.locker = l }
}

// WithReindexNotifier publishes completed runs through n.
func WithReindexNotifier(n ReindexNotifier) IndexerOption {
	return func(s *Indexer) { s.notifier = n }
}

// WithClock replaces time.Now, which also names alias generations.
func WithClock(now func() time.Time) IndexerOption {
	return func(s *Indexer) { s.now = now }
}

// Indexer rebuilds the product search index from the catalog.
type Indexer struct {
	products repository.ProductRepository
	index    engine.SearchIndex
	cfg      IndexerConfig
	locker   lock.Locker
	notifier ReindexNotifier
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	running atomic.Bool
	bg      *background

	mu      sync.RWMutex
	last    *domain.ReindexReport
	lastErr error
}

// NewIndexer creates an Indexer.
func NewIndexer(products repository.ProductRepository, index engine.SearchIndex, cfg IndexerConfig, logger *slog.Logger, opts ...IndexerOption) *Indexer {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	s := &Indexer{
		products: products,
		index:    index,
		cfg:      cfg,
		logger:   logger,
		tracer:   tracing.Tracer(tracerName),
		now:      time.Now,
		bg:       newBackground(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Running reports whether a reindex is active in this process.
func (s *Indexer) Running() bool {
	return s.running.Load()
}

// Status returns the running flag and the outcome of the last run.
func (s *Indexer) Status() ReindexStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := ReindexStatus{Running: s.running.Load(), Last: s.last}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// reindexTarget is where a run writes.
type reindexTarget struct {
	index string
	// generation is set when index is a fresh alias generation.
	generation bool
	previous   []string
}

// Reindex pages through the whole catalog and writes every product to the
// search index. With recreate the index is rebuilt from the schema first.
// Per-document failures are counted in the report; connectivity failures
// abort the run.
func (s *Indexer) Reindex(ctx context.Context, recreate bool) (domain.ReindexReport, error) {
	release, err := s.begin(ctx)
	if err != nil {
		return domain.ReindexReport{}, err
	}
	defer release()

	return s.run(ctx, recreate)
}

// Start claims the run guard and the shared lock, then reindexes in the
// background. The outcome is reported through Status.
func (s *Indexer) Start(ctx context.Context, recreate bool) error {
	release, err := s.begin(ctx)
	if err != nil {
		return err
	}

	s.bg.Go(ctx, func(ctx context.Context) {
		defer release()
		_, _ = s.run(ctx, recreate)
	})
	return nil
}

// Wait blocks until background runs have finished. When ctx ends first the
// runs are canceled; a canceled alias generation is discarded as on any
// failure.
func (s *Indexer) Wait(ctx context.Context) error {
	return s.bg.Wait(ctx)
}

// begin claims the in-process guard and, when configured, the shared lock.
func (s *Indexer) begin(ctx context.Context) (func(), error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrReindexInProgress
	}

	unlock, err := s.acquireLock(ctx)
	if err != nil {
		s.running.Store(false)
		return nil, err
	}
	return func() {
		unlock()
		s.running.Store(false)
	}, nil
}

func (s *Indexer) run(ctx context.Context, recreate bool) (report domain.ReindexReport, err error) {
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	ctx, span := s.tracer.Start(ctx, "Indexer.Reindex", trace.WithAttributes(
		attribute.String("catalogsync.run_id", runID),
		attribute.Bool("catalogsync.recreate", recreate),
	))
	defer span.End()
	log := logger.WithContext(ctx, s.logger)

	report = domain.ReindexReport{
		RunID:     runID,
		Index:     s.cfg.Index,
		Recreated: recreate,
		StartedAt: s.now().UTC(),
	}
	defer func() {
		report.FinishedAt = s.now().UTC()
		s.finish(ctx, span, log, report, err)
	}()

	log.InfoContext(ctx, "reindex started",
		slog.String("index", s.cfg.Index),
		slog.Bool("recreate", recreate),
		slog.Bool("alias_swap", s.cfg.AliasSwap),
	)

	target, err := s.prepareTarget(ctx, recreate)
	if err != nil {
		return report, err
	}
	report.Index = target.index
	if target.generation {
		report.Alias = s.cfg.Index
		defer func() {
			if err != nil {
				s.discardGeneration(ctx, log, target.index)
			}
		}()
	}
	span.SetAttributes(attribute.String("catalogsync.index", target.index))

	if err = s.indexPages(ctx, log, target.index, &report); err != nil {
		return report, err
	}

	if err = s.index.Refresh(ctx, target.index); err != nil {
		return report, fmt.Errorf("refresh %s: %w", target.index, err)
	}

	if target.generation {
		if err = s.promote(ctx, log, target); err != nil {
			return report, err
		}
	}

	return report, nil
}

// prepareTarget picks (and with recreate, creates) the index a run writes to.
func (s *Indexer) prepareTarget(ctx context.Context, recreate bool) (reindexTarget, error) {
	switch {
	case recreate && s.cfg.AliasSwap:
		previous, err := s.index.ResolveAlias(ctx, s.cfg.Index)
		if err != nil {
			return reindexTarget{}, fmt.Errorf("resolve alias %s: %w", s.cfg.Index, err)
		}
		name := generationName(s.cfg.Index, s.now())
		if err := s.index.CreateIndex(ctx, name, true); err != nil {
			return reindexTarget{}, fmt.Errorf("%w %s: %w", ErrSchemaCreation, name, err)
		}
		return reindexTarget{index: name, generation: true, previous: previous}, nil

	case recreate:
		if err := s.index.CreateIndex(ctx, s.cfg.Index, true); err != nil {
			return reindexTarget{}, fmt.Errorf("%w %s: %w", ErrSchemaCreation, s.cfg.Index, err)
		}
		return reindexTarget{index: s.cfg.Index}, nil

	default:
		current, err := s.index.ResolveAlias(ctx, s.cfg.Index)
		if err != nil {
			return reindexTarget{}, fmt.Errorf("resolve alias %s: %w", s.cfg.Index, err)
		}
		switch len(current) {
		case 0:
			return reindexTarget{index: s.cfg.Index}, nil
		case 1:
			return reindexTarget{index: current[0]}, nil
		default:
			return reindexTarget{}, fmt.Errorf("alias %s points to %d indices", s.cfg.Index, len(current))
		}
	}
}

// indexPages writes the catalog page by page until the first empty page.
func (s *Indexer) indexPages(ctx context.Context, log *slog.Logger, index string, report *domain.ReindexReport) error {
	for offset := 0; ; offset += s.cfg.PageSize {
		done, err := s.indexPage(ctx, log, index, offset, report)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (s *Indexer) indexPage(ctx context.Context, log *slog.Logger, index string, offset int, report *domain.ReindexReport) (done bool, err error) {
	ctx, span := s.tracer.Start(ctx, "Indexer.indexPage", trace.WithAttributes(
		attribute.Int("catalogsync.offset", offset),
	))
	defer span.End()

	products, err := withRetry(ctx, s.cfg.Retry, log, "list_products", func() ([]domain.Product, error) {
		return s.products.ListPage(ctx, offset, s.cfg.PageSize)
	})
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("list products at offset %d: %w", offset, err)
	}
	if len(products) == 0 {
		return true, nil
	}

	docs := document.BuildAll(products)
	start := time.Now()
	result, err := withRetry(ctx, s.cfg.Retry, log, "bulk_write", func() (domain.BulkResult, error) {
		return s.index.BulkWrite(ctx, index, docs)
	})
	metrics.BulkWriteDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("bulk write at offset %d: %w", offset, err)
	}

	for _, f := range result.Failures {
		log.WarnContext(ctx, "document rejected",
			slog.String("supplier_aid", f.ID),
			slog.Int("status", f.Status),
			slog.String("type", f.Type),
			slog.String("reason", f.Reason),
		)
	}

	report.Pages++
	report.Indexed += result.Succeeded
	report.Failed += len(result.Failures)
	metrics.ReindexPages.Inc()
	metrics.DocumentsIndexed.Add(float64(result.Succeeded))
	metrics.DocumentsFailed.Add(float64(len(result.Failures)))

	span.SetAttributes(
		attribute.Int("catalogsync.documents", len(docs)),
		attribute.Int("catalogsync.failed", len(result.Failures)),
	)
	log.InfoContext(ctx, fmt.Sprintf("indexed %d documents", report.Indexed),
		slog.Int("page", report.Pages),
		slog.Int("page_succeeded", result.Succeeded),
		slog.Int("page_failed", len(result.Failures)),
	)
	return false, nil
}

// promote points the alias at the new generation and drops the ones it
// replaces. A concrete index squatting on the alias name is removed first.
func (s *Indexer) promote(ctx context.Context, log *slog.Logger, target reindexTarget) error {
	alias := s.cfg.Index

	if len(target.previous) == 0 {
		exists, err := s.index.IndexExists(ctx, alias)
		if err != nil {
			return fmt.Errorf("check index %s: %w", alias, err)
		}
		if exists {
			log.WarnContext(ctx, "deleting concrete index that holds the alias name", slog.String("index", alias))
			if err := s.index.DeleteIndex(ctx, alias); err != nil {
				return fmt.Errorf("delete legacy index %s: %w", alias, err)
			}
		}
	}

	if err := s.index.SwapAlias(ctx, alias, target.index, target.previous); err != nil {
		return fmt.Errorf("swap alias %s to %s: %w", alias, target.index, err)
	}
	log.InfoContext(ctx, "alias swapped",
		slog.String("alias", alias),
		slog.String("index", target.index),
		slog.Any("previous", target.previous),
	)

	for _, old := range target.previous {
		if old == target.index {
			continue
		}
		if err := s.index.DeleteIndex(ctx, old); err != nil {
			// The alias already serves the new generation.
			log.WarnContext(ctx, "failed to delete previous generation",
				slog.String("index", old),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (s *Indexer) discardGeneration(ctx context.Context, log *slog.Logger, index string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.index.DeleteIndex(ctx, index); err != nil {
		log.ErrorContext(ctx, "failed to delete partial generation",
			slog.String("index", index),
			slog.String("error", err.Error()),
		)
		return
	}
	log.InfoContext(ctx, "deleted partial generation", slog.String("index", index))
}

func (s *Indexer) acquireLock(ctx context.Context) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	lease, err := s.locker.Acquire(ctx, reindexLockName, s.cfg.LockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, ErrReindexInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("acquire reindex lock: %w", err)
	}
	log := logger.WithContext(ctx, s.logger)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.cfg.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := lease.Refresh(ctx, s.cfg.LockTTL); err != nil {
					log.WarnContext(ctx, "failed to refresh reindex lock", slog.String("error", err.Error()))
				}
			}
		}
	}()

	return func() {
		close(stop)
		wg.Wait()
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.WarnContext(ctx, "failed to release reindex lock", slog.String("error", err.Error()))
		}
	}, nil
}

// finish records the outcome of a run.
func (s *Indexer) finish(ctx context.Context, span trace.Span, log *slog.Logger, report domain.ReindexReport, err error) {
	metrics.ReindexDuration.Observe(report.Duration().Seconds())

	if err != nil {
		metrics.ReindexRuns.WithLabelValues(metrics.StatusFailure).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.ErrorContext(ctx, "reindex failed",
			slog.Int("pages", report.Pages),
			slog.Int("indexed", report.Indexed),
			slog.String("error", err.Error()),
		)
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return
	}

	metrics.ReindexRuns.WithLabelValues(metrics.StatusSuccess).Inc()
	metrics.ReindexLastSuccess.Set(float64(report.FinishedAt.Unix()))
	log.InfoContext(ctx, "reindex completed",
		slog.String("index", report.Index),
		slog.Int("pages", report.Pages),
		slog.Int("indexed", report.Indexed),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration()),
	)

	s.mu.Lock()
	s.last = &report
	s.lastErr = nil
	s.mu.Unlock()

	if s.notifier != nil {
		if err := s.notifier.ReindexCompleted(ctx, report); err != nil {
			log.WarnContext(ctx, "failed to publish reindex event", slog.String("error", err.Error()))
		}
	}
}

// generationName names an alias generation after its creation time. Index
// names must be lowercase.
func generationName(alias string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s_%s%03d", alias, t.Format("20060102150405"), t.Nanosecond()/int(time.Millisecond))
}
