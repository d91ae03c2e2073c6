package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/metrics"
	"github.com/utafrali/catalogsync/internal/repository"
	"github.com/utafrali/catalogsync/internal/textprep"
	"github.com/utafrali/catalogsync/pkg/logger"
	"github.com/utafrali/catalogsync/pkg/tracing"
)

// DefaultBatchSize is the number of texts sent per embedding call.
const DefaultBatchSize = 64

// ErrBackfillInProgress is returned when a backfill is already running.
var ErrBackfillInProgress = errors.New("embedding backfill already in progress")

// Embedder turns texts into vectors, one per text, in input order.
type Embedder interface {
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// BackfillNotifier is told about every completed backfill.
type BackfillNotifier interface {
	BackfillCompleted(ctx context.Context, report domain.BackfillReport) error
}

// EmbeddingConfig configures an EmbeddingService.
type EmbeddingConfig struct {
	PageSize  int
	BatchSize int
	// MaxLength bounds the composed text; zero means textprep.DefaultMaxLength.
	MaxLength int
	Retry     RetryConfig
}

// EmbeddingService keeps stored product embeddings in line with the catalog.
type EmbeddingService struct {
	products   repository.ProductRepository
	embeddings repository.EmbeddingRepository
	embedder   Embedder
	notifier   BackfillNotifier
	cfg        EmbeddingConfig
	logger     *slog.Logger
	tracer     trace.Tracer

	running atomic.Bool
	bg      *background
}

// NewEmbeddingService creates an EmbeddingService. notifier may be nil.
func NewEmbeddingService(
	products repository.ProductRepository,
	embeddings repository.EmbeddingRepository,
	embedder Embedder,
	notifier BackfillNotifier,
	cfg EmbeddingConfig,
	logger *slog.Logger,
) *EmbeddingService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = textprep.DefaultMaxLength
	}
	return &EmbeddingService{
		products:   products,
		embeddings: embeddings,
		embedder:   embedder,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
		tracer:     tracing.Tracer(tracerName),
		bg:         newBackground(),
	}
}

// Running reports whether a backfill is active.
func (s *EmbeddingService) Running() bool {
	return s.running.Load()
}

// pendingEmbedding is a product whose stored vector is missing or stale.
type pendingEmbedding struct {
	supplierAID string
	text        string
	hash        string
}

// Backfill embeds every product whose composed text is non-empty and differs
// from the text its stored vector was computed from.
func (s *EmbeddingService) Backfill(ctx context.Context) (domain.BackfillReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return domain.BackfillReport{}, ErrBackfillInProgress
	}
	defer s.running.Store(false)

	return s.backfill(ctx)
}

// Start runs a backfill in the background.
func (s *EmbeddingService) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBackfillInProgress
	}

	s.bg.Go(ctx, func(ctx context.Context) {
		defer s.running.Store(false)
		if _, err := s.backfill(ctx); err != nil {
			logger.WithContext(ctx, s.logger).ErrorContext(ctx, "embedding backfill failed", slog.String("error", err.Error()))
		}
	})
	return nil
}

// Wait blocks until a background backfill has finished, canceling it when
// ctx ends first.
func (s *EmbeddingService) Wait(ctx context.Context) error {
	return s.bg.Wait(ctx)
}

func (s *EmbeddingService) backfill(ctx context.Context) (report domain.BackfillReport, err error) {
	report.RunID = uuid.NewString()
	report.StartedAt = time.Now().UTC()
	ctx = logger.WithRunID(ctx, report.RunID)
	ctx, span := s.tracer.Start(ctx, "EmbeddingService.Backfill", trace.WithAttributes(
		attribute.String("catalogsync.run_id", report.RunID),
		attribute.String("catalogsync.model", s.embedder.Model()),
	))
	defer span.End()
	log := logger.WithContext(ctx, s.logger)

	log.InfoContext(ctx, "embedding backfill started", slog.String("model", s.embedder.Model()))

	for offset := 0; ; offset += s.cfg.PageSize {
		products, err := withRetry(ctx, s.cfg.Retry, log, "list_products", func() ([]domain.Product, error) {
			return s.products.ListPage(ctx, offset, s.cfg.PageSize)
		})
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return report, fmt.Errorf("list products at offset %d: %w", offset, err)
		}
		if len(products) == 0 {
			break
		}

		if err := s.backfillPage(ctx, log, products, &report); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return report, err
		}
	}

	report.FinishedAt = time.Now().UTC()
	log.InfoContext(ctx, "embedding backfill completed",
		slog.Int("scanned", report.Scanned),
		slog.Int("embedded", report.Embedded),
		slog.Int("skipped", report.Skipped),
	)

	if s.notifier != nil {
		if err := s.notifier.BackfillCompleted(ctx, report); err != nil {
			log.WarnContext(ctx, "failed to publish backfill event", slog.String("error", err.Error()))
		}
	}
	return report, nil
}

func (s *EmbeddingService) backfillPage(ctx context.Context, log *slog.Logger, products []domain.Product, report *domain.BackfillReport) error {
	report.Scanned += len(products)

	candidates := make([]pendingEmbedding, 0, len(products))
	ids := make([]string, 0, len(products))
	for i := range products {
		text := textprep.ComposeProduct(&products[i], s.cfg.MaxLength)
		if text == "" {
			report.Skipped++
			metrics.EmbeddingsSkipped.Inc()
			continue
		}
		candidates = append(candidates, pendingEmbedding{
			supplierAID: products[i].SupplierAID,
			text:        text,
			hash:        textprep.TextHash(text),
		})
		ids = append(ids, products[i].SupplierAID)
	}
	if len(candidates) == 0 {
		return nil
	}

	stored, err := s.embeddings.TextHashes(ctx, s.embedder.Model(), ids)
	if err != nil {
		return fmt.Errorf("load text hashes: %w", err)
	}

	pending := candidates[:0]
	for _, c := range candidates {
		if stored[c.supplierAID] == c.hash {
			report.Skipped++
			metrics.EmbeddingsSkipped.Inc()
			continue
		}
		pending = append(pending, c)
	}

	for start := 0; start < len(pending); start += s.cfg.BatchSize {
		batch := pending[start:min(start+s.cfg.BatchSize, len(pending))]
		if err := s.embedBatch(ctx, log, batch); err != nil {
			return err
		}
		report.Embedded += len(batch)
	}
	return nil
}

func (s *EmbeddingService) embedBatch(ctx context.Context, log *slog.Logger, batch []pendingEmbedding) error {
	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.text
	}

	// The embedding client retries transient HTTP failures itself.
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d texts: %w", len(texts), err)
	}

	now := time.Now().UTC()
	rows := make([]domain.ProductEmbedding, len(batch))
	for i, p := range batch {
		rows[i] = domain.ProductEmbedding{
			SupplierAID: p.supplierAID,
			Model:       s.embedder.Model(),
			Vector:      vectors[i],
			TextHash:    p.hash,
			UpdatedAt:   now,
		}
	}

	if err := s.embeddings.Upsert(ctx, rows); err != nil {
		return fmt.Errorf("store embeddings: %w", err)
	}
	metrics.EmbeddingsStored.Add(float64(len(rows)))
	log.DebugContext(ctx, "embedding batch stored", slog.Int("count", len(rows)))
	return nil
}
