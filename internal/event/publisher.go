package event

import (
	"context"
	"fmt"

	"github.com/utafrali/catalogsync/internal/domain"
	pkgkafka "github.com/utafrali/catalogsync/pkg/kafka"
	"github.com/utafrali/catalogsync/pkg/logger"
)

const source = "catalogsync"

// Kafka topics for completed batch runs.
var (
	TopicSearchReindexed      = pkgkafka.Topic("search", "reindexed")
	TopicEmbeddingsBackfilled = pkgkafka.Topic("embeddings", "backfilled")
)

// Producer is the subset of *pkgkafka.Producer used by the publisher.
type Producer interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Publisher announces completed reindex and backfill runs.
type Publisher struct {
	producer Producer
}

// NewPublisher creates a publisher on producer.
func NewPublisher(producer Producer) *Publisher {
	return &Publisher{producer: producer}
}

// ReindexCompleted publishes the report of a successful reindex, keyed by
// the alias (or index) readers query.
func (p *Publisher) ReindexCompleted(ctx context.Context, report domain.ReindexReport) error {
	key := report.Alias
	if key == "" {
		key = report.Index
	}
	return p.publish(ctx, TopicSearchReindexed, key, "search_index", report)
}

// BackfillCompleted publishes the report of an embedding backfill.
func (p *Publisher) BackfillCompleted(ctx context.Context, report domain.BackfillReport) error {
	return p.publish(ctx, TopicEmbeddingsBackfilled, report.RunID, "embedding_backfill", report)
}

func (p *Publisher) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	evt, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, source, data)
	if err != nil {
		return fmt.Errorf("build %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}
	if id := logger.RunIDFromContext(ctx); id != "" {
		evt.WithMetadata("run_id", id)
	}
	return p.producer.Publish(ctx, topic, evt)
}
