package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/utafrali/catalogsync/internal/domain"
)

// Config holds the connection and schema settings of the engine.
type Config struct {
	Addresses        []string
	Username         string
	Password         string
	LanguageAnalyzer string
}

// Engine is an Elasticsearch-backed implementation of engine.SearchIndex.
type Engine struct {
	client *elasticsearch.Client
	schema []byte
	logger *slog.Logger
}

// StatusError is returned when Elasticsearch answers with an error status.
type StatusError struct {
	Op         string
	StatusCode int
	Type       string
	Reason     string
}

func (e *StatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("elasticsearch %s: %s: %s", e.Op, e.Type, e.Reason)
	}
	return fmt.Sprintf("elasticsearch %s: unexpected status %d", e.Op, e.StatusCode)
}

// Retryable reports whether retrying the request may succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// esBulkResponse is the structure used to decode Elasticsearch bulk responses.
type esBulkResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		Index struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"index"`
	} `json:"items"`
}

// esErrorResponse is used to decode Elasticsearch error responses.
type esErrorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

type bulkAction struct {
	Index bulkTarget `json:"index"`
}

type bulkTarget struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

type aliasAction struct {
	Add    *aliasTarget `json:"add,omitempty"`
	Remove *aliasTarget `json:"remove,omitempty"`
}

type aliasTarget struct {
	Index string `json:"index"`
	Alias string `json:"alias"`
}

// New creates an Elasticsearch engine. It does not contact the cluster.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		// Retries are owned by the indexer's backoff policy.
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: failed to create client: %w", err)
	}

	schema, err := NewIndexSchema(cfg.LanguageAnalyzer).JSON()
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: encode index schema: %w", err)
	}

	return &Engine{
		client: client,
		schema: schema,
		logger: logger,
	}, nil
}

// Ping checks whether the Elasticsearch cluster is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return decodeError("ping", res)
	}
	return nil
}

// CreateIndex creates name with the product schema.
func (e *Engine) CreateIndex(ctx context.Context, name string, deleteExisting bool) error {
	if deleteExisting {
		if err := e.DeleteIndex(ctx, name); err != nil {
			return err
		}
	} else {
		exists, err := e.IndexExists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			e.logger.InfoContext(ctx, "elasticsearch index already exists", slog.String("index", name))
			return nil
		}
	}

	res, err := e.client.Indices.Create(
		name,
		e.client.Indices.Create.WithBody(bytes.NewReader(e.schema)),
		e.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch create index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return decodeError("create index", res)
	}

	e.logger.InfoContext(ctx, "elasticsearch index created", slog.String("index", name))
	return nil
}

// IndexExists reports whether an index or alias called name exists.
func (e *Engine) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := e.client.Indices.Exists(
		[]string{name},
		e.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("elasticsearch index exists: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &StatusError{Op: "index exists", StatusCode: res.StatusCode}
	}
}

// DeleteIndex removes name. A missing index is not an error.
func (e *Engine) DeleteIndex(ctx context.Context, name string) error {
	res, err := e.client.Indices.Delete(
		[]string{name},
		e.client.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return decodeError("delete index", res)
	}

	e.logger.InfoContext(ctx, "elasticsearch index deleted", slog.String("index", name))
	return nil
}

// BulkWrite indexes docs into index using the bulk NDJSON API. Per-item
// rejections are returned as failures in the result.
func (e *Engine) BulkWrite(ctx context.Context, index string, docs []domain.SearchDocument) (domain.BulkResult, error) {
	if len(docs) == 0 {
		return domain.BulkResult{}, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range docs {
		if err := enc.Encode(bulkAction{Index: bulkTarget{Index: index, ID: docs[i].ID()}}); err != nil {
			return domain.BulkResult{}, fmt.Errorf("elasticsearch bulk: encode action: %w", err)
		}
		if err := enc.Encode(&docs[i]); err != nil {
			return domain.BulkResult{}, fmt.Errorf("elasticsearch bulk: encode document: %w", err)
		}
	}

	res, err := e.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		e.client.Bulk.WithIndex(index),
		e.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return domain.BulkResult{}, fmt.Errorf("elasticsearch bulk: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return domain.BulkResult{}, decodeError("bulk", res)
	}

	var bulkResp esBulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return domain.BulkResult{}, fmt.Errorf("elasticsearch bulk: decode response: %w", err)
	}

	var result domain.BulkResult
	for _, item := range bulkResp.Items {
		if item.Index.Status >= 200 && item.Index.Status < 300 {
			result.Succeeded++
			continue
		}
		result.Failures = append(result.Failures, domain.BulkFailure{
			ID:     item.Index.ID,
			Status: item.Index.Status,
			Type:   item.Index.Error.Type,
			Reason: item.Index.Error.Reason,
		})
	}

	e.logger.DebugContext(ctx, "bulk write completed",
		slog.String("index", index),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", len(result.Failures)),
	)
	return result, nil
}

// Refresh makes recent writes to index searchable.
func (e *Engine) Refresh(ctx context.Context, index string) error {
	res, err := e.client.Indices.Refresh(
		e.client.Indices.Refresh.WithIndex(index),
		e.client.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch refresh: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return decodeError("refresh", res)
	}
	return nil
}

// ResolveAlias returns the indices alias points to, sorted by name.
func (e *Engine) ResolveAlias(ctx context.Context, alias string) ([]string, error) {
	res, err := e.client.Indices.GetAlias(
		e.client.Indices.GetAlias.WithName(alias),
		e.client.Indices.GetAlias.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch get alias: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, decodeError("get alias", res)
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("elasticsearch get alias: decode response: %w", err)
	}

	indices := make([]string, 0, len(body))
	for name := range body {
		indices = append(indices, name)
	}
	sort.Strings(indices)
	return indices, nil
}

// SwapAlias moves alias from previous to target in a single _aliases call.
func (e *Engine) SwapAlias(ctx context.Context, alias, target string, previous []string) error {
	actions := make([]aliasAction, 0, len(previous)+1)
	for _, idx := range previous {
		if idx == target {
			continue
		}
		actions = append(actions, aliasAction{Remove: &aliasTarget{Index: idx, Alias: alias}})
	}
	actions = append(actions, aliasAction{Add: &aliasTarget{Index: target, Alias: alias}})

	data, err := json.Marshal(map[string]any{"actions": actions})
	if err != nil {
		return fmt.Errorf("elasticsearch update aliases: encode: %w", err)
	}

	res, err := e.client.Indices.UpdateAliases(
		bytes.NewReader(data),
		e.client.Indices.UpdateAliases.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch update aliases: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return decodeError("update aliases", res)
	}

	e.logger.InfoContext(ctx, "elasticsearch alias swapped",
		slog.String("alias", alias),
		slog.String("index", target),
		slog.Any("previous", previous),
	)
	return nil
}

// decodeError turns an error response into a *StatusError.
func decodeError(op string, res *esapi.Response) error {
	statusErr := &StatusError{Op: op, StatusCode: res.StatusCode}
	var errResp esErrorResponse
	if err := json.NewDecoder(res.Body).Decode(&errResp); err == nil {
		statusErr.Type = errResp.Error.Type
		statusErr.Reason = errResp.Error.Reason
	}
	return statusErr
}
