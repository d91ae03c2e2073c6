package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/utafrali/catalogsync/internal/domain"
)

var (
	// ErrIndexNotFound is returned when an operation names an unknown index.
	ErrIndexNotFound = errors.New("index not found")

	// ErrNameInUse is returned when an index and an alias would share a name.
	ErrNameInUse = errors.New("name already used by an alias")
)

type index struct {
	// pending holds every written document; visible is the snapshot taken
	// at the last refresh.
	pending map[string]domain.SearchDocument
	visible map[string]domain.SearchDocument
}

func newIndex() *index {
	return &index{
		pending: make(map[string]domain.SearchDocument),
		visible: make(map[string]domain.SearchDocument),
	}
}

// Engine is an in-memory implementation of the SearchIndex interface.
// Writes become visible only after Refresh, as in Elasticsearch.
// Thread-safe via sync.RWMutex.
type Engine struct {
	mu      sync.RWMutex
	indices map[string]*index
	aliases map[string]map[string]struct{}
}

// New creates a new in-memory search index.
func New() *Engine {
	return &Engine{
		indices: make(map[string]*index),
		aliases: make(map[string]map[string]struct{}),
	}
}

// CreateIndex creates an empty index called name.
func (e *Engine) CreateIndex(_ context.Context, name string, deleteExisting bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.aliases[name]; ok {
		return fmt.Errorf("create index %s: %w", name, ErrNameInUse)
	}
	if _, ok := e.indices[name]; ok {
		if !deleteExisting {
			return nil
		}
		e.deleteLocked(name)
	}
	e.indices[name] = newIndex()
	return nil
}

// BulkWrite stores docs in index, or in the single index an alias of that
// name points to. A missing index is created on first write.
func (e *Engine) BulkWrite(_ context.Context, name string, docs []domain.SearchDocument) (domain.BulkResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target, err := e.writeTargetLocked(name)
	if err != nil {
		return domain.BulkResult{}, err
	}
	idx, ok := e.indices[target]
	if !ok {
		idx = newIndex()
		e.indices[target] = idx
	}

	for i := range docs {
		idx.pending[docs[i].ID()] = docs[i]
	}
	return domain.BulkResult{Succeeded: len(docs)}, nil
}

// Refresh publishes pending writes of index (or of the indices behind an alias).
func (e *Engine) Refresh(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	targets := e.resolveLocked(name)
	if len(targets) == 0 {
		return fmt.Errorf("refresh %s: %w", name, ErrIndexNotFound)
	}
	for _, target := range targets {
		idx := e.indices[target]
		idx.visible = maps.Clone(idx.pending)
	}
	return nil
}

// IndexExists reports whether an index or alias called name exists.
func (e *Engine) IndexExists(_ context.Context, name string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, isIndex := e.indices[name]
	_, isAlias := e.aliases[name]
	return isIndex || isAlias, nil
}

// ResolveAlias returns the indices alias points to, sorted by name.
func (e *Engine) ResolveAlias(_ context.Context, alias string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	members, ok := e.aliases[alias]
	if !ok {
		return nil, nil
	}
	return slices.Sorted(maps.Keys(members)), nil
}

// SwapAlias points alias at target and removes it from previous atomically.
func (e *Engine) SwapAlias(_ context.Context, alias, target string, previous []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.indices[target]; !ok {
		return fmt.Errorf("swap alias %s: %s: %w", alias, target, ErrIndexNotFound)
	}
	if _, ok := e.indices[alias]; ok {
		return fmt.Errorf("swap alias %s: %w", alias, ErrNameInUse)
	}

	members, ok := e.aliases[alias]
	if !ok {
		members = make(map[string]struct{})
		e.aliases[alias] = members
	}
	for _, idx := range previous {
		delete(members, idx)
	}
	members[target] = struct{}{}
	return nil
}

// DeleteIndex removes name and drops it from every alias.
func (e *Engine) DeleteIndex(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.deleteLocked(name)
	return nil
}

// Ping always succeeds.
func (e *Engine) Ping(_ context.Context) error {
	return nil
}

// Documents returns the refreshed documents of an index or alias, ordered
// by ID.
func (e *Engine) Documents(name string) []domain.SearchDocument {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var docs []domain.SearchDocument
	for _, target := range e.resolveLocked(name) {
		for _, id := range slices.Sorted(maps.Keys(e.indices[target].visible)) {
			docs = append(docs, e.indices[target].visible[id])
		}
	}
	return docs
}

// Indices returns the names of all concrete indices, sorted.
func (e *Engine) Indices() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return slices.Sorted(maps.Keys(e.indices))
}

func (e *Engine) deleteLocked(name string) {
	delete(e.indices, name)
	for alias, members := range e.aliases {
		delete(members, name)
		if len(members) == 0 {
			delete(e.aliases, alias)
		}
	}
}

// resolveLocked returns the concrete indices behind name.
func (e *Engine) resolveLocked(name string) []string {
	if _, ok := e.indices[name]; ok {
		return []string{name}
	}
	if members, ok := e.aliases[name]; ok {
		return slices.Sorted(maps.Keys(members))
	}
	return nil
}

func (e *Engine) writeTargetLocked(name string) (string, error) {
	members, ok := e.aliases[name]
	if !ok {
		return name, nil
	}
	if len(members) != 1 {
		return "", fmt.Errorf("bulk write %s: alias points to %d indices", name, len(members))
	}
	for target := range members {
		return target, nil
	}
	return name, nil
}
