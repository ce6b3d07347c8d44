package rag

import (
	"context"
	"io"
	"sort"
	"sync"

	"soul-teller/server/internal/models"
	"soul-teller/server/internal/storage"
)

// SearchResult is one scored hit
type SearchResult struct {
	Item  *models.VectorItem `json:"item"`
	Score float64            `json:"score"`
}

// Backend is where vector items live. Upsert overwrites by id; Get returns
// storage.ErrNotFound for an absent id.
type Backend interface {
	Upsert(ctx context.Context, item *models.VectorItem) error
	Search(ctx context.Context, query []float64, topK int, threshold float64) ([]SearchResult, error)
	Get(ctx context.Context, id string) (*models.VectorItem, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// ItemTable is a plain keyed table of items. storage.VectorDB is one.
type ItemTable interface {
	Upsert(ctx context.Context, item *models.VectorItem) error
	Get(ctx context.Context, id string) (*models.VectorItem, error)
	All(ctx context.Context) ([]*models.VectorItem, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// ScanBackend searches an ItemTable by computing cosine similarity against
// every row. The corpus is session-scoped so a linear scan is enough.
type ScanBackend struct {
	table ItemTable
}

func NewScanBackend(table ItemTable) *ScanBackend {
	return &ScanBackend{table: table}
}

func (b *ScanBackend) Upsert(ctx context.Context, item *models.VectorItem) error {
	return b.table.Upsert(ctx, item)
}

// Search keeps hits with score >= threshold, best first, at most topK
func (b *ScanBackend) Search(ctx context.Context, query []float64, topK int, threshold float64) ([]SearchResult, error) {
	items, err := b.table.All(ctx)
	if err != nil {
		return nil, err
	}
	return rank(items, query, topK, threshold), nil
}

func (b *ScanBackend) Get(ctx context.Context, id string) (*models.VectorItem, error) {
	return b.table.Get(ctx, id)
}

func (b *ScanBackend) Delete(ctx context.Context, id string) error {
	return b.table.Delete(ctx, id)
}

func (b *ScanBackend) Clear(ctx context.Context) error {
	return b.table.Clear(ctx)
}

func (b *ScanBackend) Count(ctx context.Context) (int, error) {
	return b.table.Count(ctx)
}

// Close closes the table when it owns a resource
func (b *ScanBackend) Close() error {
	if c, ok := b.table.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func rank(items []*models.VectorItem, query []float64, topK int, threshold float64) []SearchResult {
	results := make([]SearchResult, 0, len(items))
	for _, item := range items {
		score := CosineScore(query, item.Embedding)
		if score >= threshold {
			results = append(results, SearchResult{Item: item, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// MemoryTable is an in-process ItemTable
type MemoryTable struct {
	mu    sync.RWMutex
	items map[string]*models.VectorItem
}

func NewMemoryTable() *MemoryTable {
	return &MemoryTable{items: make(map[string]*models.VectorItem)}
}

func (t *MemoryTable) Upsert(_ context.Context, item *models.VectorItem) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[item.ID] = cloneItem(item)
	return nil
}

func (t *MemoryTable) Get(_ context.Context, id string) (*models.VectorItem, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	item, ok := t.items[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneItem(item), nil
}

// All returns items ordered by timestamp, then id
func (t *MemoryTable) All(_ context.Context) ([]*models.VectorItem, error) {
	t.mu.RLock()
	out := make([]*models.VectorItem, 0, len(t.items))
	for _, item := range t.items {
		out = append(out, cloneItem(item))
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Metadata.Timestamp != out[j].Metadata.Timestamp {
			return out[i].Metadata.Timestamp < out[j].Metadata.Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *MemoryTable) Delete(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.items, id)
	return nil
}

func (t *MemoryTable) Clear(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = make(map[string]*models.VectorItem)
	return nil
}

func (t *MemoryTable) Count(_ context.Context) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items), nil
}

func cloneItem(item *models.VectorItem) *models.VectorItem {
	c := *item
	c.Embedding = append([]float64(nil), item.Embedding...)
	return &c
}

var (
	_ Backend   = (*ScanBackend)(nil)
	_ ItemTable = (*MemoryTable)(nil)
	_ ItemTable = (*storage.VectorDB)(nil)
)
