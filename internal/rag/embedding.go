package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"soul-teller/server/internal/llm"
)

const (
	cacheTTL             = 24 * time.Hour
	defaultCacheCapacity = 4096
	defaultDimension     = 1024
	defaultBatchSize     = 32
)

// EmbeddingCache stores cached embeddings. It holds at most capacity
// entries; expired entries go first, then the oldest.
type EmbeddingCache struct {
	cache    map[string]*CachedEmbedding
	capacity int
	mu       sync.RWMutex
	now      func() time.Time
}

func newEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		cache:    make(map[string]*CachedEmbedding),
		capacity: capacity,
		now:      time.Now,
	}
}

// CachedEmbedding holds a cached embedding with expiration
type CachedEmbedding struct {
	Vector    []float64
	CreatedAt time.Time
}

// EmbeddingService turns text into vectors through the hosted endpoint and
// caches results by text.
type EmbeddingService struct {
	embedder   llm.Embedder
	cache      *EmbeddingCache
	model      string
	dimensions int
	batchSize  int
}

// NewEmbeddingService creates a new embedding service. dimensions <= 0 means
// the model default, which is also the size of the fallback zero vector.
func NewEmbeddingService(embedder llm.Embedder, model string, dimensions int) *EmbeddingService {
	if dimensions <= 0 {
		dimensions = defaultDimension
	}
	return &EmbeddingService{
		embedder:   embedder,
		cache:      newEmbeddingCache(defaultCacheCapacity),
		model:      model,
		dimensions: dimensions,
		batchSize:  defaultBatchSize,
	}
}

// Dimensions returns the configured vector size
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// Embed generates embedding for a single text
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float64, error) {
	if vec, ok := s.getFromCache(text); ok {
		return vec, nil
	}

	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("no embedding generated")
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts, in input order
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float64, len(texts))
	uncachedIndices := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := s.getFromCache(text); ok {
			out[i] = vec
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}
	if len(uncachedTexts) == 0 {
		return out, nil
	}

	fresh, err := s.embedUncached(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}
	for i, idx := range uncachedIndices {
		out[idx] = fresh[i]
		s.cache.Put(uncachedTexts[i], fresh[i])
	}
	return out, nil
}

func (s *EmbeddingService) embedUncached(ctx context.Context, texts []string) ([][]float64, error) {
	all := make([][]float64, 0, len(texts))

	for i := 0; i < len(texts); i += s.batchSize {
		end := i + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := s.embedder.CreateEmbeddings(ctx, s.model, texts[i:end], s.dimensions)
		if err != nil {
			return nil, fmt.Errorf("failed to create embeddings: %w", err)
		}
		for _, v := range vectors {
			if !IsValidVector(v) {
				return nil, errors.New("embedding contains NaN or Inf")
			}
			all = append(all, v)
		}
	}
	return all, nil
}

func (s *EmbeddingService) getFromCache(text string) ([]float64, bool) {
	return s.cache.Get(text)
}

// Get returns a cached embedding that has not expired
func (c *EmbeddingCache) Get(text string) ([]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.cache[text]
	if !ok || c.now().Sub(cached.CreatedAt) > cacheTTL {
		return nil, false
	}
	return cached.Vector, true
}

// Put caches an embedding, evicting when the cache is full
func (c *EmbeddingCache) Put(text string, vector []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, ok := c.cache[text]; !ok && len(c.cache) >= c.capacity {
		c.evictLocked(now)
	}
	c.cache[text] = &CachedEmbedding{
		Vector:    vector,
		CreatedAt: now,
	}
}

func (c *EmbeddingCache) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for key, e := range c.cache {
		if now.Sub(e.CreatedAt) > cacheTTL {
			delete(c.cache, key)
			continue
		}
		if oldestKey == "" || e.CreatedAt.Before(oldestAt) {
			oldestKey, oldestAt = key, e.CreatedAt
		}
	}
	if len(c.cache) >= c.capacity && oldestKey != "" {
		delete(c.cache, oldestKey)
	}
}

// Len returns the number of cached embeddings
func (c *EmbeddingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// ZeroVector returns the fallback query vector. It scores 0 against anything.
func (s *EmbeddingService) ZeroVector() []float64 {
	return make([]float64, s.dimensions)
}

// CalculateCosineSimilarity calculates cosine similarity between two vectors
func CalculateCosineSimilarity(v1, v2 []float64) (float64, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("vector dimensions don't match: %d vs %d", len(v1), len(v2))
	}
	if len(v1) == 0 {
		return 0, nil
	}

	var dotProduct, norm1, norm2 float64
	for i := range v1 {
		dotProduct += v1[i] * v2[i]
		norm1 += v1[i] * v1[i]
		norm2 += v2[i] * v2[i]
	}

	norm1 = math.Sqrt(norm1)
	norm2 = math.Sqrt(norm2)
	if norm1 == 0 || norm2 == 0 {
		return 0, nil
	}
	return dotProduct / (norm1 * norm2), nil
}

// CosineScore is CalculateCosineSimilarity with a dimension mismatch scored as 0
func CosineScore(v1, v2 []float64) float64 {
	score, err := CalculateCosineSimilarity(v1, v2)
	if err != nil {
		return 0
	}
	return score
}

// IsValidVector checks if a vector is valid (no NaN or Inf values)
func IsValidVector(vector []float64) bool {
	for _, v := range vector {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// EmbeddingStats holds statistics about the embedding service
type EmbeddingStats struct {
	CacheSize     int    `json:"cacheSize"`
	CacheCapacity int    `json:"cacheCapacity"`
	Model         string `json:"model"`
	EmbeddingDim  int    `json:"embeddingDim"`
	BatchSize     int    `json:"batchSize"`
}

// GetStats returns statistics about the embedding service
func (s *EmbeddingService) GetStats() *EmbeddingStats {
	return &EmbeddingStats{
		CacheSize:     s.cache.Len(),
		CacheCapacity: s.cache.capacity,
		Model:         s.model,
		EmbeddingDim:  s.dimensions,
		BatchSize:     s.batchSize,
	}
}
