package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"soul-teller/server/internal/models"
)

const (
	defaultHistorySize    = 10
	defaultThreshold      = 0.4
	defaultTwistReason    = "AI标记为转折点"
	defaultSearchTopK     = 5
	recentSectionHeader   = "## 最近剧情\n"
	relevantSectionHeader = "## 相关历史情节\n"
)

// Vector id prefixes. Upserts with the same id overwrite.
const (
	KindWorld     = "world"
	KindCharacter = "character"
	KindNode      = "node"
)

// BuildVectorID returns the storage id for an indexed entity, e.g. node-abc
func BuildVectorID(kind, id string) string {
	return kind + "-" + id
}

// StoreOptions tunes the store
type StoreOptions struct {
	HistorySize int
	Threshold   float64
}

// GenerationContext is the retrieval bundle handed to the generator
type GenerationContext struct {
	Recent   []string `json:"recent"`
	Relevant []string `json:"relevant"`
	Summary  string   `json:"summary"`
}

type historyEntry struct {
	NodeID    string
	Narrative string
	Timestamp time.Time
}

// Store combines the vector backend with a short in-process history of
// recent narratives.
type Store struct {
	backend    Backend
	embeddings *EmbeddingService
	classifier PlotTwistClassifier
	logger     *slog.Logger

	historySize int
	threshold   float64

	mu      sync.Mutex
	history []historyEntry

	now func() time.Time
}

// NewStore creates a store. A nil classifier never flags twists.
func NewStore(backend Backend, embeddings *EmbeddingService, classifier PlotTwistClassifier, opts StoreOptions, logger *slog.Logger) *Store {
	if classifier == nil {
		classifier = NeverTwist{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultHistorySize
	}
	if opts.Threshold <= 0 {
		opts.Threshold = defaultThreshold
	}
	return &Store{
		backend:     backend,
		embeddings:  embeddings,
		classifier:  classifier,
		logger:      logger.With("component", "vector_store"),
		historySize: opts.HistorySize,
		threshold:   opts.Threshold,
		now:         time.Now,
	}
}

// AddText embeds text and upserts it under id. An embedding failure is
// logged and the item is skipped; only backend errors are returned.
func (s *Store) AddText(ctx context.Context, id, text string, meta models.VectorMetadata) error {
	vec, err := s.embeddings.Embed(ctx, text)
	if err != nil {
		s.logger.Info("text embedding skipped", "id", id, "error", err)
		return nil
	}

	meta.Timestamp = s.now().UnixMilli()
	item := &models.VectorItem{ID: id, Text: text, Embedding: vec, Metadata: meta}
	if err := s.backend.Upsert(ctx, item); err != nil {
		return fmt.Errorf("failed to store vector %s: %w", id, err)
	}
	s.logger.Debug("vector stored", "id", id, "type", meta.Type)
	return nil
}

// Search ranks stored items against query. When the query cannot be embedded
// a zero vector is used, which matches nothing above a positive threshold.
func (s *Store) Search(ctx context.Context, query string, topK int, threshold float64) ([]SearchResult, error) {
	if topK <= 0 {
		topK = defaultSearchTopK
	}

	vec, err := s.embeddings.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed, using zero vector", "error", err)
		vec = s.embeddings.ZeroVector()
	}

	results, err := s.backend.Search(ctx, vec, topK, threshold)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	s.logger.Debug("search finished", "results", len(results))
	return results, nil
}

// GetRelevantContext returns the texts of the best matches
func (s *Store) GetRelevantContext(ctx context.Context, query string, max int) ([]string, error) {
	results, err := s.Search(ctx, query, max, s.threshold)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Item.Text
	}
	return texts, nil
}

// GetContextForGeneration bundles the last recentCount narratives with the
// relevantCount best vector matches for current. A failed search leaves
// Relevant empty.
func (s *Store) GetContextForGeneration(ctx context.Context, current string, recentCount, relevantCount int) GenerationContext {
	recent := s.RecentNarratives(recentCount)

	relevant, err := s.GetRelevantContext(ctx, current, relevantCount)
	if err != nil {
		s.logger.Warn("relevant context unavailable", "error", err)
		relevant = nil
	}

	return GenerationContext{
		Recent:   recent,
		Relevant: relevant,
		Summary:  contextSummary(recent, relevant),
	}
}

func contextSummary(recent, relevant []string) string {
	parts := make([]string, 0, 2)
	if len(recent) > 0 {
		parts = append(parts, recentSectionHeader+strings.Join(recent, "\n\n"))
	}
	if len(relevant) > 0 {
		parts = append(parts, relevantSectionHeader+strings.Join(relevant, "\n\n"))
	}
	return strings.Join(parts, "\n\n")
}

// AddStoryNode records the narrative in the recent history and persists it
// when it is a plot twist. A nil isPlotTwist lets the classifier decide.
func (s *Store) AddStoryNode(ctx context.Context, nodeID, narrative string, isPlotTwist *bool) error {
	s.RecordNarrative(nodeID, narrative)
	return s.PersistStoryNode(ctx, nodeID, narrative, isPlotTwist)
}

// RecordNarrative appends to the ring buffer. A narrative identical to the
// newest entry is not appended twice.
func (s *Store) RecordNarrative(nodeID, narrative string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.history); n > 0 && s.history[n-1].Narrative == narrative {
		return
	}
	s.history = append(s.history, historyEntry{NodeID: nodeID, Narrative: narrative, Timestamp: s.now()})
	if over := len(s.history) - s.historySize; over > 0 {
		s.history = append([]historyEntry(nil), s.history[over:]...)
	}
}

// PersistStoryNode stores the narrative under node-{nodeID} if it is a twist
func (s *Store) PersistStoryNode(ctx context.Context, nodeID, narrative string, isPlotTwist *bool) error {
	var verdict TwistVerdict
	if isPlotTwist != nil {
		verdict.IsTwist = *isPlotTwist
	} else {
		verdict = s.classifier.Classify(ctx, narrative)
	}
	if !verdict.IsTwist {
		return nil
	}

	reason := verdict.Reason
	if reason == "" {
		reason = defaultTwistReason
	}
	err := s.AddText(ctx, BuildVectorID(KindNode, nodeID), narrative, models.VectorMetadata{
		Type:            KindNode,
		IsPlotTwist:     true,
		PlotTwistReason: reason,
		NodeID:          nodeID,
	})
	if err != nil {
		return err
	}
	s.logger.Info("plot twist stored", "node_id", nodeID)
	return nil
}

// RecentNarratives returns up to count narratives, oldest first
func (s *Store) RecentNarratives(count int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if count <= 0 {
		return nil
	}
	start := len(s.history) - count
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, len(s.history)-start)
	for _, h := range s.history[start:] {
		out = append(out, h.Narrative)
	}
	return out
}

// ClearHistory empties the in-process history
func (s *Store) ClearHistory() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
	s.logger.Debug("story history cleared")
}

func (s *Store) HistoryLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func (s *Store) Get(ctx context.Context, id string) (*models.VectorItem, error) {
	return s.backend.Get(ctx, id)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.backend.Delete(ctx, id)
}

func (s *Store) Clear(ctx context.Context) error {
	return s.backend.Clear(ctx)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	return s.backend.Count(ctx)
}

func (s *Store) Close() error {
	return s.backend.Close()
}
