package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"soul-teller/server/internal/models"
)

var (
	ErrQueueFull      = errors.New("indexer: queue is full")
	ErrIndexerStopped = errors.New("indexer: stopped")
)

// IndexJob is one idempotent upsert. Story node jobs go through the plot
// twist path; the others are stored unconditionally.
type IndexJob struct {
	ID        string
	Text      string
	Metadata  models.VectorMetadata
	StoryNode bool
	NodeID    string
	PlotTwist *bool
}

// IndexerStats is a point-in-time view of the queue
type IndexerStats struct {
	Enqueued  int64 `json:"enqueued"`
	Coalesced int64 `json:"coalesced"`
	Indexed   int64 `json:"indexed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
	Workers   int   `json:"workers"`
}

// Indexer runs vectorization in the background so the story never waits on
// embeddings. Jobs are keyed by id; enqueueing an id that is still pending
// replaces the pending job instead of adding another.
type Indexer struct {
	store      *Store
	requests   chan string
	maxWorkers int
	logger     *slog.Logger

	mu          sync.Mutex
	pending     map[string]IndexJob
	outstanding int
	waiters     []chan struct{}
	stopped     bool

	group *errgroup.Group

	enqueued  atomic.Int64
	coalesced atomic.Int64
	indexed   atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewIndexer creates an indexer with a bounded queue
func NewIndexer(store *Store, maxWorkers, maxQueueSize int, logger *slog.Logger) *Indexer {
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	if maxQueueSize <= 0 {
		maxQueueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:      store,
		requests:   make(chan string, maxQueueSize),
		maxWorkers: maxWorkers,
		logger:     logger.With("component", "indexer"),
		pending:    make(map[string]IndexJob),
	}
}

// Start starts the workers. They exit when ctx is cancelled or Stop is called.
func (q *Indexer) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.maxWorkers; i++ {
		g.Go(func() error {
			q.worker(gctx)
			return nil
		})
	}
	q.group = g
	q.logger.Info("indexer started", "workers", q.maxWorkers, "queue_size", cap(q.requests))
}

// Stop closes the queue and waits for the workers to finish what is queued
func (q *Indexer) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.requests)
	q.mu.Unlock()

	if q.group != nil {
		_ = q.group.Wait()
	}
}

// Enqueue never blocks. A full queue drops the job.
func (q *Indexer) Enqueue(job IndexJob) error {
	if job.ID == "" {
		return errors.New("indexer: job id is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrIndexerStopped
	}
	if _, ok := q.pending[job.ID]; ok {
		q.pending[job.ID] = job
		q.coalesced.Inc()
		return nil
	}

	select {
	case q.requests <- job.ID:
	default:
		q.dropped.Inc()
		q.logger.Warn("index queue full, dropping job", "id", job.ID)
		return ErrQueueFull
	}
	q.pending[job.ID] = job
	q.outstanding++
	q.enqueued.Inc()
	return nil
}

// IndexWorld queues the world flavor text and each character profile
func (q *Indexer) IndexWorld(world *models.StoryWorld) {
	q.try(IndexJob{
		ID:       BuildVectorID(KindWorld, world.ID),
		Text:     WorldText(world.Context),
		Metadata: models.VectorMetadata{Type: KindWorld, WorldID: world.ID},
	})
	for _, c := range world.Context.Characters {
		q.try(IndexJob{
			ID:       BuildVectorID(KindCharacter, c.ID),
			Text:     CharacterText(c),
			Metadata: models.VectorMetadata{Type: KindCharacter, CharacterID: c.ID, WorldID: world.ID},
		})
	}
}

// IndexNode queues a node narrative for unconditional storage
func (q *Indexer) IndexNode(node *models.StoryNode) {
	q.try(IndexJob{
		ID:       BuildVectorID(KindNode, node.ID),
		Text:     node.Content.Narrative,
		Metadata: models.VectorMetadata{Type: KindNode, NodeID: node.ID},
	})
}

// IndexStoryNode records the narrative in the recent history right away and
// queues the plot twist decision and storage.
func (q *Indexer) IndexStoryNode(nodeID, narrative string, plotTwist *bool) {
	q.store.RecordNarrative(nodeID, narrative)
	q.try(IndexJob{
		ID:        BuildVectorID(KindNode, nodeID),
		Text:      narrative,
		StoryNode: true,
		NodeID:    nodeID,
		PlotTwist: plotTwist,
	})
}

func (q *Indexer) try(job IndexJob) {
	if err := q.Enqueue(job); err != nil {
		q.logger.Warn("vectorization not queued", "id", job.ID, "error", err)
	}
}

// Flush waits until every queued job has been processed
func (q *Indexer) Flush(ctx context.Context) error {
	q.mu.Lock()
	if q.outstanding == 0 {
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Indexer) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-q.requests:
			if !ok {
				return
			}
			q.process(ctx, id)
		}
	}
}

func (q *Indexer) process(ctx context.Context, id string) {
	q.mu.Lock()
	job, ok := q.pending[id]
	delete(q.pending, id)
	q.mu.Unlock()

	if ok {
		start := time.Now()
		if err := q.run(ctx, job); err != nil {
			q.failed.Inc()
			q.logger.Warn("vectorization failed", "id", id, "error", err)
		} else {
			q.indexed.Inc()
			q.logger.Debug("vectorization done", "id", id, "duration", time.Since(start))
		}
	}

	q.mu.Lock()
	q.outstanding--
	if q.outstanding == 0 {
		for _, w := range q.waiters {
			close(w)
		}
		q.waiters = nil
	}
	q.mu.Unlock()
}

func (q *Indexer) run(ctx context.Context, job IndexJob) error {
	if job.StoryNode {
		return q.store.PersistStoryNode(ctx, job.NodeID, job.Text, job.PlotTwist)
	}
	return q.store.AddText(ctx, job.ID, job.Text, job.Metadata)
}

// Stats returns queue counters
func (q *Indexer) Stats() IndexerStats {
	q.mu.Lock()
	pending := len(q.pending)
	q.mu.Unlock()

	return IndexerStats{
		Enqueued:  q.enqueued.Load(),
		Coalesced: q.coalesced.Load(),
		Indexed:   q.indexed.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
		Pending:   pending,
		Workers:   q.maxWorkers,
	}
}

// WorldText is the vectorized form of a world's flavor text
func WorldText(c models.WorldContext) string {
	return fmt.Sprintf("世界观：%s\n\n核心冲突：%s\n\n氛围：%s", c.Worldview, c.CoreConflict, c.Atmosphere)
}

// CharacterText is the vectorized form of a character profile
func CharacterText(c models.CharacterProfile) string {
	return fmt.Sprintf("角色：%s\n性格：%s\n背景：%s\n说话风格：%s", c.Name, c.Personality, c.Background, c.SpeakingStyle)
}
