// Package engine runs the single interactive story session: the status
// state machine, the choice history, the node cache and the subscriber
// fan-out. Continuations come from the story generator.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"soul-teller/server/internal/catalog"
	"soul-teller/server/internal/generator"
	"soul-teller/server/internal/models"
	"soul-teller/server/internal/storage"
)

// SnapshotPrefix prefixes persisted session snapshots in the KV store
const SnapshotPrefix = "session-"

// Generator continues the story from a node
type Generator interface {
	ContinueStory(ctx context.Context, req generator.Request) (*generator.Response, error)
}

// Indexer vectorizes world text and narratives in the background
type Indexer interface {
	IndexWorld(world *models.StoryWorld)
	IndexNode(node *models.StoryNode)
	IndexStoryNode(nodeID, narrative string, plotTwist *bool)
}

// Archiver stores completed sessions
type Archiver interface {
	ArchiveSession(ctx context.Context, archive *models.SessionArchive, choices []models.ChoiceRecord) error
}

// Listener receives a copy of the session after every change. It gets nil
// after a reset.
type Listener func(session *models.InteractionSession)

type subscriber struct {
	id int
	fn Listener
}

// snapshot is what gets persisted under session-{id}
type snapshot struct {
	Session   *models.InteractionSession        `json:"session"`
	NodeCache map[string]*models.NodeCacheEntry `json:"nodeCache"`
}

// StoryEngine manages story sessions
type StoryEngine struct {
	catalog   *catalog.Catalog
	generator Generator
	indexer   Indexer
	kv        storage.KV
	archiver  Archiver
	logger    *slog.Logger

	mu        sync.Mutex
	session   *models.InteractionSession
	nodeCache map[string]*models.NodeCacheEntry
	// epoch changes whenever the session is replaced, ended or reset
	epoch uint64

	subMu       sync.Mutex
	subscribers []subscriber
	nextSubID   int

	inFlight atomic.Bool

	now   func() time.Time
	newID func() string
}

// Option configures a StoryEngine
type Option func(*StoryEngine)

// WithIndexer enables background vectorization
func WithIndexer(idx Indexer) Option {
	return func(e *StoryEngine) { e.indexer = idx }
}

// WithArchiver stores completed sessions
func WithArchiver(a Archiver) Option {
	return func(e *StoryEngine) { e.archiver = a }
}

// WithKV sets the snapshot store. Defaults to an in-memory store.
func WithKV(kv storage.KV) Option {
	return func(e *StoryEngine) { e.kv = kv }
}

// NewStoryEngine creates a new story engine
func NewStoryEngine(cat *catalog.Catalog, gen Generator, logger *slog.Logger, opts ...Option) *StoryEngine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &StoryEngine{
		catalog:   cat,
		generator: gen,
		kv:        storage.NewMemoryKV(),
		logger:    logger.With("component", "story_engine"),
		nodeCache: make(map[string]*models.NodeCacheEntry),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers a listener. Listeners run synchronously in
// subscription order after the engine lock is released.
func (e *StoryEngine) Subscribe(fn Listener) (unsubscribe func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	id := e.nextSubID
	e.nextSubID++
	e.subscribers = append(e.subscribers, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subMu.Lock()
			defer e.subMu.Unlock()
			for i, s := range e.subscribers {
				if s.id == id {
					e.subscribers = append(e.subscribers[:i:i], e.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

func (e *StoryEngine) notify(snap *models.InteractionSession) {
	e.subMu.Lock()
	subs := append([]subscriber(nil), e.subscribers...)
	e.subMu.Unlock()

	for _, s := range subs {
		s.fn(snap.Clone())
	}
}

// StartingNode returns a copy of a storyline's opening node
func (e *StoryEngine) StartingNode(worldID, storylineID string) (*models.StoryNode, error) {
	if _, ok := e.catalog.World(worldID); !ok {
		return nil, &NotFoundError{Kind: "world", ID: worldID}
	}
	node, ok := e.catalog.StartingNode(worldID, storylineID)
	if !ok {
		return nil, &NotFoundError{Kind: "storyline", ID: storylineID}
	}
	return node, nil
}

// StartSession replaces any existing session with a fresh one at the
// storyline's starting node.
func (e *StoryEngine) StartSession(ctx context.Context, worldID, storylineID string) (*models.InteractionSession, error) {
	world, ok := e.catalog.World(worldID)
	if !ok {
		return nil, &NotFoundError{Kind: "world", ID: worldID}
	}
	start, err := e.StartingNode(worldID, storylineID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	session := &models.InteractionSession{
		ID:             e.newID(),
		WorldID:        worldID,
		StorylineID:    storylineID,
		Status:         models.SessionActive,
		CurrentNode:    start,
		History:        []models.SessionHistory{},
		VisitedNodes:   []string{start.ID},
		StartTime:      now,
		LastUpdateTime: now,
	}

	e.mu.Lock()
	e.epoch++
	e.nodeCache = make(map[string]*models.NodeCacheEntry)
	e.session = session
	e.cacheNodeLocked(start, now)
	e.persistLocked(ctx)
	snap := e.session.Clone()
	e.mu.Unlock()

	if e.indexer != nil {
		e.indexer.IndexWorld(world)
		e.indexer.IndexNode(start)
	}

	e.logger.Info("session started", "session_id", session.ID, "world_id", worldID, "storyline_id", storylineID)
	e.notify(snap)
	return snap, nil
}

// HandleChoice consumes a choice on the current node. With autoContinue it
// generates and commits the next node; otherwise it only records history
// and returns nil.
func (e *StoryEngine) HandleChoice(ctx context.Context, choiceID string, autoContinue bool) (*models.StoryNode, error) {
	const op = "handle choice"

	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, invalidState(op, ErrContinuationInFlight)
	}
	defer e.inFlight.Store(false)

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return nil, invalidState(op, ErrNoSession)
	}
	if e.session.Status != models.SessionActive {
		e.mu.Unlock()
		return nil, invalidState(op, ErrSessionNotActive)
	}
	if e.session.CurrentNode == nil {
		e.mu.Unlock()
		return nil, invalidState(op, ErrNoCurrentNode)
	}
	choice, ok := e.session.CurrentNode.FindChoice(choiceID)
	if !ok {
		e.mu.Unlock()
		return nil, invalidState(op, fmt.Errorf("%w: %s", ErrChoiceNotFound, choiceID))
	}

	if !autoContinue {
		e.session.History = append(e.session.History, e.historyEntry(e.session.CurrentNode, choice, ""))
		e.session.LastUpdateTime = e.now()
		e.persistLocked(ctx)
		snap := e.session.Clone()
		e.mu.Unlock()

		e.notify(snap)
		return nil, nil
	}

	epoch := e.epoch
	current := e.session.CurrentNode.Clone()
	worldID := e.session.WorldID
	e.mu.Unlock()

	req := generator.Request{
		CurrentNode: current,
		UserContext: choiceContext(choice),
	}
	if world, ok := e.catalog.World(worldID); ok {
		req.WorldContext = &world.Context
	}

	e.logger.Debug("continuing story", "node_id", current.ID, "choice_id", choiceID)
	result, err := e.generator.ContinueStory(ctx, req)
	if err != nil {
		e.logger.Error("continuation failed", "choice_id", choiceID, "error", err)
		return nil, &ContinuationFailedError{ChoiceID: choiceID, Err: err}
	}

	e.mu.Lock()
	if e.epoch != epoch || e.session == nil {
		e.mu.Unlock()
		e.logger.Warn("discarding continuation for a replaced session", "choice_id", choiceID)
		return nil, invalidState(op, ErrStaleSession)
	}

	node := &models.StoryNode{
		ID:   e.newID(),
		Type: models.NodeBranch,
		Content: models.NodeContent{
			Narrative:   result.Narrative,
			SSMLActions: []models.SSMLAction{{Type: "ka", Action: "Think"}},
		},
		Choices:        models.CloneChoices(result.Choices),
		ParentChoiceID: choiceID,
	}

	now := e.now()
	e.session.History = append(e.session.History, e.historyEntry(e.session.CurrentNode, choice, node.ID))
	e.cacheNodeLocked(node, now)
	e.session.CurrentNode = node
	e.session.MarkVisited(node.ID)
	e.session.LastUpdateTime = now
	e.persistLocked(ctx)
	snap := e.session.Clone()
	e.mu.Unlock()

	if e.indexer != nil {
		twist := true
		e.indexer.IndexStoryNode(node.ID, node.Content.Narrative, &twist)
	}

	e.logger.Info("generated new node", "node_id", node.ID, "choices", len(node.Choices), "fallback", result.Fallback)
	e.notify(snap)
	return node.Clone(), nil
}

func choiceContext(c models.StoryChoice) string {
	s := "用户选择了：" + c.Text + "\n"
	if c.Consequences != "" {
		s += "（后果提示：" + c.Consequences + "）"
	}
	return s
}

func (e *StoryEngine) historyEntry(node *models.StoryNode, c models.StoryChoice, resultingNodeID string) models.SessionHistory {
	return models.SessionHistory{
		NodeID:          node.ID,
		ChoiceID:        c.ID,
		Timestamp:       e.now(),
		Narrative:       node.Content.Narrative,
		SelectedChoice:  c.Text,
		Consequences:    c.Consequences,
		ResultingNodeID: resultingNodeID,
	}
}

// UpdateCurrentNodeChoices replaces the choices of the current node in
// place and returns the updated node. History and visited nodes are left
// alone. A non-empty nodeID must still be the current node, otherwise the
// update is stale and rejected.
func (e *StoryEngine) UpdateCurrentNodeChoices(ctx context.Context, nodeID string, choices []models.StoryChoice) (*models.StoryNode, error) {
	const op = "update choices"

	seen := make(map[string]bool, len(choices))
	for _, c := range choices {
		if strings.TrimSpace(c.ID) == "" || seen[c.ID] {
			return nil, invalidState(op, ErrInvalidChoices)
		}
		seen[c.ID] = true
	}

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return nil, invalidState(op, ErrNoSession)
	}
	current := e.session.CurrentNode
	if current == nil {
		e.mu.Unlock()
		return nil, invalidState(op, ErrNoCurrentNode)
	}
	if nodeID != "" && current.ID != nodeID {
		e.mu.Unlock()
		e.logger.Debug("dropping choices for a replaced node", "node_id", nodeID, "current_node_id", current.ID)
		return nil, invalidState(op, ErrStaleSession)
	}
	current.Choices = models.CloneChoices(choices)
	if entry, ok := e.nodeCache[current.ID]; ok {
		entry.Node.Choices = models.CloneChoices(choices)
	}
	e.session.LastUpdateTime = e.now()
	e.persistLocked(ctx)
	snap := e.session.Clone()
	e.mu.Unlock()

	e.logger.Debug("updated current node choices", "count", len(choices))
	e.notify(snap)
	return snap.CurrentNode, nil
}

// PauseSession moves an active session to paused
func (e *StoryEngine) PauseSession(ctx context.Context) error {
	return e.transition(ctx, "pause session", models.SessionPaused, models.SessionActive)
}

// ResumeSession moves a paused session back to active
func (e *StoryEngine) ResumeSession(ctx context.Context) error {
	return e.transition(ctx, "resume session", models.SessionActive, models.SessionPaused)
}

func (e *StoryEngine) transition(ctx context.Context, op string, to models.SessionStatus, from models.SessionStatus) error {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return invalidState(op, ErrNoSession)
	}
	if e.session.Status != from {
		status := e.session.Status
		e.mu.Unlock()
		return invalidState(op, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, to))
	}
	e.session.Status = to
	e.session.LastUpdateTime = e.now()
	e.persistLocked(ctx)
	snap := e.session.Clone()
	e.mu.Unlock()

	e.logger.Info("session status changed", "session_id", snap.ID, "status", to)
	e.notify(snap)
	return nil
}

// EndSession completes the session, drops its snapshot and archives it
func (e *StoryEngine) EndSession(ctx context.Context) error {
	const op = "end session"

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return invalidState(op, ErrNoSession)
	}
	if e.session.Status == models.SessionCompleted {
		e.mu.Unlock()
		return invalidState(op, fmt.Errorf("%w: already completed", ErrInvalidTransition))
	}
	e.epoch++
	e.session.Status = models.SessionCompleted
	e.session.LastUpdateTime = e.now()
	snap := e.session.Clone()
	if err := e.kv.Del(ctx, SnapshotPrefix+snap.ID); err != nil {
		e.logger.Warn("failed to clear session snapshot", "session_id", snap.ID, "error", err)
	}
	e.mu.Unlock()

	e.archive(ctx, snap)
	e.logger.Info("session ended", "session_id", snap.ID)
	e.notify(snap)
	return nil
}

func (e *StoryEngine) archive(ctx context.Context, s *models.InteractionSession) {
	if e.archiver == nil {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		e.logger.Error("failed to serialize session for archive", "error", err)
		return
	}
	archive, records := models.NewSessionArchive(s, string(data), e.now())
	if err := e.archiver.ArchiveSession(ctx, archive, records); err != nil {
		e.logger.Error("failed to archive session", "session_id", s.ID, "error", err)
	}
}

// ResetSession drops the session and the node cache
func (e *StoryEngine) ResetSession() error {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return invalidState("reset session", ErrNoSession)
	}
	id := e.session.ID
	e.epoch++
	e.session = nil
	e.nodeCache = make(map[string]*models.NodeCacheEntry)
	e.mu.Unlock()

	e.logger.Info("session reset", "session_id", id)
	e.notify(nil)
	return nil
}

// GetSessionStats derives counters from the current session
func (e *StoryEngine) GetSessionStats() (models.SessionStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return models.SessionStats{}, invalidState("session stats", ErrNoSession)
	}
	unique := make(map[string]struct{}, len(e.session.History))
	for _, h := range e.session.History {
		unique[h.ChoiceID] = struct{}{}
	}
	return models.SessionStats{
		TotalNodesVisited: len(e.session.VisitedNodes),
		TotalChoicesMade:  len(e.session.History),
		SessionDuration:   e.now().Sub(e.session.StartTime),
		UniquePaths:       len(unique),
	}, nil
}

// GetStoryPath lists the start node followed by every node produced by a
// choice, in the order the choices were made.
func (e *StoryEngine) GetStoryPath() []models.StoryPathEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.storyPathLocked()
}

func (e *StoryEngine) storyPathLocked() []models.StoryPathEntry {
	path := []models.StoryPathEntry{}
	if e.session == nil {
		return path
	}

	var startID string
	if len(e.session.History) > 0 {
		startID = e.session.History[0].NodeID
	} else if e.session.CurrentNode != nil {
		startID = e.session.CurrentNode.ID
	}
	if entry, ok := e.nodeCache[startID]; ok {
		path = append(path, models.StoryPathEntry{
			NodeID:    entry.Node.ID,
			SceneName: entry.SceneName,
			Narrative: entry.Node.Content.Narrative,
			Timestamp: entry.VisitedAt,
		})
	}

	for _, h := range e.session.History {
		if h.ResultingNodeID == "" {
			continue
		}
		entry, ok := e.nodeCache[h.ResultingNodeID]
		if !ok {
			continue
		}
		path = append(path, models.StoryPathEntry{
			NodeID:    entry.Node.ID,
			SceneName: entry.SceneName,
			Narrative: entry.Node.Content.Narrative,
			SelectedChoice: &models.SelectedChoice{
				Text:         h.SelectedChoice,
				Consequences: h.Consequences,
			},
			Timestamp: h.Timestamp,
		})
	}
	return path
}

// CurrentSession returns a copy of the session, or nil
func (e *StoryEngine) CurrentSession() *models.InteractionSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone()
}

// VisitedNodes returns the visited node ids of the current session
func (e *StoryEngine) VisitedNodes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil
	}
	return append([]string(nil), e.session.VisitedNodes...)
}

// NodeCache returns a copy of the node cache
func (e *StoryEngine) NodeCache() map[string]models.NodeCacheEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nodeCacheLocked()
}

// Snapshot is the session, its story path and the node cache read together
type Snapshot struct {
	Session   *models.InteractionSession
	StoryPath []models.StoryPathEntry
	NodeCache map[string]models.NodeCacheEntry
}

// Snapshot copies the session, path and cache under one lock so the three
// agree with each other. Session is nil when there is none.
func (e *StoryEngine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Session:   e.session.Clone(),
		StoryPath: e.storyPathLocked(),
		NodeCache: e.nodeCacheLocked(),
	}
}

func (e *StoryEngine) nodeCacheLocked() map[string]models.NodeCacheEntry {
	out := make(map[string]models.NodeCacheEntry, len(e.nodeCache))
	for id, entry := range e.nodeCache {
		out[id] = models.NodeCacheEntry{
			Node:      entry.Node.Clone(),
			VisitedAt: entry.VisitedAt,
			SceneName: entry.SceneName,
		}
	}
	return out
}

// SaveSession persists the current session snapshot
func (e *StoryEngine) SaveSession(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return invalidState("save session", ErrNoSession)
	}
	return e.saveLocked(ctx)
}

// LoadSession replaces the current session with a persisted snapshot
func (e *StoryEngine) LoadSession(ctx context.Context, sessionID string) (*models.InteractionSession, error) {
	raw, err := e.kv.Get(ctx, SnapshotPrefix+sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &NotFoundError{Kind: "session", ID: sessionID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session snapshot: %w", err)
	}

	var snapData snapshot
	if err := json.Unmarshal([]byte(raw), &snapData); err != nil {
		return nil, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	if snapData.Session == nil {
		return nil, &NotFoundError{Kind: "session", ID: sessionID}
	}
	if snapData.NodeCache == nil {
		snapData.NodeCache = make(map[string]*models.NodeCacheEntry)
	}

	e.mu.Lock()
	e.epoch++
	e.session = snapData.Session
	e.nodeCache = snapData.NodeCache
	snap := e.session.Clone()
	e.mu.Unlock()

	e.logger.Info("session loaded", "session_id", sessionID)
	e.notify(snap)
	return snap, nil
}

// ClearOldSessions deletes every persisted snapshot
func (e *StoryEngine) ClearOldSessions(ctx context.Context) (int, error) {
	keys, err := e.kv.Keys(ctx, SnapshotPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list session snapshots: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := e.kv.Del(ctx, keys...); err != nil {
		return 0, fmt.Errorf("failed to delete session snapshots: %w", err)
	}
	e.logger.Info("cleared old sessions", "count", len(keys))
	return len(keys), nil
}

func (e *StoryEngine) cacheNodeLocked(node *models.StoryNode, at time.Time) {
	e.nodeCache[node.ID] = &models.NodeCacheEntry{
		Node:      node.Clone(),
		VisitedAt: at,
		SceneName: e.catalog.SceneName(e.session.WorldID, node.Content.SceneID),
	}
}

// persistLocked saves the snapshot and logs failures; snapshots are best
// effort and never fail the operation.
func (e *StoryEngine) persistLocked(ctx context.Context) {
	if err := e.saveLocked(ctx); err != nil {
		e.logger.Warn("failed to persist session snapshot", "error", err)
	}
}

func (e *StoryEngine) saveLocked(ctx context.Context) error {
	data, err := json.Marshal(snapshot{Session: e.session, NodeCache: e.nodeCache})
	if err != nil {
		return fmt.Errorf("failed to encode session snapshot: %w", err)
	}
	if err := e.kv.Set(ctx, SnapshotPrefix+e.session.ID, string(data)); err != nil {
		return fmt.Errorf("failed to write session snapshot: %w", err)
	}
	return nil
}
