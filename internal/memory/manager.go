// Package memory keeps the storyteller character's persona state: mood and
// scalar stats, remembered choices, dialogue and key memories. The whole blob
// is persisted to the KV store after every mutation.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"soul-teller/server/internal/models"
	"soul-teller/server/internal/storage"
)

// StorageKey is the KV key of the persisted memory blob
const StorageKey = "soul-teller-character-memory"

const (
	maxDialogueHistory = 50
	maxKeyMemories     = 20
	choicesInSummary   = 5
)

// ErrNotInitialized is returned by mutations before Initialize
var ErrNotInitialized = errors.New("memory: not initialized")

// VisitedNodesSource exposes the session's visited node set
type VisitedNodesSource interface {
	VisitedNodes() []string
}

// Manager owns the character memory of the current session
type Manager struct {
	kv      storage.KV
	rules   []ChoiceRule
	visited VisitedNodesSource
	logger  *slog.Logger

	mu     sync.Mutex
	memory *models.CharacterMemory

	now func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithChoiceRules replaces the default choice rules
func WithChoiceRules(rules []ChoiceRule) Option {
	return func(m *Manager) { m.rules = rules }
}

// WithVisitedNodes sets where VisitedNodes reads from
func WithVisitedNodes(src VisitedNodesSource) Option {
	return func(m *Manager) { m.visited = src }
}

func NewManager(kv storage.KV, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		kv:     kv,
		rules:  DefaultChoiceRules(),
		logger: logger.With("component", "memory"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize loads the stored memory when it belongs to sessionID, otherwise
// starts a fresh one and persists it.
func (m *Manager) Initialize(ctx context.Context, sessionID, characterName, persona, worldID, storylineID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if saved, err := m.load(ctx); err != nil {
		m.logger.Warn("failed to load saved memory", "error", err)
	} else if saved != nil && saved.SessionID == sessionID {
		m.memory = saved
		m.logger.Info("loaded existing memory", "session_id", sessionID)
		return nil
	}

	m.memory = &models.CharacterMemory{
		SessionID:        sessionID,
		CharacterName:    characterName,
		CharacterPersona: persona,
		State: models.CharacterState{
			Mood:       models.MoodCalm,
			Energy:     100,
			Trust:      50,
			Engagement: 50,
		},
		Context: models.ContextMemory{
			CurrentWorldID:     worldID,
			CurrentStorylineID: storylineID,
		},
		Choices:         []models.UserChoice{},
		DialogueHistory: []models.DialogueMessage{},
		KeyMemories:     []string{},
		LastUpdate:      m.now(),
	}
	m.logger.Info("created new memory", "session_id", sessionID, "character", characterName)
	return m.save(ctx)
}

// UpdateState merges a partial state update
func (m *Manager) UpdateState(ctx context.Context, patch models.StatePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.memory == nil {
		return ErrNotInitialized
	}
	m.applyPatch(patch)
	return m.save(ctx)
}

// RecordChoice remembers a choice and applies the first matching rule
func (m *Manager) RecordChoice(ctx context.Context, nodeID, choiceID, choiceText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.memory == nil {
		return ErrNotInitialized
	}
	m.memory.Choices = append(m.memory.Choices, models.UserChoice{
		NodeID:     nodeID,
		ChoiceID:   choiceID,
		ChoiceText: choiceText,
		Timestamp:  m.now(),
	})
	m.memory.Context.TotalChoices++

	if rule, ok := matchRule(m.rules, choiceText); ok {
		m.logger.Debug("choice rule matched", "rule", rule.Name, "choice", choiceText)
		m.applyPatch(rule.patch(m.memory.State))
	}
	m.memory.LastUpdate = m.now()
	return m.save(ctx)
}

// RecordMessage appends to the dialogue history, keeping the newest 50
func (m *Manager) RecordMessage(ctx context.Context, role models.Role, content, emotion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.memory == nil {
		return ErrNotInitialized
	}
	m.memory.DialogueHistory = append(m.memory.DialogueHistory, models.DialogueMessage{
		Role:      role,
		Content:   content,
		Timestamp: m.now(),
		Emotion:   emotion,
	})
	if n := len(m.memory.DialogueHistory); n > maxDialogueHistory {
		m.memory.DialogueHistory = append([]models.DialogueMessage(nil), m.memory.DialogueHistory[n-maxDialogueHistory:]...)
	}
	if role == models.RoleUser || role == models.RoleAssistant {
		m.memory.Context.TotalInteractions++
	}
	m.memory.LastUpdate = m.now()
	return m.save(ctx)
}

func (m *Manager) UpdateCurrentNode(ctx context.Context, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.memory == nil {
		return ErrNotInitialized
	}
	m.memory.Context.CurrentNodeID = nodeID
	m.memory.LastUpdate = m.now()
	return m.save(ctx)
}

// AddKeyMemory appends a key memory, keeping the newest 20
func (m *Manager) AddKeyMemory(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.memory == nil {
		return ErrNotInitialized
	}
	m.memory.KeyMemories = append(m.memory.KeyMemories, text)
	if n := len(m.memory.KeyMemories); n > maxKeyMemories {
		m.memory.KeyMemories = append([]string(nil), m.memory.KeyMemories[n-maxKeyMemories:]...)
	}
	m.memory.LastUpdate = m.now()
	return m.save(ctx)
}

// UpdateFromEmotion nudges the state toward the user's sentiment
func (m *Manager) UpdateFromEmotion(ctx context.Context, e models.EmotionAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.memory == nil {
		return ErrNotInitialized
	}
	st := m.memory.State
	switch e.Sentiment {
	case models.SentimentPositive:
		m.applyPatch(models.StatePatch{
			Mood:   moodPtr(models.MoodHappy),
			Energy: intPtr(st.Energy + 5),
			Trust:  intPtr(st.Trust + 3),
		})
	case models.SentimentNegative:
		m.applyPatch(models.StatePatch{
			Mood:   moodPtr(models.MoodWorried),
			Energy: intPtr(st.Energy - 10),
		})
	default:
		return nil
	}
	m.memory.LastUpdate = m.now()
	return m.save(ctx)
}

// GenerateResponseStrategy picks how the character should answer. The
// checks run in order and the first hit wins.
func (m *Manager) GenerateResponseStrategy(e *models.EmotionAnalysis) models.ResponseStrategy {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.memory == nil {
		return models.ResponseStrategy{Action: models.ActionSpeak, ResponseStyle: models.StyleNarrative}
	}

	st := m.memory.State
	switch {
	case st.Energy < 30:
		return models.ResponseStrategy{Action: models.ActionSpeak, ResponseStyle: models.StyleConversational, Emotion: models.MoodCalm}
	case st.Trust > 70:
		return models.ResponseStrategy{Action: models.ActionSpeak, ResponseStyle: models.StyleDramatic, Emotion: models.MoodExcited}
	case e != nil && e.Sentiment == models.SentimentPositive:
		return models.ResponseStrategy{Action: models.ActionCelebrate, ResponseStyle: models.StyleConversational, Emotion: models.MoodHappy, SSMLAction: "Celebrate"}
	case e != nil && e.Sentiment == models.SentimentNegative:
		return models.ResponseStrategy{Action: models.ActionComfort, ResponseStyle: models.StyleConversational, Emotion: models.MoodCalm, SSMLAction: "Comfort"}
	}
	return models.ResponseStrategy{Action: models.ActionSpeak, ResponseStyle: models.StyleNarrative}
}

// GetDialogueSummary renders the last max messages for a prompt
func (m *Manager) GetDialogueSummary(max int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dialogueSummary(max)
}

func (m *Manager) dialogueSummary(max int) string {
	if m.memory == nil || len(m.memory.DialogueHistory) == 0 {
		return "这是我们第一次对话。"
	}
	if max <= 0 {
		max = 10
	}

	recent := m.memory.DialogueHistory
	if len(recent) > max {
		recent = recent[len(recent)-max:]
	}
	lines := make([]string, len(recent))
	for i, msg := range recent {
		speaker := m.memory.CharacterName
		if msg.Role == models.RoleUser {
			speaker = "你"
		}
		if msg.Emotion != "" {
			speaker += " (" + msg.Emotion + ")"
		}
		lines[i] = speaker + ": " + msg.Content
	}
	return strings.Join(lines, "\n")
}

// GetChoicesSummary lists the last five choices
func (m *Manager) GetChoicesSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.choicesSummary()
}

func (m *Manager) choicesSummary() string {
	if m.memory == nil || len(m.memory.Choices) == 0 {
		return ""
	}
	recent := m.memory.Choices
	if len(recent) > choicesInSummary {
		recent = recent[len(recent)-choicesInSummary:]
	}
	lines := make([]string, len(recent))
	for i, c := range recent {
		lines[i] = fmt.Sprintf("%d. %s", i+1, c.ChoiceText)
	}
	return strings.Join(lines, "\n")
}

// GenerateMemoryPrompt renders persona, state and recent history as a
// system prompt section.
func (m *Manager) GenerateMemoryPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.memory == nil {
		return ""
	}
	mem := m.memory
	parts := []string{
		"## 你是" + mem.CharacterName,
		"人设: " + mem.CharacterPersona,
		"\n## 当前状态",
		fmt.Sprintf("心情: %s", mem.State.Mood),
		fmt.Sprintf("能量: %d/100", mem.State.Energy),
		fmt.Sprintf("信任度: %d/100", mem.State.Trust),
		fmt.Sprintf("参与度: %d/100", mem.State.Engagement),
	}
	if len(mem.DialogueHistory) > 0 {
		parts = append(parts, "\n## 最近对话", m.dialogueSummary(5))
	}
	if len(mem.Choices) > 0 {
		parts = append(parts, "\n## 用户最近的选择", m.choicesSummary())
	}
	if n := len(mem.KeyMemories); n > 0 {
		keys := mem.KeyMemories
		if n > 5 {
			keys = keys[n-5:]
		}
		parts = append(parts, "\n## 重要记忆", strings.Join(keys, "\n"))
	}
	return strings.Join(parts, "\n")
}

// Clear drops the memory and its persisted blob
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.memory = nil
	if err := m.kv.Del(ctx, StorageKey); err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	m.logger.Info("memory cleared")
	return nil
}

// Memory returns a copy of the current memory, or nil
func (m *Manager) Memory() *models.CharacterMemory {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.memory == nil {
		return nil
	}
	out := *m.memory
	out.Choices = append([]models.UserChoice(nil), m.memory.Choices...)
	out.DialogueHistory = append([]models.DialogueMessage(nil), m.memory.DialogueHistory...)
	out.KeyMemories = append([]string(nil), m.memory.KeyMemories...)
	return &out
}

// State returns the character state; ok is false before Initialize
func (m *Manager) State() (models.CharacterState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.memory == nil {
		return models.CharacterState{}, false
	}
	return m.memory.State, true
}

// VisitedNodes reads the visited set from the session
func (m *Manager) VisitedNodes() []string {
	if m.visited == nil {
		return nil
	}
	return m.visited.VisitedNodes()
}

func (m *Manager) applyPatch(p models.StatePatch) {
	st := &m.memory.State
	if p.Mood != nil {
		st.Mood = *p.Mood
	}
	if p.Energy != nil {
		st.Energy = clamp(*p.Energy)
	}
	if p.Trust != nil {
		st.Trust = clamp(*p.Trust)
	}
	if p.Engagement != nil {
		st.Engagement = clamp(*p.Engagement)
	}
	m.memory.LastUpdate = m.now()
}

func (m *Manager) load(ctx context.Context) (*models.CharacterMemory, error) {
	raw, err := m.kv.Get(ctx, StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var mem models.CharacterMemory
	if err := json.Unmarshal([]byte(raw), &mem); err != nil {
		return nil, fmt.Errorf("failed to decode memory: %w", err)
	}
	return &mem, nil
}

func (m *Manager) save(ctx context.Context) error {
	data, err := json.Marshal(m.memory)
	if err != nil {
		return fmt.Errorf("failed to encode memory: %w", err)
	}
	if err := m.kv.Set(ctx, StorageKey, string(data)); err != nil {
		return fmt.Errorf("failed to persist memory: %w", err)
	}
	return nil
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func intPtr(v int) *int { return &v }
func moodPtr(v models.Mood) *models.Mood { return &v }
