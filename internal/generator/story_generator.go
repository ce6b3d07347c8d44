// Package generator turns the current story node into the next beat by
// prompting the chat model with retrieved context. Every entry point has a
// deterministic local fallback so a dead model never stalls the story.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"soul-teller/server/internal/llm"
	"soul-teller/server/internal/models"
	"soul-teller/server/internal/prompts"
	"soul-teller/server/internal/rag"
)

const (
	continueTemperature = 0.9
	choicesTemperature  = 0.8
	openingTemperature  = 0.8
	maxChoices          = 3
)

// ContextSource supplies retrieval context
type ContextSource interface {
	GetContextForGeneration(ctx context.Context, current string, recentCount, relevantCount int) rag.GenerationContext
	GetRelevantContext(ctx context.Context, query string, max int) ([]string, error)
}

// NodeIndexer receives generated narratives for the recent history and
// plot twist memory.
type NodeIndexer interface {
	IndexStoryNode(nodeID, narrative string, plotTwist *bool)
}

// Request is a continuation request
type Request struct {
	CurrentNode  *models.StoryNode
	UserContext  string
	WorldContext *models.WorldContext
}

// Response is the next beat. Fallback is set when it came from the local
// fallback rather than the model.
type Response struct {
	Narrative string               `json:"narrative"`
	Choices   []models.StoryChoice `json:"choices"`
	Fallback  bool                 `json:"fallback,omitempty"`
}

// Options tunes the generator
type Options struct {
	Model         string
	RecentCount   int
	RelevantCount int
}

// StoryGenerator builds prompts and parses model output
type StoryGenerator struct {
	chat      llm.ChatCompleter
	templates *prompts.TemplateEngine
	context   ContextSource
	indexer   NodeIndexer
	opts      Options
	logger    *slog.Logger

	newID func() string
	now   func() time.Time
}

// NewStoryGenerator creates a generator. indexer may be nil.
func NewStoryGenerator(chat llm.ChatCompleter, templates *prompts.TemplateEngine, source ContextSource, indexer NodeIndexer, opts Options, logger *slog.Logger) *StoryGenerator {
	if templates == nil {
		templates = prompts.NewDefaultEngine()
	}
	if opts.RecentCount <= 0 {
		opts.RecentCount = 3
	}
	if opts.RelevantCount <= 0 {
		opts.RelevantCount = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StoryGenerator{
		chat:      chat,
		templates: templates,
		context:   source,
		indexer:   indexer,
		opts:      opts,
		logger:    logger.With("component", "story_generator"),
		newID:     func() string { return uuid.NewString() },
		now:       time.Now,
	}
}

// ContinueStory asks the model for the next narrative and three choices.
// Model or parse failures produce the fallback response, never an error.
func (g *StoryGenerator) ContinueStory(ctx context.Context, req Request) (*Response, error) {
	if req.CurrentNode == nil {
		return nil, errors.New("generator: current node is required")
	}
	resp := g.continueStory(ctx, req)
	if !resp.Fallback && g.indexer != nil {
		g.indexer.IndexStoryNode(fmt.Sprintf("gen-%d", g.now().UnixMilli()), resp.Narrative, nil)
	}
	return resp, nil
}

func (g *StoryGenerator) continueStory(ctx context.Context, req Request) *Response {
	node := req.CurrentNode
	g.logger.Debug("continuing story",
		"node_id", node.ID,
		"has_user_context", req.UserContext != "",
		"has_world_context", req.WorldContext != nil)

	var gc rag.GenerationContext
	if g.context != nil {
		gc = g.context.GetContextForGeneration(ctx, node.Content.Narrative, g.opts.RecentCount, g.opts.RelevantCount)
	}

	resp, err := g.chat.Chat(ctx, &llm.ChatRequest{
		Model: g.opts.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: g.systemPrompt(req.WorldContext)},
			{Role: llm.RoleUser, Content: g.userPrompt(node, req.UserContext, gc)},
		},
		Temperature: continueTemperature,
		JSONMode:    true,
	})
	if err != nil {
		g.logger.Warn("continuation failed, using fallback", "error", err)
		return g.fallbackResponse(req.UserContext)
	}

	var parsed struct {
		Narrative string          `json:"narrative"`
		Choices   json.RawMessage `json:"choices"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed); err != nil {
		g.logger.Warn("continuation returned invalid JSON, using fallback", "error", err)
		return g.fallbackResponse(req.UserContext)
	}

	narrative := strings.TrimSpace(parsed.Narrative)
	if narrative == "" {
		narrative = g.fallbackNarrative(req.UserContext)
	}
	choices, ok := g.parseChoices(parsed.Choices, maxChoices)
	if !ok {
		g.logger.Warn("choices is not an array, using fallback choices")
		choices = g.fallbackChoices(maxChoices)
	}

	g.logger.Debug("story continued", "narrative_len", len([]rune(narrative)), "choices", len(choices))
	return &Response{Narrative: narrative, Choices: choices}
}

// InfluenceChoices revises the choices of node after a side conversation.
// The node's narrative is kept whatever the model returns. When the model
// is unavailable the node's own choices are returned.
func (g *StoryGenerator) InfluenceChoices(ctx context.Context, node *models.StoryNode, userDialogue, aiResponse string) (*Response, error) {
	if node == nil {
		return nil, errors.New("generator: current node is required")
	}

	userContext := fmt.Sprintf("用户说：%s\n\nAI回应：%s\n\n请根据以上对话调整分支选项，但不要续写新的剧情内容（保持当前剧情不变）。", userDialogue, aiResponse)
	resp := g.continueStory(ctx, Request{CurrentNode: node, UserContext: userContext})

	out := &Response{Narrative: node.Content.Narrative, Choices: resp.Choices, Fallback: resp.Fallback}
	if resp.Fallback {
		out.Choices = models.CloneChoices(node.Choices)
	}
	return out, nil
}

// GenerateChoices asks for n choices without continuing the narrative
func (g *StoryGenerator) GenerateChoices(ctx context.Context, node *models.StoryNode, userContext string, n int) []models.StoryChoice {
	if n <= 0 {
		n = maxChoices
	}

	var related string
	if g.context != nil {
		texts, err := g.context.GetRelevantContext(ctx, node.Content.Narrative, 2)
		if err != nil {
			g.logger.Warn("relevant context unavailable", "error", err)
		}
		if len(texts) > 0 {
			related = "\n\n相关背景信息：\n" + strings.Join(texts, "\n")
		}
	}
	var expectation string
	if userContext != "" {
		expectation = "用户期望：" + userContext + "\n"
	}

	num := strconv.Itoa(n)
	resp, err := g.chat.Chat(ctx, &llm.ChatRequest{
		Model: g.opts.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: g.templates.MustRender(prompts.ChoicesSystem, prompts.Vars{"num_choices": num})},
			{Role: llm.RoleUser, Content: g.templates.MustRender(prompts.ChoicesUser, prompts.Vars{
				"narrative":   node.Content.Narrative,
				"related":     related,
				"expectation": expectation,
				"num_choices": num,
			})},
		},
		Temperature: choicesTemperature,
		JSONMode:    true,
	})
	if err != nil {
		g.logger.Warn("choice generation failed, using fallback", "error", err)
		return g.fallbackChoices(n)
	}

	// accept {"choices":[...]} or a bare array
	raw := json.RawMessage(extractJSON(resp.Content))
	var wrapped struct {
		Choices json.RawMessage `json:"choices"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Choices) > 0 {
		raw = wrapped.Choices
	}
	choices, ok := g.parseChoices(raw, n)
	if !ok {
		g.logger.Warn("choice generation returned no array, using fallback")
		return g.fallbackChoices(n)
	}
	return choices
}

// GenerateOpening writes an opening narration for the world. Without a model
// it falls back to the storyline's starting narrative, or a generic opening.
func (g *StoryGenerator) GenerateOpening(ctx context.Context, world *models.StoryWorld, storyline *models.Storyline) string {
	vars := prompts.WorldVars(&world.Context)

	resp, err := g.chat.Chat(ctx, &llm.ChatRequest{
		Model: g.opts.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: g.templates.MustRender(prompts.OpeningSystem, nil)},
			{Role: llm.RoleUser, Content: g.templates.MustRender(prompts.OpeningUser, vars)},
		},
		Temperature: openingTemperature,
	})
	if err == nil {
		if text := strings.TrimSpace(resp.Content); text != "" {
			return text
		}
	} else {
		g.logger.Warn("opening generation failed, using fallback", "error", err)
	}

	if storyline != nil && storyline.StartingNode.Content.Narrative != "" {
		return storyline.StartingNode.Content.Narrative
	}
	intro, _, _ := strings.Cut(world.Context.Worldview, "。")
	return g.templates.MustRender(prompts.OpeningFallback, prompts.Vars{
		"world_intro": intro,
		"atmosphere":  world.Context.Atmosphere,
	})
}

func (g *StoryGenerator) systemPrompt(wc *models.WorldContext) string {
	base := g.templates.MustRender(prompts.StorySystem, nil)
	if wc == nil {
		return base
	}
	return base + "\n\n" + g.templates.MustRender(prompts.WorldContext, prompts.WorldVars(wc))
}

func (g *StoryGenerator) userPrompt(node *models.StoryNode, userContext string, gc rag.GenerationContext) string {
	var sb strings.Builder

	if gc.Summary != "" {
		sb.WriteString("## 故事上下文\n\n")
		sb.WriteString(gc.Summary)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## 当前剧情\n\n")
	sb.WriteString(node.Content.Narrative)
	sb.WriteString("\n\n")

	if len(node.Choices) > 0 {
		sb.WriteString("## 当前可用的行动选项\n\n")
		for i, c := range node.Choices {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, c.Text)
			if c.Consequences != "" {
				fmt.Fprintf(&sb, "   （后果：%s）\n", c.Consequences)
			}
		}
		sb.WriteString("\n")
	}

	if userContext != "" {
		sb.WriteString("## 用户想法/对话\n\n")
		sb.WriteString(userContext)
		sb.WriteString("\n\n")
		sb.WriteString("请根据用户的想法调整续写内容和分支选项，使其符合用户的意图。\n\n")
	}

	sb.WriteString("## 任务\n\n请续写故事并提供3个分支选项。")
	return sb.String()
}

type generatedChoice struct {
	Text         string `json:"text"`
	Consequences string `json:"consequences"`
}

// parseChoices reports false when raw is not a JSON array of choices
func (g *StoryGenerator) parseChoices(raw json.RawMessage, limit int) ([]models.StoryChoice, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}
	var items []generatedChoice
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return nil, false
	}
	if len(items) > limit {
		items = items[:limit]
	}

	choices := make([]models.StoryChoice, len(items))
	for i, item := range items {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			text = fmt.Sprintf("选项 %d", i+1)
		}
		choices[i] = models.StoryChoice{
			ID:            "choice-" + g.newID(),
			Text:          text,
			Consequences:  item.Consequences,
			IsAIGenerated: true,
		}
	}
	return choices, true
}

func (g *StoryGenerator) fallbackResponse(userContext string) *Response {
	return &Response{
		Narrative: g.fallbackNarrative(userContext),
		Choices:   g.fallbackChoices(maxChoices),
		Fallback:  true,
	}
}

func (g *StoryGenerator) fallbackNarrative(userContext string) string {
	if userContext != "" {
		return g.templates.MustRender(prompts.FallbackWithUser, prompts.Vars{"user_context": userContext})
	}
	return g.templates.MustRender(prompts.FallbackDefault, nil)
}

var fallbackChoiceSeeds = []generatedChoice{
	{Text: "继续探索当前场景", Consequences: "可能会有新的发现"},
	{Text: "仔细观察周围环境", Consequences: "可能发现隐藏的线索"},
	{Text: "与附近的角色交流", Consequences: "可能获得重要信息"},
}

func (g *StoryGenerator) fallbackChoices(n int) []models.StoryChoice {
	if n > len(fallbackChoiceSeeds) {
		n = len(fallbackChoiceSeeds)
	}
	batch := g.newID()
	out := make([]models.StoryChoice, n)
	for i := 0; i < n; i++ {
		out[i] = models.StoryChoice{
			ID:           fmt.Sprintf("choice-fallback-%s-%d", batch, i),
			Text:         fallbackChoiceSeeds[i].Text,
			Consequences: fallbackChoiceSeeds[i].Consequences,
		}
	}
	return out
}

// extractJSON strips a markdown code fence around a JSON payload
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
