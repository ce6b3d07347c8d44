// Package dialogue produces the storyteller's in-character replies to free
// text from the player.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"soul-teller/server/internal/avatar"
	"soul-teller/server/internal/emotion"
	"soul-teller/server/internal/llm"
	"soul-teller/server/internal/memory"
	"soul-teller/server/internal/models"
	"soul-teller/server/internal/prompts"
)

const (
	FallbackReply = "我明白了。让我们继续故事吧。"
	// NoMemoryReply is used when no character memory is initialized
	NoMemoryReply = "我明白了。"

	replyTemperature = 0.8
	replyMaxTokens   = 200
	streamMaxTokens  = 150
)

var quickReplies = map[string]string{
	"快乐": "太好了！看来你做出了一个很棒的选择！",
	"悲伤": "别担心，故事中的困难总会过去的。我们一起面对。",
	"惊讶": "哦？这确实是一个意想不到的转折！",
	"平静": "我明白了。让我们继续这个故事的旅程吧。",
}

// AvatarState is the idle animation the avatar should switch to after a reply
type AvatarState string

const (
	AvatarListen AvatarState = "listen"
	AvatarThink  AvatarState = "think"
)

// Context is the scene the player is talking about
type Context struct {
	NodeContent string
	Choices     []string
}

// Response is a finished reply
type Response struct {
	Content  string                  `json:"content"`
	SSML     string                  `json:"ssml"`
	Action   *avatar.Action          `json:"action,omitempty"`
	Strategy models.ResponseStrategy `json:"strategy"`
	// NewState is empty when the avatar keeps its current state
	NewState AvatarState `json:"newState,omitempty"`
}

// LLM is the chat surface dialogue needs
type LLM interface {
	llm.ChatCompleter
	llm.StreamCompleter
}

// EmotionAnalyzer classifies player input
type EmotionAnalyzer interface {
	Analyze(ctx context.Context, input string) models.EmotionAnalysis
}

type Service struct {
	llm       LLM
	analyzer  EmotionAnalyzer
	memory    *memory.Manager
	templates *prompts.TemplateEngine
	model     string
	logger    *slog.Logger
}

func NewService(client LLM, analyzer EmotionAnalyzer, mem *memory.Manager, templates *prompts.TemplateEngine, model string, logger *slog.Logger) *Service {
	if templates == nil {
		templates = prompts.NewDefaultEngine()
	}
	return &Service{
		llm:       client,
		analyzer:  analyzer,
		memory:    mem,
		templates: templates,
		model:     model,
		logger:    logger.With("component", "dialogue"),
	}
}

// Respond analyzes the input, updates memory and asks the model for a reply.
// Model failures produce FallbackReply rather than an error.
func (s *Service) Respond(ctx context.Context, input string, dctx *Context) *Response {
	e := s.analyzer.Analyze(ctx, input)
	s.logger.Debug("user emotion", "primary", e.Primary, "sentiment", e.Sentiment)

	s.remember(ctx, models.RoleUser, input, e.Primary)
	if err := s.memory.UpdateFromEmotion(ctx, e); err != nil && !errors.Is(err, memory.ErrNotInitialized) {
		s.logger.Warn("failed to update memory from emotion", "error", err)
	}

	strategy := s.memory.GenerateResponseStrategy(&e)

	content, err := s.reply(ctx, input, e, strategy, dctx)
	if err != nil {
		s.logger.Error("dialogue reply failed", "error", err)
		return &Response{
			Content:  FallbackReply,
			SSML:     avatar.BuildSSML(FallbackReply, nil),
			Strategy: models.ResponseStrategy{Action: models.ActionSpeak, ResponseStyle: models.StyleConversational},
		}
	}

	resp := &Response{Content: content, Strategy: strategy}
	semantic := strategy.SSMLAction
	if semantic == "" {
		semantic = emotion.SelectActionForEmotion(e)
	}
	if semantic != "" {
		resp.Action = &avatar.Action{Type: avatar.ActionKA, Semantic: semantic}
	}
	resp.SSML = avatar.BuildSSML(content, resp.Action)

	switch strategy.Action {
	case models.ActionListenMore:
		resp.NewState = AvatarListen
	case models.ActionThinkFirst:
		resp.NewState = AvatarThink
	}

	s.remember(ctx, models.RoleAssistant, content, "")
	return resp
}

func (s *Service) reply(ctx context.Context, input string, e models.EmotionAnalysis, strategy models.ResponseStrategy, dctx *Context) (string, error) {
	mem := s.memory.Memory()
	if mem == nil {
		return NoMemoryReply, nil
	}

	user := s.templates.MustRender(prompts.DialogueUser, prompts.Vars{
		"input":      input,
		"emotion":    e.Primary,
		"sentiment":  string(e.Sentiment),
		"confidence": strconv.FormatFloat(e.Confidence, 'f', -1, 64),
		"character":  mem.CharacterName,
		"style":      string(strategy.ResponseStyle),
		"intent":     intent(strategy.Action),
	})

	resp, err := s.llm.Chat(ctx, &llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: s.systemPrompt(strategy, dctx)},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: replyTemperature,
		MaxTokens:   replyMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("dialogue completion: %w", err)
	}
	if content := strings.TrimSpace(resp.Content); content != "" {
		return content, nil
	}
	return NoMemoryReply, nil
}

// RespondStream streams the reply through onDelta and returns the full text.
// The reply is recorded in memory only when the stream completes.
func (s *Service) RespondStream(ctx context.Context, input string, dctx *Context, onDelta func(string) error) (string, error) {
	e := s.analyzer.Analyze(ctx, input)
	strategy := s.memory.GenerateResponseStrategy(&e)

	mem := s.memory.Memory()
	if mem == nil {
		if onDelta != nil {
			if err := onDelta(NoMemoryReply); err != nil {
				return "", err
			}
		}
		return NoMemoryReply, nil
	}
	s.remember(ctx, models.RoleUser, input, e.Primary)

	user := s.templates.MustRender(prompts.DialogueStream, prompts.Vars{
		"input":     input,
		"emotion":   e.Primary,
		"sentiment": string(e.Sentiment),
		"character": mem.CharacterName,
		"style":     string(strategy.ResponseStyle),
	})

	full, err := s.llm.ChatStream(ctx, &llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: s.systemPrompt(strategy, dctx)},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: replyTemperature,
		MaxTokens:   streamMaxTokens,
	}, onDelta)
	if err != nil {
		return full, fmt.Errorf("dialogue stream: %w", err)
	}

	s.remember(ctx, models.RoleAssistant, full, "")
	return full, nil
}

// QuickResponse answers from keywords alone, without the model
func QuickResponse(input string) *Response {
	e := emotion.QuickDetect(input)
	content, ok := quickReplies[e.Primary]
	if !ok {
		content = quickReplies["平静"]
	}
	return &Response{
		Content:  content,
		SSML:     avatar.BuildSSML(content, nil),
		Strategy: models.ResponseStrategy{Action: models.ActionSpeak, ResponseStyle: models.StyleConversational},
	}
}

func (s *Service) systemPrompt(strategy models.ResponseStrategy, dctx *Context) string {
	prompt := s.templates.MustRender(prompts.DialogueSystem, prompts.Vars{
		"style":  string(strategy.ResponseStyle),
		"action": string(strategy.Action),
	})

	if dctx != nil && dctx.NodeContent != "" {
		var choices string
		if len(dctx.Choices) > 0 {
			lines := make([]string, len(dctx.Choices))
			for i, c := range dctx.Choices {
				lines[i] = fmt.Sprintf("%d. %s", i+1, c)
			}
			choices = "\n\n## 当前可用的行动选项\n" + strings.Join(lines, "\n")
		}
		prompt += "\n\n" + s.templates.MustRender(prompts.DialogueScene, prompts.Vars{
			"scene":   dctx.NodeContent,
			"choices": choices,
		})
	}

	if mp := s.memory.GenerateMemoryPrompt(); mp != "" {
		prompt += "\n\n" + mp
	}
	return prompt
}

func (s *Service) remember(ctx context.Context, role models.Role, content, emo string) {
	err := s.memory.RecordMessage(ctx, role, content, emo)
	if err != nil && !errors.Is(err, memory.ErrNotInitialized) {
		s.logger.Warn("failed to record message", "role", role, "error", err)
	}
}

func intent(a models.StrategyAction) string {
	switch a {
	case models.ActionComfort:
		return "安慰"
	case models.ActionCelebrate:
		return "庆祝并认同"
	}
	return "回应"
}
