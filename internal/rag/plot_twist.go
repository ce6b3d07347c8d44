package rag

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"soul-teller/server/internal/llm"
)

const plotTwistSystemPrompt = `你是一个故事分析师。判断以下剧情是否是重要转折点。

判断标准：
- 出现重要冲突或危机
- 情节发生重大变化
- 新角色或重要信息揭示
- 情绪明显转变
- 故事方向改变

返回格式（纯JSON，不要其他文字）：
{
  "isTwist": true/false,
  "reason": "原因简述"
}`

// TwistVerdict is the outcome of a plot twist classification
type TwistVerdict struct {
	IsTwist bool   `json:"isTwist"`
	Reason  string `json:"reason"`
}

// PlotTwistClassifier decides whether a narrative beat should be kept in
// long-term memory. Implementations never fail; uncertainty means no.
type PlotTwistClassifier interface {
	Classify(ctx context.Context, narrative string) TwistVerdict
}

// LLMPlotTwistClassifier asks the chat model
type LLMPlotTwistClassifier struct {
	chat   llm.ChatCompleter
	model  string
	logger *slog.Logger
}

func NewLLMPlotTwistClassifier(chat llm.ChatCompleter, model string, logger *slog.Logger) *LLMPlotTwistClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMPlotTwistClassifier{chat: chat, model: model, logger: logger.With("component", "plot_twist")}
}

// Classify makes one call at temperature 0.3. Any failure yields not-a-twist.
func (c *LLMPlotTwistClassifier) Classify(ctx context.Context, narrative string) TwistVerdict {
	resp, err := c.chat.Chat(ctx, &llm.ChatRequest{
		Model: c.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: plotTwistSystemPrompt},
			{Role: llm.RoleUser, Content: "判断以下剧情是否是重要转折点：\n\n" + narrative},
		},
		Temperature: 0.3,
		JSONMode:    true,
	})
	if err != nil {
		c.logger.Warn("plot twist analysis failed", "error", err)
		return TwistVerdict{}
	}

	var v TwistVerdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &v); err != nil {
		c.logger.Warn("plot twist analysis returned invalid JSON", "error", err)
		return TwistVerdict{}
	}
	c.logger.Debug("plot twist analysis", "is_twist", v.IsTwist, "reason", v.Reason)
	return v
}

// NeverTwist is the classifier used when no chat model is configured
type NeverTwist struct{}

func (NeverTwist) Classify(context.Context, string) TwistVerdict { return TwistVerdict{} }
