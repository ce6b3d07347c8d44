// Package emotion classifies user utterances into a primary emotion and a
// sentiment, either through the chat model or with a keyword scan.
package emotion

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"golang.org/x/text/width"

	"soul-teller/server/internal/llm"
	"soul-teller/server/internal/models"
	"soul-teller/server/internal/prompts"
)

const (
	analyzeTemperature = 0.3
	maxKeywords        = 3
)

var (
	positiveKeywords = []string{
		"开心", "快乐", "太棒了", "成功", "喜欢", "爱", "棒", "好",
		"yes", "yeah", "great", "love", "happy", "excited", "amazing",
		"哈哈", "呵呵", "不错", "感谢", "谢谢", "期待", "希望",
	}
	negativeKeywords = []string{
		"难过", "悲伤", "痛苦", "讨厌", "恨", "不好", "差", "失望",
		"no", "hate", "sad", "bad", "terrible", "awful", "sorry",
		"担心", "害怕", "恐惧", "愤怒", "生气", "烦", "累",
	}
	surpriseKeywords = []string{
		"哇", "天哪", "真的吗", "不敢相信", "居然", "竟然",
		"wow", "really", "unbelievable", "shocking",
	}
)

var actionForEmotion = map[string]string{
	"快乐": "Celebrate",
	"兴奋": "Celebrate",
	"惊讶": "Surprise",
	"悲伤": "Comfort",
	"痛苦": "Comfort",
	"恐惧": "Reassure",
	"愤怒": "Calm",
	"期待": "Nod",
}

// Neutral is the analysis used when nothing better is known
func Neutral() models.EmotionAnalysis {
	return models.EmotionAnalysis{
		Primary:    "平静",
		Confidence: 0.5,
		Sentiment:  models.SentimentNeutral,
		Keywords:   []string{},
	}
}

// Analyzer runs emotion analysis against the chat model
type Analyzer struct {
	chat      llm.ChatCompleter
	templates *prompts.TemplateEngine
	model     string
	logger    *slog.Logger
}

func NewAnalyzer(chat llm.ChatCompleter, templates *prompts.TemplateEngine, model string, logger *slog.Logger) *Analyzer {
	if templates == nil {
		templates = prompts.NewDefaultEngine()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		chat:      chat,
		templates: templates,
		model:     model,
		logger:    logger.With("component", "emotion"),
	}
}

// Analyze classifies input with the model. Any failure yields Neutral and
// missing fields in the model output are filled from it.
func (a *Analyzer) Analyze(ctx context.Context, input string) models.EmotionAnalysis {
	resp, err := a.chat.Chat(ctx, &llm.ChatRequest{
		Model: a.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: a.templates.MustRender(prompts.EmotionSystem, nil)},
			{Role: llm.RoleUser, Content: a.templates.MustRender(prompts.EmotionUser, prompts.Vars{"input": input})},
		},
		Temperature: analyzeTemperature,
		JSONMode:    true,
	})
	if err != nil {
		a.logger.Warn("emotion analysis failed", "error", err)
		return Neutral()
	}

	var raw struct {
		Primary    string   `json:"primary"`
		Confidence float64  `json:"confidence"`
		Sentiment  string   `json:"sentiment"`
		Keywords   []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &raw); err != nil {
		a.logger.Warn("emotion analysis returned invalid JSON", "error", err)
		return Neutral()
	}

	out := Neutral()
	if raw.Primary != "" {
		out.Primary = raw.Primary
	}
	if raw.Confidence > 0 && raw.Confidence <= 1 {
		out.Confidence = raw.Confidence
	}
	switch s := models.Sentiment(raw.Sentiment); s {
	case models.SentimentPositive, models.SentimentNegative, models.SentimentNeutral:
		out.Sentiment = s
	}
	if raw.Keywords != nil {
		out.Keywords = raw.Keywords
	}

	a.logger.Debug("emotion analyzed", "primary", out.Primary, "sentiment", out.Sentiment, "confidence", out.Confidence)
	return out
}

// QuickDetect classifies input by keyword counts without calling the model
func QuickDetect(input string) models.EmotionAnalysis {
	text := strings.ToLower(width.Fold.String(input))

	if hits := matchKeywords(text, positiveKeywords); len(hits) >= 2 {
		return models.EmotionAnalysis{Primary: "快乐", Confidence: 0.7, Sentiment: models.SentimentPositive, Keywords: truncate(hits)}
	}
	if hits := matchKeywords(text, negativeKeywords); len(hits) >= 2 {
		return models.EmotionAnalysis{Primary: "悲伤", Confidence: 0.7, Sentiment: models.SentimentNegative, Keywords: truncate(hits)}
	}
	if hits := matchKeywords(text, surpriseKeywords); len(hits) >= 1 {
		return models.EmotionAnalysis{Primary: "惊讶", Confidence: 0.6, Sentiment: models.SentimentNeutral, Keywords: truncate(hits)}
	}
	return Neutral()
}

// SelectActionForEmotion maps a primary emotion to an avatar action, or ""
func SelectActionForEmotion(e models.EmotionAnalysis) string {
	return actionForEmotion[e.Primary]
}

func matchKeywords(text string, keywords []string) []string {
	var hits []string
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			hits = append(hits, kw)
		}
	}
	return hits
}

func truncate(hits []string) []string {
	if len(hits) > maxKeywords {
		return hits[:maxKeywords]
	}
	return hits
}
