package emotion

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"soul-teller/server/internal/llm/mock"
	"soul-teller/server/internal/logging"
	"soul-teller/server/internal/models"
)

func TestAnalyzeParsesModelOutput(t *testing.T) {
	chat := &mock.Client{Responses: []string{`{"primary":"快乐","confidence":0.95,"sentiment":"positive","keywords":["太棒了","成功"]}`}}
	a := NewAnalyzer(chat, nil, "classifier", logging.Discard())

	got := a.Analyze(context.Background(), "太棒了！我终于成功了！")
	want := models.EmotionAnalysis{Primary: "快乐", Confidence: 0.95, Sentiment: models.SentimentPositive, Keywords: []string{"太棒了", "成功"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Analyze = %+v, want %+v", got, want)
	}

	req := chat.Calls()[0].Req
	if req.Temperature != 0.3 || !req.JSONMode || req.Model != "classifier" {
		t.Errorf("request = %+v", req)
	}
	if !strings.HasSuffix(req.Messages[1].Content, "\n太棒了！我终于成功了！") {
		t.Errorf("user prompt = %q", req.Messages[1].Content)
	}
}

func TestAnalyzeDefaults(t *testing.T) {
	tests := []struct {
		name string
		chat *mock.Client
		want models.EmotionAnalysis
	}{
		{"error", &mock.Client{ChatErr: errors.New("boom")}, Neutral()},
		{"invalid json", &mock.Client{Responses: []string{"嗯"}}, Neutral()},
		{"partial", &mock.Client{Responses: []string{`{"primary":"愤怒"}`}},
			models.EmotionAnalysis{Primary: "愤怒", Confidence: 0.5, Sentiment: models.SentimentNeutral, Keywords: []string{}}},
		{"bad sentiment", &mock.Client{Responses: []string{`{"primary":"期待","confidence":0.8,"sentiment":"mixed"}`}},
			models.EmotionAnalysis{Primary: "期待", Confidence: 0.8, Sentiment: models.SentimentNeutral, Keywords: []string{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewAnalyzer(tt.chat, nil, "m", logging.Discard()).Analyze(context.Background(), "x")
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Analyze = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestQuickDetect(t *testing.T) {
	tests := []struct {
		input     string
		primary   string
		sentiment models.Sentiment
		keywords  int
	}{
		{"哈哈，太棒了，我好开心", "快乐", models.SentimentPositive, 3},
		{"ＧＲＥＡＴ, I LOVE it", "快乐", models.SentimentPositive, 2},
		{"我很难过，真的很痛苦", "悲伤", models.SentimentNegative, 2},
		{"哇，居然是这样", "惊讶", models.SentimentNeutral, 2},
		{"继续吧", "平静", models.SentimentNeutral, 0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := QuickDetect(tt.input)
			if got.Primary != tt.primary || got.Sentiment != tt.sentiment {
				t.Errorf("QuickDetect(%q) = %+v", tt.input, got)
			}
			if tt.keywords > 0 && len(got.Keywords) != tt.keywords {
				t.Errorf("keywords = %v, want %d", got.Keywords, tt.keywords)
			}
			if len(got.Keywords) > 3 {
				t.Errorf("more than 3 keywords: %v", got.Keywords)
			}
		})
	}
}

func TestSelectActionForEmotion(t *testing.T) {
	tests := map[string]string{
		"快乐": "Celebrate",
		"兴奋": "Celebrate",
		"惊讶": "Surprise",
		"悲伤": "Comfort",
		"痛苦": "Comfort",
		"恐惧": "Reassure",
		"愤怒": "Calm",
		"期待": "Nod",
		"平静": "",
	}
	for primary, want := range tests {
		if got := SelectActionForEmotion(models.EmotionAnalysis{Primary: primary}); got != want {
			t.Errorf("SelectActionForEmotion(%s) = %q, want %q", primary, got, want)
		}
	}
}
