package export

import (
	"errors"
	"strings"
	"testing"
	"time"

	"soul-teller/server/internal/catalog"
	"soul-teller/server/internal/engine"
	"soul-teller/server/internal/models"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func fixture() (*models.InteractionSession, []models.StoryPathEntry, map[string]models.NodeCacheEntry) {
	start := &models.StoryNode{ID: "node-opening", Content: models.NodeContent{Narrative: "开场"}}
	next := &models.StoryNode{ID: "n2", Content: models.NodeContent{Narrative: "第二段"}, ParentChoiceID: "choice-1"}

	session := &models.InteractionSession{
		ID:          "s1",
		WorldID:     "magic-kingdom",
		StorylineID: "storyline-1",
		Status:      models.SessionActive,
		CurrentNode: next,
		History: []models.SessionHistory{
			{NodeID: "node-opening", ChoiceID: "choice-1", SelectedChoice: "前进", Timestamp: t0.Add(time.Minute), ResultingNodeID: "n2"},
			{NodeID: "n2", ChoiceID: "c2", SelectedChoice: "等待", Timestamp: t0.Add(2 * time.Minute)},
		},
		VisitedNodes:   []string{"node-opening", "n2"},
		StartTime:      t0,
		LastUpdateTime: t0.Add(65 * time.Minute),
	}
	path := []models.StoryPathEntry{
		{NodeID: "node-opening", SceneName: "水晶森林", Narrative: "开场", Timestamp: t0},
		{NodeID: "n2", Narrative: "第二段", SelectedChoice: &models.SelectedChoice{Text: "前进", Consequences: "遇到向导"}, Timestamp: t0.Add(time.Minute)},
	}
	cache := map[string]models.NodeCacheEntry{
		"n2":           {Node: next, VisitedAt: t0.Add(time.Minute)},
		"node-opening": {Node: start, VisitedAt: t0, SceneName: "水晶森林"},
	}
	return session, path, cache
}

func newTestExporter() *Exporter {
	x := NewExporter(catalog.Default())
	x.now = func() time.Time { return time.Date(2026, 3, 2, 8, 9, 10, 0, time.Local) }
	return x
}

func TestCollectExportData(t *testing.T) {
	session, path, cache := fixture()
	data, err := newTestExporter().CollectExportData(session, path, cache)
	if err != nil {
		t.Fatal(err)
	}

	md := data.Metadata
	if md.WorldName != "迷失的魔法王国" || md.TotalNodes != 2 || md.TotalChoices != 2 || md.PlayDurationMs != 65*60*1000 {
		t.Errorf("metadata = %+v", md)
	}
	if len(data.VisitedNodes) != 2 || data.VisitedNodes[0].Node.ID != "node-opening" {
		t.Errorf("visited = %+v", data.VisitedNodes)
	}
	if got := data.ChoiceHistory[0].ToNodeID; got != "n2" {
		t.Errorf("history[0].to = %q, want n2", got)
	}
	if got := data.ChoiceHistory[1].ToNodeID; got != "n2" {
		t.Errorf("history[1].to = %q, want current node", got)
	}

	session.CurrentNode = nil
	data, _ = newTestExporter().CollectExportData(session, path, cache)
	if got := data.ChoiceHistory[1].ToNodeID; got != "unknown" {
		t.Errorf("history[1].to = %q, want unknown", got)
	}
}

func TestCollectExportDataUnknownWorld(t *testing.T) {
	session, path, cache := fixture()
	session.WorldID = "atlantis"
	_, err := newTestExporter().CollectExportData(session, path, cache)
	if !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestExportTXT(t *testing.T) {
	session, path, cache := fixture()
	x := newTestExporter()
	data, _ := x.CollectExportData(session, path, cache)

	res, err := x.Export(data, FormatTXT)
	if err != nil {
		t.Fatal(err)
	}
	if res.Filename != "迷失的魔法王国_20260302_080910.txt" {
		t.Errorf("Filename = %q", res.Filename)
	}
	if res.MimeType != "text/plain;charset=utf-8" || res.Size != len(res.Content) {
		t.Errorf("result = %+v", res)
	}
	for _, want := range []string{
		strings.Repeat("=", 50) + "\n  灵魂讲述者 - 故事导出",
		"游玩时长：1小时5分钟",
		"【第1章】水晶森林\n\n开场\n",
		"【第2章】未知道场\n\n第二段\n\n> 你的选择：前进\n> 后果提示：遇到向导",
		"故事结束\n感谢你的游玩！",
	} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("TXT missing %q:\n%s", want, res.Content)
		}
	}
}

func TestExportMarkdown(t *testing.T) {
	session, path, cache := fixture()
	x := newTestExporter()
	data, _ := x.CollectExportData(session, path, cache)

	res, err := x.Export(data, FormatMarkdown)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(res.Filename, ".md") || res.MimeType != "text/markdown;charset=utf-8" {
		t.Errorf("result = %+v", res)
	}
	for _, want := range []string{
		"| 故事世界 | 迷失的魔法王国 |",
		"### 【第1章】水晶森林\n\n**场景**：水晶森林",
		"### 【第2章】未知道场\n\n第二段",
		"> **你的选择**：前进\n> *后果提示：遇到向导*",
		"*故事结束，感谢你的游玩！*",
	} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("Markdown missing %q", want)
		}
	}
}

func TestExportJSONRoundTrip(t *testing.T) {
	session, path, cache := fixture()
	x := newTestExporter()
	data, _ := x.CollectExportData(session, path, cache)

	res, err := x.Export(data, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, "\n  \"metadata\": {") {
		t.Errorf("JSON not indented:\n%s", res.Content)
	}
	back, err := ParseJSON(res.Content)
	if err != nil {
		t.Fatal(err)
	}
	if back.Metadata.WorldID != "magic-kingdom" || len(back.StoryPath) != 2 || back.StoryPath[1].SelectedChoice.Text != "前进" {
		t.Errorf("round trip = %+v", back)
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	if _, err := newTestExporter().Export(&StoryExportData{}, Format("pdf")); err == nil {
		t.Error("Export(pdf) returned nil error")
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Error("ParseFormat(pdf) returned nil error")
	}
	if f, _ := ParseFormat("MD"); f != FormatMarkdown {
		t.Errorf("ParseFormat(MD) = %q", f)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "0秒"},
		{59_999, "59秒"},
		{60_000, "1分钟"},
		{59 * 60_000, "59分钟"},
		{3_600_000, "1小时0分钟"},
		{2*3_600_000 + 90_000, "2小时1分钟"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.ms); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}
