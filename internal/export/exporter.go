// Package export renders a played story as TXT, Markdown or JSON.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"soul-teller/server/internal/catalog"
	"soul-teller/server/internal/engine"
	"soul-teller/server/internal/models"
)

// Format is an export file format
type Format string

const (
	FormatTXT      Format = "txt"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat accepts the format names plus "md"
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "txt", "text":
		return FormatTXT, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported export format: %s", s)
}

func (f Format) extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// MimeType returns the content type of the format
func (f Format) MimeType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown;charset=utf-8"
	case FormatJSON:
		return "application/json;charset=utf-8"
	default:
		return "text/plain;charset=utf-8"
	}
}

// Metadata summarizes the exported session
type Metadata struct {
	ExportDate     time.Time `json:"exportDate"`
	WorldName      string    `json:"worldName"`
	WorldID        string    `json:"worldId"`
	StorylineName  string    `json:"storylineName"`
	StorylineID    string    `json:"storylineId"`
	TotalNodes     int       `json:"totalNodes"`
	TotalChoices   int       `json:"totalChoices"`
	PlayDurationMs int64     `json:"playDuration"`
}

// VisitedNodeEntry is a node from the cache with its visit time
type VisitedNodeEntry struct {
	Node      *models.StoryNode `json:"node"`
	VisitedAt time.Time         `json:"visitedAt"`
}

// ChoiceHistoryEntry is one edge of the traversed graph
type ChoiceHistoryEntry struct {
	ChoiceID   string    `json:"choiceId"`
	ChoiceText string    `json:"choiceText"`
	FromNodeID string    `json:"fromNodeId"`
	ToNodeID   string    `json:"toNodeId"`
	Timestamp  time.Time `json:"timestamp"`
}

// StoryExportData is everything an export renders
type StoryExportData struct {
	Metadata      Metadata                `json:"metadata"`
	StoryPath     []models.StoryPathEntry `json:"storyPath"`
	VisitedNodes  []VisitedNodeEntry      `json:"visitedNodes"`
	ChoiceHistory []ChoiceHistoryEntry    `json:"choiceHistory"`
}

// Result is a rendered export
type Result struct {
	Format   Format `json:"format"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
}

// Exporter collects and renders export data
type Exporter struct {
	catalog *catalog.Catalog
	now     func() time.Time
}

func NewExporter(cat *catalog.Catalog) *Exporter {
	return &Exporter{catalog: cat, now: time.Now}
}

// CollectExportData assembles export data from a session, its story path and
// the engine's node cache.
func (x *Exporter) CollectExportData(session *models.InteractionSession, path []models.StoryPathEntry, cache map[string]models.NodeCacheEntry) (*StoryExportData, error) {
	world, ok := x.catalog.World(session.WorldID)
	if !ok {
		return nil, &engine.NotFoundError{Kind: "world", ID: session.WorldID}
	}
	storyline, ok := x.catalog.Storyline(session.WorldID, session.StorylineID)
	if !ok {
		return nil, &engine.NotFoundError{Kind: "storyline", ID: session.StorylineID}
	}

	visited := make([]VisitedNodeEntry, 0, len(cache))
	for _, id := range session.VisitedNodes {
		if entry, ok := cache[id]; ok {
			visited = append(visited, VisitedNodeEntry{Node: entry.Node, VisitedAt: entry.VisitedAt})
		}
	}

	history := make([]ChoiceHistoryEntry, len(session.History))
	for i, h := range session.History {
		to := h.ResultingNodeID
		switch {
		case to != "":
		case i < len(session.History)-1:
			to = session.History[i+1].NodeID
		case session.CurrentNode != nil:
			to = session.CurrentNode.ID
		default:
			to = "unknown"
		}
		history[i] = ChoiceHistoryEntry{
			ChoiceID:   h.ChoiceID,
			ChoiceText: h.SelectedChoice,
			FromNodeID: h.NodeID,
			ToNodeID:   to,
			Timestamp:  h.Timestamp,
		}
	}

	if path == nil {
		path = []models.StoryPathEntry{}
	}
	return &StoryExportData{
		Metadata: Metadata{
			ExportDate:     x.now(),
			WorldName:      world.Name,
			WorldID:        world.ID,
			StorylineName:  storyline.Name,
			StorylineID:    storyline.ID,
			TotalNodes:     len(session.VisitedNodes),
			TotalChoices:   len(session.History),
			PlayDurationMs: session.LastUpdateTime.Sub(session.StartTime).Milliseconds(),
		},
		StoryPath:     path,
		VisitedNodes:  visited,
		ChoiceHistory: history,
	}, nil
}

// Export renders data in the given format
func (x *Exporter) Export(data *StoryExportData, format Format) (*Result, error) {
	var content string
	switch format {
	case FormatTXT:
		content = ToTXT(data)
	case FormatMarkdown:
		content = ToMarkdown(data)
	case FormatJSON:
		out, err := ToJSON(data)
		if err != nil {
			return nil, err
		}
		content = out
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}

	return &Result{
		Format:   format,
		Filename: fmt.Sprintf("%s_%s.%s", data.Metadata.WorldName, x.now().Format("20060102_150405"), format.extension()),
		Content:  content,
		Size:     len(content),
		MimeType: format.MimeType(),
	}, nil
}

const (
	banner  = "=================================================="
	divider = "--------------------------------------------------"
)

// ToTXT renders the plain text export
func ToTXT(data *StoryExportData) string {
	md := data.Metadata
	lines := []string{
		banner,
		"  灵魂讲述者 - 故事导出",
		banner,
		"",
		"故事世界：" + md.WorldName,
		"故事线：" + md.StorylineName,
		"导出时间：" + formatDate(md.ExportDate),
		fmt.Sprintf("总节点数：%d", md.TotalNodes),
		fmt.Sprintf("总选择数：%d", md.TotalChoices),
		"游玩时长：" + FormatDuration(md.PlayDurationMs),
		"",
		banner,
		"",
	}

	for i, entry := range data.StoryPath {
		lines = append(lines, fmt.Sprintf("【第%d章】%s", i+1, sceneOrUnknown(entry.SceneName)), "", entry.Narrative, "")
		if c := entry.SelectedChoice; c != nil {
			lines = append(lines, "> 你的选择："+c.Text)
			if c.Consequences != "" {
				lines = append(lines, "> 后果提示："+c.Consequences)
			}
		}
		lines = append(lines, "", divider, "")
	}

	lines = append(lines, banner, "故事结束", "感谢你的游玩！", banner)
	return strings.Join(lines, "\n")
}

// ToMarkdown renders the Markdown export
func ToMarkdown(data *StoryExportData) string {
	md := data.Metadata
	lines := []string{
		"# 灵魂讲述者 - 故事导出",
		"",
		"## 元数据",
		"",
		"| 项目 | 内容 |",
		"|------|------|",
		fmt.Sprintf("| 故事世界 | %s |", md.WorldName),
		fmt.Sprintf("| 故事线 | %s |", md.StorylineName),
		fmt.Sprintf("| 导出时间 | %s |", formatDate(md.ExportDate)),
		fmt.Sprintf("| 总节点数 | %d |", md.TotalNodes),
		fmt.Sprintf("| 总选择数 | %d |", md.TotalChoices),
		fmt.Sprintf("| 游玩时长 | %s |", FormatDuration(md.PlayDurationMs)),
		"",
		"---",
		"",
		"## 故事正文",
		"",
	}

	for i, entry := range data.StoryPath {
		lines = append(lines, fmt.Sprintf("### 【第%d章】%s", i+1, sceneOrUnknown(entry.SceneName)), "")
		if entry.SceneName != "" {
			lines = append(lines, "**场景**："+entry.SceneName, "")
		}
		lines = append(lines, entry.Narrative, "")
		if c := entry.SelectedChoice; c != nil {
			lines = append(lines, "> **你的选择**："+c.Text)
			if c.Consequences != "" {
				lines = append(lines, "> *后果提示："+c.Consequences+"*")
			}
		}
		lines = append(lines, "", "---", "")
	}

	lines = append(lines, "*故事结束，感谢你的游玩！*")
	return strings.Join(lines, "\n")
}

// ToJSON renders the indented JSON export
func ToJSON(data *StoryExportData) (string, error) {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal export: %w", err)
	}
	return string(out), nil
}

// ParseJSON reads back a JSON export
func ParseJSON(content string) (*StoryExportData, error) {
	var data StoryExportData
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return nil, fmt.Errorf("failed to parse export: %w", err)
	}
	return &data, nil
}

// FormatDuration renders milliseconds as hours and minutes, minutes, or
// seconds.
func FormatDuration(ms int64) string {
	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%d小时%d分钟", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%d分钟", minutes)
	default:
		return fmt.Sprintf("%d秒", seconds)
	}
}

func formatDate(t time.Time) string {
	return t.Local().Format("2006/01/02 15:04:05")
}

func sceneOrUnknown(name string) string {
	if name == "" {
		return "未知道场"
	}
	return name
}
