package prompts

import (
	"strings"
	"testing"

	"soul-teller/server/internal/models"
)

func TestRenderKeepsUnknownPlaceholders(t *testing.T) {
	e := NewTemplateEngine()
	_ = e.RegisterTemplate(&Template{Name: "t", Content: "{{a}} and {{b}}"})

	got, err := e.Render("t", Vars{"a": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "x and {{b}}" {
		t.Errorf("Render = %q", got)
	}

	got, _ = e.Render("t", Vars{"a": "", "b": "y"})
	if got != " and y" {
		t.Errorf("Render with empty value = %q", got)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	if _, err := NewTemplateEngine().Render("missing", nil); err == nil {
		t.Error("Render(missing) returned nil error")
	}
}

func TestDefaultTemplatesRegistered(t *testing.T) {
	e := NewDefaultEngine()
	for _, name := range []string{
		StorySystem, WorldContext, ChoicesSystem, ChoicesUser, OpeningSystem, OpeningUser,
		OpeningFallback, EmotionSystem, EmotionUser, DialogueSystem, DialogueScene,
		DialogueUser, DialogueStream, FallbackWithUser, FallbackDefault,
	} {
		if _, err := e.GetTemplate(name); err != nil {
			t.Errorf("template %s missing", name)
		}
	}

	tmpl, _ := e.GetTemplate(WorldContext)
	want := []string{"atmosphere", "characters", "core_conflict", "worldview"}
	if strings.Join(tmpl.Variables, ",") != strings.Join(want, ",") {
		t.Errorf("Variables = %v, want %v", tmpl.Variables, want)
	}
}

func TestWorldContextRendering(t *testing.T) {
	wc := &models.WorldContext{
		Worldview:    "魔法世界",
		CoreConflict: "光与暗",
		Atmosphere:   "神秘",
		Characters: []models.CharacterProfile{
			{Name: "艾拉", Personality: "勇敢"},
			{Name: "墨", Personality: "冷静"},
		},
	}
	got := NewDefaultEngine().MustRender(WorldContext, WorldVars(wc))
	want := "## 故事世界观\n\n世界观：魔法世界\n\n主要角色：\n- 艾拉：勇敢\n- 墨：冷静\n\n核心冲突：光与暗\n\n氛围基调：神秘"
	if got != want {
		t.Errorf("world context =\n%s\nwant\n%s", got, want)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	e := NewDefaultEngine()
	data, err := e.ExportTemplate(EmotionUser)
	if err != nil {
		t.Fatal(err)
	}

	other := NewTemplateEngine()
	if err := other.ImportTemplate(data); err != nil {
		t.Fatal(err)
	}
	got, _ := other.Render(EmotionUser, Vars{"input": "好开心"})
	if got != "请分析以下用户输入的情绪：\n好开心" {
		t.Errorf("Render after import = %q", got)
	}
}
