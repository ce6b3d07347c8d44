package generator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"soul-teller/server/internal/llm/mock"
	"soul-teller/server/internal/logging"
	"soul-teller/server/internal/models"
	"soul-teller/server/internal/rag"
)

type fakeContext struct {
	gen      rag.GenerationContext
	relevant []string
	calls    int
}

func (f *fakeContext) GetContextForGeneration(_ context.Context, _ string, _, _ int) rag.GenerationContext {
	f.calls++
	return f.gen
}

func (f *fakeContext) GetRelevantContext(context.Context, string, int) ([]string, error) {
	return f.relevant, nil
}

type fakeIndexer struct {
	mu    sync.Mutex
	nodes []string
}

func (f *fakeIndexer) IndexStoryNode(_ string, narrative string, plotTwist *bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if plotTwist != nil {
		narrative += "!explicit"
	}
	f.nodes = append(f.nodes, narrative)
}

func testNode() *models.StoryNode {
	return &models.StoryNode{
		ID:      "node-opening",
		Type:    models.NodeOpening,
		Content: models.NodeContent{Narrative: "你站在森林边缘。"},
		Choices: []models.StoryChoice{
			{ID: "choice-1", Text: "走进森林", Consequences: "未知的危险"},
			{ID: "choice-2", Text: "返回村庄"},
		},
	}
}

func newTestGenerator(chat *mock.Client, source ContextSource, idx NodeIndexer) *StoryGenerator {
	g := NewStoryGenerator(chat, nil, source, idx, Options{Model: "test-model"}, logging.Discard())
	n := 0
	g.newID = func() string {
		n++
		return "id" + string(rune('0'+n))
	}
	return g
}

func TestContinueStoryParsesModelOutput(t *testing.T) {
	chat := &mock.Client{Responses: []string{`{"narrative":"X","choices":[
		{"text":"A","consequences":"a"},{"text":"B","consequences":"b"},
		{"text":"C","consequences":"c"},{"text":"D","consequences":"d"}]}`}}
	idx := &fakeIndexer{}
	g := newTestGenerator(chat, &fakeContext{}, idx)

	resp, err := g.ContinueStory(context.Background(), Request{CurrentNode: testNode()})
	if err != nil {
		t.Fatalf("ContinueStory: %v", err)
	}
	if resp.Narrative != "X" || resp.Fallback {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Choices) != 3 {
		t.Fatalf("len(Choices) = %d, want 3", len(resp.Choices))
	}
	for i, c := range resp.Choices {
		if !strings.HasPrefix(c.ID, "choice-") || !c.IsAIGenerated {
			t.Errorf("choice %d = %+v", i, c)
		}
	}
	if resp.Choices[0].Text != "A" || resp.Choices[2].Consequences != "c" {
		t.Errorf("choices = %+v", resp.Choices)
	}

	calls := chat.Calls()
	if len(calls) != 1 {
		t.Fatalf("chat calls = %d, want 1", len(calls))
	}
	if calls[0].Req.Temperature != 0.9 || !calls[0].Req.JSONMode {
		t.Errorf("request temperature/json = %v/%v", calls[0].Req.Temperature, calls[0].Req.JSONMode)
	}
	if len(idx.nodes) != 1 || idx.nodes[0] != "X" {
		t.Errorf("indexed = %v, want [X] classified by model", idx.nodes)
	}
}

func TestContinueStoryFallbackNeverFails(t *testing.T) {
	tests := []struct {
		name string
		chat *mock.Client
	}{
		{"transport error", &mock.Client{ChatErr: errors.New("unreachable")}},
		{"invalid json", &mock.Client{Responses: []string{"I am not JSON"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := &fakeIndexer{}
			g := newTestGenerator(tt.chat, &fakeContext{}, idx)

			resp, err := g.ContinueStory(context.Background(), Request{CurrentNode: testNode()})
			if err != nil {
				t.Fatalf("ContinueStory err = %v", err)
			}
			if resp.Narrative == "" || !resp.Fallback {
				t.Errorf("resp = %+v", resp)
			}
			if len(resp.Choices) != 3 {
				t.Fatalf("len(Choices) = %d, want 3", len(resp.Choices))
			}
			want := []string{"继续探索当前场景", "仔细观察周围环境", "与附近的角色交流"}
			for i, c := range resp.Choices {
				if c.Text != want[i] || c.IsAIGenerated {
					t.Errorf("choice %d = %+v", i, c)
				}
			}
			if len(idx.nodes) != 0 {
				t.Errorf("fallback narrative was indexed")
			}
		})
	}
}

func TestContinueStoryFallbackInterpolatesUserContext(t *testing.T) {
	g := newTestGenerator(&mock.Client{ChatErr: errors.New("x")}, nil, nil)
	resp, _ := g.ContinueStory(context.Background(), Request{CurrentNode: testNode(), UserContext: "推开了门"})
	if !strings.HasPrefix(resp.Narrative, "你推开了门。") {
		t.Errorf("Narrative = %q", resp.Narrative)
	}
}

func TestContinueStoryPartialOutput(t *testing.T) {
	t.Run("empty narrative", func(t *testing.T) {
		g := newTestGenerator(&mock.Client{Responses: []string{`{"narrative":"","choices":[{"text":"A"}]}`}}, nil, nil)
		resp, _ := g.ContinueStory(context.Background(), Request{CurrentNode: testNode()})
		if !strings.HasPrefix(resp.Narrative, "随着你的探索") {
			t.Errorf("Narrative = %q", resp.Narrative)
		}
		if len(resp.Choices) != 1 || resp.Choices[0].Text != "A" {
			t.Errorf("Choices = %+v", resp.Choices)
		}
	})
	t.Run("choices not an array", func(t *testing.T) {
		g := newTestGenerator(&mock.Client{Responses: []string{`{"narrative":"N","choices":"oops"}`}}, nil, nil)
		resp, _ := g.ContinueStory(context.Background(), Request{CurrentNode: testNode()})
		if resp.Narrative != "N" || len(resp.Choices) != 3 || resp.Choices[0].Text != "继续探索当前场景" {
			t.Errorf("resp = %+v", resp)
		}
	})
	t.Run("missing choice text", func(t *testing.T) {
		g := newTestGenerator(&mock.Client{Responses: []string{"```json\n{\"narrative\":\"N\",\"choices\":[{\"text\":\"\"},{}]}\n```"}}, nil, nil)
		resp, _ := g.ContinueStory(context.Background(), Request{CurrentNode: testNode()})
		if len(resp.Choices) != 2 || resp.Choices[0].Text != "选项 1" || resp.Choices[1].Text != "选项 2" {
			t.Errorf("Choices = %+v", resp.Choices)
		}
	})
}

func TestPromptAssembly(t *testing.T) {
	chat := &mock.Client{Responses: []string{`{"narrative":"X","choices":[]}`}}
	source := &fakeContext{gen: rag.GenerationContext{Summary: "## 最近剧情\n上一段"}}
	g := newTestGenerator(chat, source, nil)

	world := &models.WorldContext{
		Worldview:    "魔法世界",
		Characters:   []models.CharacterProfile{{Name: "艾拉", Personality: "勇敢"}},
		CoreConflict: "光与暗",
		Atmosphere:   "神秘",
	}
	_, _ = g.ContinueStory(context.Background(), Request{CurrentNode: testNode(), UserContext: "我想去森林", WorldContext: world})

	req := chat.Calls()[0].Req
	system, user := req.Messages[0].Content, req.Messages[1].Content

	if !strings.Contains(system, "## 故事世界观") || !strings.Contains(system, "- 艾拉：勇敢") {
		t.Errorf("system prompt missing world section:\n%s", system)
	}

	sections := []string{"## 故事上下文", "## 当前剧情", "## 当前可用的行动选项", "## 用户想法/对话", "## 任务"}
	last := -1
	for _, s := range sections {
		i := strings.Index(user, s)
		if i < 0 {
			t.Fatalf("user prompt missing %q:\n%s", s, user)
		}
		if i < last {
			t.Errorf("section %q out of order", s)
		}
		last = i
	}
	if !strings.Contains(user, "1. 走进森林\n   （后果：未知的危险）\n2. 返回村庄\n") {
		t.Errorf("choices block wrong:\n%s", user)
	}
}

func TestPromptOmitsEmptySections(t *testing.T) {
	chat := &mock.Client{Responses: []string{`{"narrative":"X","choices":[]}`}}
	g := newTestGenerator(chat, &fakeContext{}, nil)

	node := testNode()
	node.Choices = nil
	_, _ = g.ContinueStory(context.Background(), Request{CurrentNode: node})

	req := chat.Calls()[0].Req
	user := req.Messages[1].Content
	for _, s := range []string{"## 故事上下文", "## 当前可用的行动选项", "## 用户想法/对话"} {
		if strings.Contains(user, s) {
			t.Errorf("user prompt contains %q", s)
		}
	}
	if strings.Contains(req.Messages[0].Content, "## 故事世界观") {
		t.Error("system prompt has world section without world context")
	}
}

func TestInfluenceChoicesKeepsNarrative(t *testing.T) {
	chat := &mock.Client{Responses: []string{`{"narrative":"模型擅自续写","choices":[{"text":"新A"},{"text":"新B"}]}`}}
	idx := &fakeIndexer{}
	g := newTestGenerator(chat, &fakeContext{}, idx)
	node := testNode()

	resp, err := g.InfluenceChoices(context.Background(), node, "我害怕", "别担心")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Narrative != node.Content.Narrative {
		t.Errorf("Narrative = %q, want original", resp.Narrative)
	}
	if len(resp.Choices) != 2 || resp.Choices[0].Text != "新A" {
		t.Errorf("Choices = %+v", resp.Choices)
	}
	user := chat.Calls()[0].Req.Messages[1].Content
	if !strings.Contains(user, "用户说：我害怕\n\nAI回应：别担心\n\n请根据以上对话调整分支选项") {
		t.Errorf("user prompt = %s", user)
	}
	if len(idx.nodes) != 0 {
		t.Error("influence narrative was indexed")
	}
}

func TestInfluenceChoicesFallbackKeepsOriginalChoices(t *testing.T) {
	g := newTestGenerator(&mock.Client{ChatErr: errors.New("down")}, nil, nil)
	node := testNode()

	resp, _ := g.InfluenceChoices(context.Background(), node, "a", "b")
	if len(resp.Choices) != 2 || resp.Choices[0].ID != "choice-1" {
		t.Errorf("Choices = %+v, want original", resp.Choices)
	}
}

func TestGenerateChoices(t *testing.T) {
	t.Run("wrapped object", func(t *testing.T) {
		chat := &mock.Client{Responses: []string{`{"choices":[{"text":"A","consequences":"a"},{"text":"B","consequences":"b"}]}`}}
		g := newTestGenerator(chat, &fakeContext{relevant: []string{"旧事"}}, nil)
		choices := g.GenerateChoices(context.Background(), testNode(), "想冒险", 2)
		if len(choices) != 2 || choices[1].Text != "B" {
			t.Errorf("choices = %+v", choices)
		}
		user := chat.Calls()[0].Req.Messages[1].Content
		if !strings.Contains(user, "相关背景信息：\n旧事") || !strings.Contains(user, "用户期望：想冒险") {
			t.Errorf("user prompt = %s", user)
		}
		if chat.Calls()[0].Req.Temperature != 0.8 {
			t.Errorf("temperature = %v", chat.Calls()[0].Req.Temperature)
		}
	})
	t.Run("bare array", func(t *testing.T) {
		chat := &mock.Client{Responses: []string{`[{"text":"A"}]`}}
		g := newTestGenerator(chat, nil, nil)
		if choices := g.GenerateChoices(context.Background(), testNode(), "", 3); len(choices) != 1 {
			t.Errorf("choices = %+v", choices)
		}
	})
	t.Run("fallback", func(t *testing.T) {
		g := newTestGenerator(&mock.Client{ChatErr: errors.New("x")}, nil, nil)
		choices := g.GenerateChoices(context.Background(), testNode(), "", 2)
		if len(choices) != 2 || choices[0].Text != "继续探索当前场景" {
			t.Errorf("choices = %+v", choices)
		}
	})
}

func TestGenerateOpening(t *testing.T) {
	world := &models.StoryWorld{
		ID:      "w",
		Context: models.WorldContext{Worldview: "这是一个魔法王国。魔法无处不在。", Atmosphere: "奇幻"},
	}

	g := newTestGenerator(&mock.Client{Responses: []string{"  开场白  "}}, nil, nil)
	if got := g.GenerateOpening(context.Background(), world, nil); got != "开场白" {
		t.Errorf("GenerateOpening = %q", got)
	}

	g = newTestGenerator(&mock.Client{ChatErr: errors.New("x")}, nil, nil)
	storyline := &models.Storyline{StartingNode: models.StoryNode{Content: models.NodeContent{Narrative: "静态开场"}}}
	if got := g.GenerateOpening(context.Background(), world, storyline); got != "静态开场" {
		t.Errorf("fallback with storyline = %q", got)
	}
	got := g.GenerateOpening(context.Background(), world, nil)
	if !strings.HasPrefix(got, "欢迎来到这是一个魔法王国。") || !strings.Contains(got, "弥漫着奇幻的气息") {
		t.Errorf("generic fallback = %q", got)
	}
}

func TestContinueStoryRequiresNode(t *testing.T) {
	g := newTestGenerator(&mock.Client{}, nil, nil)
	if _, err := g.ContinueStory(context.Background(), Request{}); err == nil {
		t.Error("ContinueStory(nil node) returned nil error")
	}
}
