package playroom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"soul-teller/server/internal/avatar"
	avatarmock "soul-teller/server/internal/avatar/mock"
	"soul-teller/server/internal/catalog"
	"soul-teller/server/internal/dialogue"
	"soul-teller/server/internal/engine"
	"soul-teller/server/internal/generator"
	"soul-teller/server/internal/logging"
	"soul-teller/server/internal/memory"
	"soul-teller/server/internal/models"
	"soul-teller/server/internal/storage"
)

type stubGenerator struct{}

func (stubGenerator) ContinueStory(_ context.Context, req generator.Request) (*generator.Response, error) {
	return &generator.Response{
		Narrative: "你走进了光芒。",
		Choices:   []models.StoryChoice{{ID: "next-1", Text: "继续"}, {ID: "next-2", Text: "回头"}},
	}, nil
}

type stubResponder struct {
	reply *dialogue.Response
	got   *dialogue.Context
}

func (s *stubResponder) Respond(_ context.Context, _ string, dctx *dialogue.Context) *dialogue.Response {
	s.got = dctx
	return s.reply
}

type stubInfluencer struct {
	choices []models.StoryChoice
	err     error
}

func (s stubInfluencer) InfluenceChoices(_ context.Context, node *models.StoryNode, _, _ string) (*generator.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &generator.Response{Narrative: node.Content.Narrative, Choices: s.choices}, nil
}

// advancingInfluencer commits the next node while its model call is running
type advancingInfluencer struct {
	engine  *engine.StoryEngine
	choices []models.StoryChoice
}

func (a *advancingInfluencer) InfluenceChoices(ctx context.Context, node *models.StoryNode, _, _ string) (*generator.Response, error) {
	if _, err := a.engine.HandleChoice(ctx, "choice-1", true); err != nil {
		return nil, err
	}
	return &generator.Response{Narrative: node.Content.Narrative, Choices: a.choices}, nil
}

type openingFunc func(world *models.StoryWorld, storyline *models.Storyline) string

func (f openingFunc) GenerateOpening(_ context.Context, world *models.StoryWorld, storyline *models.Storyline) string {
	return f(world, storyline)
}

// stubChoices writes n choices; advance, when set, runs first
type stubChoices struct {
	advance func()
	hint    string
}

func (s *stubChoices) GenerateChoices(_ context.Context, node *models.StoryNode, userContext string, n int) []models.StoryChoice {
	if s.advance != nil {
		s.advance()
	}
	s.hint = userContext
	out := make([]models.StoryChoice, n)
	for i := range out {
		out[i] = models.StoryChoice{ID: fmt.Sprintf("%s-new-%d", node.ID, i), Text: "新的选择"}
	}
	return out
}

type harness struct {
	room      *Room
	engine    *engine.StoryEngine
	memory    *memory.Manager
	bridge    *avatarmock.Bridge
	responder *stubResponder
}

func newHarness(t *testing.T, influencer ChoiceInfluencer, opts ...Option) *harness {
	t.Helper()
	log := logging.Discard()
	eng := engine.NewStoryEngine(catalog.Default(), stubGenerator{}, log)
	mem := memory.NewManager(storage.NewMemoryKV(), log, memory.WithVisitedNodes(eng))

	bridge := avatarmock.New()
	bridge.AutoVoice = true
	if err := bridge.Connect(context.Background(), avatar.Config{}); err != nil {
		t.Fatal(err)
	}

	resp := &stubResponder{reply: &dialogue.Response{Content: "别担心。", SSML: "<speak>别担心。</speak>", NewState: dialogue.AvatarListen}}
	opts = append([]Option{WithAvatar(bridge, time.Second)}, opts...)
	room := NewRoom(eng, mem, resp, influencer, Character{Name: "小灵", Persona: "温柔"}, log, opts...)
	return &harness{room: room, engine: eng, memory: mem, bridge: bridge, responder: resp}
}

func TestStart(t *testing.T) {
	h := newHarness(t, stubInfluencer{})
	session, err := h.room.Start(context.Background(), "magic-kingdom", "storyline-1")
	if err != nil {
		t.Fatal(err)
	}

	mem := h.memory.Memory()
	if mem == nil || mem.SessionID != session.ID || mem.Context.CurrentNodeID != "node-opening" {
		t.Errorf("memory = %+v", mem)
	}
	calls := h.bridge.Recorded()
	if len(calls) < 2 || calls[1].Method != "SpeakSSML" || !strings.Contains(calls[1].Text, "欢迎来到小灵的故事世界") {
		t.Errorf("calls = %+v", calls)
	}
}

func TestChoose(t *testing.T) {
	h := newHarness(t, stubInfluencer{})
	ctx := context.Background()
	if _, err := h.room.Start(ctx, "magic-kingdom", "storyline-1"); err != nil {
		t.Fatal(err)
	}
	skip := len(h.bridge.Recorded())

	node, err := h.room.Choose(ctx, "choice-1")
	if err != nil {
		t.Fatal(err)
	}
	if node.Content.Narrative != "你走进了光芒。" {
		t.Errorf("narrative = %q", node.Content.Narrative)
	}

	mem := h.memory.Memory()
	if len(mem.Choices) != 1 || mem.Choices[0].ChoiceText != "向着光芒的方向前进" || mem.Choices[0].NodeID != "node-opening" {
		t.Errorf("memory choices = %+v", mem.Choices)
	}
	if mem.Context.CurrentNodeID != node.ID {
		t.Errorf("memory node = %q, want %q", mem.Context.CurrentNodeID, node.ID)
	}

	var methods []string
	for _, c := range h.bridge.Recorded()[skip:] {
		methods = append(methods, c.Method)
	}
	if got := strings.Join(methods, ","); got != "Think,SpeakStream,InteractiveIdle" {
		t.Errorf("avatar calls = %s", got)
	}
}

func TestStartReadsGeneratedOpening(t *testing.T) {
	opening := openingFunc(func(world *models.StoryWorld, _ *models.Storyline) string { return "欢迎来到" + world.Name })
	h := newHarness(t, stubInfluencer{}, WithGeneratedOpening(opening, catalog.Default()))
	if _, err := h.room.Start(context.Background(), "magic-kingdom", "storyline-1"); err != nil {
		t.Fatal(err)
	}

	var spoken []string
	for _, c := range h.bridge.Recorded() {
		if c.Method == "SpeakStream" {
			spoken = append(spoken, c.Text)
		}
	}
	if len(spoken) < 2 || !strings.HasPrefix(spoken[0], "欢迎来到") {
		t.Errorf("spoken = %q, want the generated opening first", spoken)
	}
}

func TestStartSkipsOpeningEqualToFirstNode(t *testing.T) {
	fallback := openingFunc(func(_ *models.StoryWorld, storyline *models.Storyline) string {
		return storyline.StartingNode.Content.Narrative
	})
	h := newHarness(t, stubInfluencer{}, WithGeneratedOpening(fallback, catalog.Default()))
	h.room.Start(context.Background(), "magic-kingdom", "storyline-1")

	var narrations int
	for _, c := range h.bridge.Recorded() {
		if c.Method == "SpeakStream" && c.IsStart {
			narrations++
		}
	}
	if narrations != 1 {
		t.Errorf("narrations = %d, want 1", narrations)
	}
}

func TestRegenerateChoices(t *testing.T) {
	writer := &stubChoices{}
	h := newHarness(t, stubInfluencer{}, WithChoiceWriter(writer))
	ctx := context.Background()

	if _, err := h.room.RegenerateChoices(ctx, "", 2); !errors.Is(err, engine.ErrNoSession) {
		t.Errorf("err without session = %v", err)
	}
	h.room.Start(ctx, "magic-kingdom", "storyline-1")

	node, err := h.room.RegenerateChoices(ctx, "想找到宝藏", 2)
	if err != nil {
		t.Fatal(err)
	}
	if node.ID != "node-opening" || len(node.Choices) != 2 || node.Choices[0].ID != "node-opening-new-0" {
		t.Errorf("node = %+v", node)
	}
	if writer.hint != "想找到宝藏" {
		t.Errorf("user context = %q", writer.hint)
	}
	if cur := h.engine.CurrentSession().CurrentNode; cur.Choices[1].ID != "node-opening-new-1" {
		t.Errorf("current choices = %+v", cur.Choices)
	}
}

func TestRegenerateChoicesForReplacedNode(t *testing.T) {
	writer := &stubChoices{}
	h := newHarness(t, stubInfluencer{}, WithChoiceWriter(writer))
	ctx := context.Background()
	h.room.Start(ctx, "magic-kingdom", "storyline-1")
	writer.advance = func() {
		if _, err := h.engine.HandleChoice(ctx, "choice-1", true); err != nil {
			t.Error(err)
		}
	}

	if _, err := h.room.RegenerateChoices(ctx, "", 2); !errors.Is(err, engine.ErrStaleSession) {
		t.Errorf("err = %v, want ErrStaleSession", err)
	}
	if cur := h.engine.CurrentSession().CurrentNode; cur.Choices[0].ID != "next-1" {
		t.Errorf("new node choices = %+v", cur.Choices)
	}
}

func TestRegenerateChoicesWithoutWriter(t *testing.T) {
	h := newHarness(t, stubInfluencer{})
	h.room.Start(context.Background(), "magic-kingdom", "storyline-1")
	if _, err := h.room.RegenerateChoices(context.Background(), "", 2); !errors.Is(err, ErrNoChoiceWriter) {
		t.Errorf("err = %v, want ErrNoChoiceWriter", err)
	}
}

func TestChooseError(t *testing.T) {
	h := newHarness(t, stubInfluencer{})
	ctx := context.Background()
	h.room.Start(ctx, "magic-kingdom", "storyline-1")

	_, err := h.room.Choose(ctx, "nope")
	if !errors.Is(err, engine.ErrChoiceNotFound) {
		t.Errorf("err = %v, want ErrChoiceNotFound", err)
	}
	if n := len(h.memory.Memory().Choices); n != 0 {
		t.Errorf("recorded %d choices after failure", n)
	}
}

func TestTalk(t *testing.T) {
	influenced := []models.StoryChoice{{ID: "i-1", Text: "安慰向导"}, {ID: "i-2", Text: "继续前进"}}
	h := newHarness(t, stubInfluencer{choices: influenced})
	ctx := context.Background()
	h.room.Start(ctx, "magic-kingdom", "storyline-1")

	res, err := h.room.Talk(ctx, "我有点害怕")
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply.Content != "别担心。" || len(res.Choices) != 2 || res.Choices[0].ID != "i-1" {
		t.Errorf("result = %+v", res)
	}
	if got := h.responder.got; got == nil || len(got.Choices) != 3 || got.NodeContent == "" {
		t.Errorf("dialogue context = %+v", got)
	}

	cur := h.engine.CurrentSession().CurrentNode
	if cur.ID != "node-opening" || cur.Choices[0].ID != "i-1" {
		t.Errorf("current node = %+v", cur)
	}
	methods := h.bridge.Methods()
	if methods[len(methods)-1] != "Listen" {
		t.Errorf("last avatar call = %s, want Listen", methods[len(methods)-1])
	}
}

func TestTalkKeepsChoicesWhenInfluenceFails(t *testing.T) {
	h := newHarness(t, stubInfluencer{err: errors.New("model down")})
	ctx := context.Background()
	h.room.Start(ctx, "magic-kingdom", "storyline-1")

	res, err := h.room.Talk(ctx, "你好")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Choices) != 3 || res.Choices[0].ID != "choice-1" {
		t.Errorf("choices = %+v", res.Choices)
	}
}

func TestTalkRejectsInvalidChoices(t *testing.T) {
	dup := []models.StoryChoice{{ID: "x", Text: "a"}, {ID: "x", Text: "b"}}
	h := newHarness(t, stubInfluencer{choices: dup})
	ctx := context.Background()
	h.room.Start(ctx, "magic-kingdom", "storyline-1")

	res, err := h.room.Talk(ctx, "你好")
	if err != nil {
		t.Fatal(err)
	}
	if res.Choices[0].ID != "choice-1" {
		t.Errorf("choices = %+v, want original", res.Choices)
	}
}

func TestTalkDropsChoicesForReplacedNode(t *testing.T) {
	inf := &advancingInfluencer{choices: []models.StoryChoice{{ID: "old-a", Text: "安慰向导"}}}
	h := newHarness(t, inf)
	inf.engine = h.engine
	ctx := context.Background()
	h.room.Start(ctx, "magic-kingdom", "storyline-1")

	res, err := h.room.Talk(ctx, "我有点害怕")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Choices) != 3 || res.Choices[0].ID != "choice-1" {
		t.Errorf("result choices = %+v, want the unchanged opening choices", res.Choices)
	}

	cur := h.engine.CurrentSession().CurrentNode
	if cur.ID == "node-opening" {
		t.Fatal("choice was not committed")
	}
	if len(cur.Choices) != 2 || cur.Choices[0].ID != "next-1" {
		t.Errorf("new node choices = %+v", cur.Choices)
	}
}

func TestTalkWithoutSession(t *testing.T) {
	h := newHarness(t, stubInfluencer{})
	if _, err := h.room.Talk(context.Background(), "你好"); !errors.Is(err, engine.ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestReset(t *testing.T) {
	h := newHarness(t, stubInfluencer{})
	ctx := context.Background()
	h.room.Start(ctx, "magic-kingdom", "storyline-1")

	if err := h.room.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if h.engine.CurrentSession() != nil || h.memory.Memory() != nil {
		t.Error("session or memory survived reset")
	}
}

func TestNoAvatar(t *testing.T) {
	log := logging.Discard()
	eng := engine.NewStoryEngine(catalog.Default(), stubGenerator{}, log)
	mem := memory.NewManager(storage.NewMemoryKV(), log)
	room := NewRoom(eng, mem, &stubResponder{reply: &dialogue.Response{Content: "好"}}, stubInfluencer{}, Character{Name: "小灵"}, log)

	ctx := context.Background()
	if _, err := room.Start(ctx, "magic-kingdom", "storyline-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := room.Choose(ctx, "choice-2"); err != nil {
		t.Fatal(err)
	}
}
