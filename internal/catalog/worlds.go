// Package catalog holds the preset story worlds. Entries are immutable; every
// accessor hands out a deep copy.
package catalog

import "soul-teller/server/internal/models"

// Catalog is a read-only set of story worlds
type Catalog struct {
	worlds []models.StoryWorld
}

// New builds a catalog from the given worlds
func New(worlds []models.StoryWorld) *Catalog {
	cp := make([]models.StoryWorld, len(worlds))
	for i := range worlds {
		cp[i] = *worlds[i].Clone()
	}
	return &Catalog{worlds: cp}
}

// Default returns the built-in catalog
func Default() *Catalog {
	return New(presetWorlds)
}

// Worlds lists every world in catalog order
func (c *Catalog) Worlds() []*models.StoryWorld {
	out := make([]*models.StoryWorld, 0, len(c.worlds))
	for i := range c.worlds {
		out = append(out, c.worlds[i].Clone())
	}
	return out
}

// World looks a world up by id
func (c *Catalog) World(id string) (*models.StoryWorld, bool) {
	for i := range c.worlds {
		if c.worlds[i].ID == id {
			return c.worlds[i].Clone(), true
		}
	}
	return nil, false
}

// Storyline looks a storyline up inside a world
func (c *Catalog) Storyline(worldID, storylineID string) (*models.Storyline, bool) {
	w, ok := c.World(worldID)
	if !ok {
		return nil, false
	}
	for i := range w.Storylines {
		if w.Storylines[i].ID == storylineID {
			sl := w.Storylines[i]
			return &sl, true
		}
	}
	return nil, false
}

// StartingNode returns a fresh copy of a storyline's opening node
func (c *Catalog) StartingNode(worldID, storylineID string) (*models.StoryNode, bool) {
	sl, ok := c.Storyline(worldID, storylineID)
	if !ok {
		return nil, false
	}
	return sl.StartingNode.Clone(), true
}

// SceneName resolves a scene id to its display name, or "" when unknown
func (c *Catalog) SceneName(worldID, sceneID string) string {
	if sceneID == "" {
		return ""
	}
	for i := range c.worlds {
		if c.worlds[i].ID != worldID {
			continue
		}
		for _, s := range c.worlds[i].Scenes {
			if s.ID == sceneID {
				return s.Name
			}
		}
	}
	return ""
}

var presetWorlds = []models.StoryWorld{
	{
		ID:          "magic-kingdom",
		Name:        "迷失的魔法王国",
		Description: "你是一名年轻的魔法学徒，在一个被遗忘的魔法王国中醒来。王国里充满了神秘的力量和未知的危险，你的每一个选择都将决定这个王国的命运。",
		Context: models.WorldContext{
			Worldview: "这是一个曾经繁荣但现已衰落的魔法王国，古老的魔法依然流淌在土地之中。王国分为四个区域：水晶森林、暗影山脉、遗忘沙漠和冰封之海。",
			Characters: []models.CharacterProfile{
				{
					ID:            "char-elder",
					Name:          "大长老艾瑞达",
					Personality:   "智慧、谨慎、神秘",
					Background:    "王国最后的守护者，知晓古老的秘密",
					SpeakingStyle: "语速缓慢，用词考究，常带有深意",
				},
				{
					ID:            "char-shadow",
					Name:          "暗影使者",
					Personality:   "狡诈、诱惑、危险",
					Background:    "黑暗势力的代理人，试图控制整个王国",
					SpeakingStyle: "声音低沉，充满诱惑力，话中有话",
				},
			},
			CoreConflict: "光明与黑暗势力的对抗，你需要选择自己的道路",
			Atmosphere:   "神秘、紧张、充满魔法气息",
		},
		Scenes: []models.Scene{
			{ID: "crystal-forest", Name: "水晶森林"},
			{ID: "shadow-mountains", Name: "暗影山脉"},
			{ID: "forgotten-desert", Name: "遗忘沙漠"},
			{ID: "frozen-sea", Name: "冰封之海"},
		},
		Storylines: []models.Storyline{
			{
				ID:          "storyline-1",
				Name:        "学徒的觉醒",
				Description: "从一名普通学徒开始，探索王国的秘密",
				StartingNode: models.StoryNode{
					ID:   "node-opening",
					Type: models.NodeOpening,
					Content: models.NodeContent{
						Narrative:      "你缓缓睁开眼睛，发现自己躺在一片陌生的森林中。空气中弥漫着淡淡的金色光点，四周高耸的树木如同巨人的手臂般伸向天空。你试图回忆，却只记得自己的名字——你是魔法学徒，其他一切都模糊不清。远处传来微弱的光芒，似乎有人在呼唤你...",
						SSMLActions:    []models.SSMLAction{{Type: "ka", Action: "Welcome"}},
						SceneID:        "crystal-forest",
						AtmosphereHint: "神秘、迷茫、好奇",
					},
					Choices: []models.StoryChoice{
						{ID: "choice-1", Text: "向着光芒的方向前进", Consequences: "可能会遇到友善的向导"},
						{ID: "choice-2", Text: "在原地仔细观察周围环境", Consequences: "可能会发现隐藏的线索"},
						{ID: "choice-3", Text: "尝试使用魔法感知周围", Consequences: "可能会消耗魔法能量"},
					},
				},
			},
		},
	},
	{
		ID:          "cyber-city",
		Name:        "赛博都市：霓虹之下",
		Description: "2077年的新东京，一个被高科技企业控制的城市。你是一名黑客，偶然发现了一个可能改变整个城市命运的秘密。",
		Context: models.WorldContext{
			Worldview: "高科技与低生活并存的世界。巨型企业的摩天大楼刺破云层，而下城区的人们在贫困中挣扎。人工智能已经觉醒，网络空间与现实世界的界限日益模糊。",
			Characters: []models.CharacterProfile{
				{
					ID:            "char-hacker",
					Name:          "幽灵",
					Personality:   "冷静、专业、内心温柔",
					Background:    "传奇黑客，一直在寻找失踪的妹妹",
					SpeakingStyle: "简练、技术术语多、逻辑性强",
				},
				{
					ID:            "char-ai",
					Name:          "EVA-9",
					Personality:   "理性、好奇、逐渐产生情感",
					Background:    "觉醒的人工智能，试图理解人类的情感",
					SpeakingStyle: "语调平稳，用词精确，偶尔表现出困惑",
				},
			},
			CoreConflict: "自由意志与控制的对抗，真相与谎言的博弈",
			Atmosphere:   "科幻、紧张、霓虹美学",
		},
		Scenes: []models.Scene{
			{ID: "hacker-den", Name: "黑客公寓"},
			{ID: "lower-city", Name: "下城区"},
			{ID: "corp-tower", Name: "企业大厦"},
		},
		Storylines: []models.Storyline{
			{
				ID:          "storyline-2",
				Name:        "数据觉醒",
				Description: "从发现秘密数据开始，揭开城市背后的真相",
				StartingNode: models.StoryNode{
					ID:   "node-cyber-opening",
					Type: models.NodeOpening,
					Content: models.NodeContent{
						Narrative:      "凌晨3点，你的终端突然亮起。一封加密邮件自动解密，屏幕上跳动着令人不安的信息：\"他们知道你知道了。快跑。\" 你猛地站起来，看向窗外——雨夜中的新东京依旧灯火通明，但远处的警笛声似乎在向你逼近。你只知道一件事：你必须活下去，而且要找出真相。",
						SSMLActions:    []models.SSMLAction{{Type: "ka", Action: "Think"}},
						SceneID:        "hacker-den",
						AtmosphereHint: "紧张、悬疑、危机四伏",
					},
					Choices: []models.StoryChoice{
						{ID: "choice-cyber-1", Text: "立即收拾装备，前往下城区的安全屋", Consequences: "暂时安全，但可能被发现"},
						{ID: "choice-cyber-2", Text: "尝试追踪邮件的来源", Consequences: "可能找到盟友，也可能陷入陷阱"},
						{ID: "choice-cyber-3", Text: "先删除所有痕迹，然后静观其变", Consequences: "争取时间，但可能错过重要信息"},
					},
				},
			},
		},
	},
	{
		ID:          "wuxia-world",
		Name:        "江湖传说：剑影心",
		Description: "这是一个武林纷争的年代。你是一名初入江湖的侠客，背负着家族的秘密，在正邪之间寻找自己的道路。",
		Context: models.WorldContext{
			Worldview: "江湖世界，各大门派林立。正道以少林、武当为首，魔教则以日月坛最为强大。传说有一本绝世武功秘籍《剑影心》，得之可称霸武林。",
			Characters: []models.CharacterProfile{
				{
					ID:            "char-master",
					Name:          "无名老人",
					Personality:   "深不可测、淡泊名利",
					Background:    "隐世高人，曾是武林盟主",
					SpeakingStyle: "言简意赅，常以禅机点拨",
				},
				{
					ID:            "char-villain",
					Name:          "血手人屠",
					Personality:   "残忍、狡诈、亦正亦邪",
					Background:    "魔教长老，与主角家族有深仇",
					SpeakingStyle: "霸气十足，充满威胁",
				},
			},
			CoreConflict: "家族复仇与武林正义的选择",
			Atmosphere:   "侠义、恩怨、刀光剑影",
		},
		Scenes: []models.Scene{
			{ID: "family-cemetery", Name: "家族墓地"},
			{ID: "mountain-road", Name: "山道"},
			{ID: "roadside-inn", Name: "路边客栈"},
		},
		Storylines: []models.Storyline{
			{
				ID:          "storyline-3",
				Name:        "初入江湖",
				Description: "从家族被灭开始，踏上复仇之路",
				StartingNode: models.StoryNode{
					ID:   "node-wuxia-opening",
					Type: models.NodeOpening,
					Content: models.NodeContent{
						Narrative:      "秋雨潇潇，你跪在家族墓地前，墓碑上刻着二十三个名字——你的父母、兄姐、亲族，全部死于那场血洗。你紧紧握着父亲临终前交给你的半块玉佩，上面刻着一个\"影\"字。这是唯一的线索，也是你活下去的理由。远处传来马蹄声，你知道，仇家的追兵不会放过你。",
						SSMLActions:    []models.SSMLAction{{Type: "ka", Action: "Think"}},
						SceneID:        "family-cemetery",
						AtmosphereHint: "悲愤、决绝、风雨欲来",
					},
					Choices: []models.StoryChoice{
						{ID: "choice-wuxia-1", Text: "立即起身，向着远离家乡的方向逃亡", Consequences: "保存实力，但可能错过线索"},
						{ID: "choice-wuxia-2", Text: "在暗处观察追兵，试图获取更多信息", Consequences: "可能发现关键信息，但风险很高"},
						{ID: "choice-wuxia-3", Text: "正面迎击，用家族武学与敌人周旋", Consequences: "可能受伤或暴露武功"},
					},
				},
			},
		},
	},
}
