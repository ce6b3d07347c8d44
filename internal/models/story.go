package models

// NodeType classifies a story node
type NodeType string

const (
	NodeOpening NodeType = "opening"
	NodeBranch  NodeType = "branch"
	NodeEnding  NodeType = "ending"
)

// StoryWorld is a themed setting bundle from the static catalog
type StoryWorld struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Context     WorldContext `json:"context"`
	Storylines  []Storyline  `json:"storylines"`
	Scenes      []Scene      `json:"scenes,omitempty"`
}

// WorldContext carries the flavor text fed to the story prompt
type WorldContext struct {
	Worldview    string             `json:"worldview"`
	Characters   []CharacterProfile `json:"characters"`
	CoreConflict string             `json:"coreConflict"`
	Atmosphere   string             `json:"atmosphere"`
}

// CharacterProfile describes one member of a world's cast
type CharacterProfile struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Personality   string `json:"personality"`
	Background    string `json:"background"`
	SpeakingStyle string `json:"speakingStyle"`
}

// Scene is a named location inside a world
type Scene struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Storyline is one branching thread with a fixed starting node
type Storyline struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	StartingNode StoryNode `json:"startingNode"`
}

// StoryNode is one beat of narrative plus its outgoing choices
type StoryNode struct {
	ID             string        `json:"id"`
	Type           NodeType      `json:"type"`
	Content        NodeContent   `json:"content"`
	Choices        []StoryChoice `json:"choices"`
	ParentChoiceID string        `json:"parentChoiceId,omitempty"`
}

// NodeContent holds what the avatar narrates for a node
type NodeContent struct {
	Narrative      string       `json:"narrative"`
	SSMLActions    []SSMLAction `json:"ssmlActions,omitempty"`
	SceneID        string       `json:"sceneId,omitempty"`
	AtmosphereHint string       `json:"atmosphereHint,omitempty"`
}

// SSMLAction is an avatar action cue attached to narration
type SSMLAction struct {
	Type   string `json:"type"` // "ka" | "ka_intent" | "gesture"
	Action string `json:"action"`
}

// StoryChoice is a labeled option that advances the story
type StoryChoice struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	Consequences  string `json:"consequences"`
	IsAIGenerated bool   `json:"isAIGenerated"`
	NextNodeID    string `json:"nextNodeId,omitempty"`
}

// Clone returns a deep copy of the node
func (n *StoryNode) Clone() *StoryNode {
	if n == nil {
		return nil
	}
	out := *n
	out.Content.SSMLActions = append([]SSMLAction(nil), n.Content.SSMLActions...)
	out.Choices = CloneChoices(n.Choices)
	return &out
}

// FindChoice returns the choice with the given id
func (n *StoryNode) FindChoice(id string) (StoryChoice, bool) {
	for _, c := range n.Choices {
		if c.ID == id {
			return c, true
		}
	}
	return StoryChoice{}, false
}

// CloneChoices copies a choice slice
func CloneChoices(choices []StoryChoice) []StoryChoice {
	if choices == nil {
		return nil
	}
	return append([]StoryChoice(nil), choices...)
}

// Clone returns a deep copy of the world
func (w *StoryWorld) Clone() *StoryWorld {
	if w == nil {
		return nil
	}
	out := *w
	out.Context.Characters = append([]CharacterProfile(nil), w.Context.Characters...)
	out.Scenes = append([]Scene(nil), w.Scenes...)
	out.Storylines = make([]Storyline, len(w.Storylines))
	for i, sl := range w.Storylines {
		out.Storylines[i] = sl
		out.Storylines[i].StartingNode = *sl.StartingNode.Clone()
	}
	return &out
}
