package models

import (
	"time"
)

// Mood is the character's current emotional tone
type Mood string

const (
	MoodHappy     Mood = "happy"
	MoodSad       Mood = "sad"
	MoodExcited   Mood = "excited"
	MoodCalm      Mood = "calm"
	MoodSurprised Mood = "surprised"
	MoodWorried   Mood = "worried"
)

// Sentiment is the polarity of an emotion analysis
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// CharacterState holds the persona scalars, each in [0,100]
type CharacterState struct {
	Mood       Mood `json:"mood"`
	Energy     int  `json:"energy"`
	Trust      int  `json:"trust"`
	Engagement int  `json:"engagement"`
}

// StatePatch is a partial update of CharacterState
type StatePatch struct {
	Mood       *Mood
	Energy     *int
	Trust      *int
	Engagement *int
}

// ContextMemory shadows where the user is in the story.
// Visited nodes are read from the session, not stored here.
type ContextMemory struct {
	CurrentWorldID     string `json:"currentWorldId"`
	CurrentStorylineID string `json:"currentStorylineId"`
	CurrentNodeID      string `json:"currentNodeId"`
	TotalChoices       int    `json:"totalChoices"`
	TotalInteractions  int    `json:"totalInteractions"`
}

// UserChoice is a choice as remembered by the character
type UserChoice struct {
	NodeID     string    `json:"nodeId"`
	ChoiceID   string    `json:"choiceId"`
	ChoiceText string    `json:"choiceText"`
	Timestamp  time.Time `json:"timestamp"`
}

// Role is the speaker of a dialogue message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// DialogueMessage is one line of user/character conversation
type DialogueMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Emotion   string    `json:"emotion,omitempty"`
}

// CharacterMemory is the persisted persona blob
type CharacterMemory struct {
	SessionID        string            `json:"sessionId"`
	CharacterName    string            `json:"characterName"`
	CharacterPersona string            `json:"characterPersona"`
	State            CharacterState    `json:"state"`
	Context          ContextMemory     `json:"context"`
	Choices          []UserChoice      `json:"choices"`
	DialogueHistory  []DialogueMessage `json:"dialogueHistory"`
	KeyMemories      []string          `json:"keyMemories"`
	LastUpdate       time.Time         `json:"lastUpdate"`
}

// EmotionAnalysis is the classification of a user utterance
type EmotionAnalysis struct {
	Primary    string    `json:"primary"`
	Confidence float64   `json:"confidence"`
	Sentiment  Sentiment `json:"sentiment"`
	Keywords   []string  `json:"keywords"`
}

// StrategyAction is what the character does in reply
type StrategyAction string

const (
	ActionSpeak      StrategyAction = "speak"
	ActionThinkFirst StrategyAction = "think_first"
	ActionListenMore StrategyAction = "listen_more"
	ActionCelebrate  StrategyAction = "celebrate"
	ActionComfort    StrategyAction = "comfort"
)

// ResponseStyle is the register of the reply
type ResponseStyle string

const (
	StyleNarrative      ResponseStyle = "narrative"
	StyleConversational ResponseStyle = "conversational"
	StyleDramatic       ResponseStyle = "dramatic"
	StyleMysterious     ResponseStyle = "mysterious"
)

// ResponseStrategy tells the dialogue layer how to answer
type ResponseStrategy struct {
	Action        StrategyAction `json:"action"`
	Emotion       Mood           `json:"emotion,omitempty"`
	SSMLAction    string         `json:"ssmlAction,omitempty"`
	ResponseStyle ResponseStyle  `json:"responseStyle"`
}
