package avatar

import "strings"

// ActionType selects the ue4event kind embedded in SSML
type ActionType string

const (
	ActionKA       ActionType = "ka"
	ActionKAIntent ActionType = "ka_intent"
)

// Action is a body animation attached to speech. Semantic is used with
// ActionKA and Intent with ActionKAIntent.
type Action struct {
	Type     ActionType
	Semantic string
	Intent   string
}

// BuildSSML wraps text in <speak>, prefixed with the action event if any
func BuildSSML(text string, action *Action) string {
	var b strings.Builder
	b.WriteString("<speak>")
	if action != nil {
		switch {
		case action.Type == ActionKA && action.Semantic != "":
			b.WriteString("<ue4event><type>ka</type><data><action_semantic>")
			b.WriteString(action.Semantic)
			b.WriteString("</action_semantic></data></ue4event>")
		case action.Type == ActionKAIntent && action.Intent != "":
			b.WriteString("<ue4event><type>ka_intent</type><data><ka_intent>")
			b.WriteString(action.Intent)
			b.WriteString("</ka_intent></data></ue4event>")
		}
	}
	b.WriteString(text)
	b.WriteString("</speak>")
	return b.String()
}

// WelcomeSSML greets the player, naming the character when known
func WelcomeSSML(characterName string) string {
	text := "欢迎来到灵魂讲述者，我是您的专属故事伴侣。"
	if characterName != "" {
		text = "欢迎来到" + characterName + "的故事世界，我是您的专属讲述者。"
	}
	return BuildSSML(text, &Action{Type: ActionKA, Semantic: "Welcome"})
}

func ThinkingSSML(text string) string {
	return BuildSSML(text, &Action{Type: ActionKAIntent, Intent: "Think"})
}

func HappySSML(text string) string {
	return BuildSSML(text, &Action{Type: ActionKA, Semantic: "Happy"})
}

func SadSSML(text string) string {
	return BuildSSML(text, &Action{Type: ActionKA, Semantic: "Sad"})
}
