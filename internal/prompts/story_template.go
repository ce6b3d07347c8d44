package prompts

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"soul-teller/server/internal/models"
)

// Template names
const (
	StorySystem      = "story_system"
	WorldContext     = "world_context"
	ChoicesSystem    = "choice_generation_system"
	ChoicesUser      = "choice_generation_user"
	OpeningSystem    = "opening_system"
	OpeningUser      = "opening_user"
	OpeningFallback  = "opening_fallback"
	EmotionSystem    = "emotion_system"
	EmotionUser      = "emotion_user"
	DialogueSystem   = "dialogue_system"
	DialogueScene    = "dialogue_scene"
	DialogueUser     = "dialogue_user"
	DialogueStream   = "dialogue_stream_user"
	FallbackWithUser = "fallback_narrative_user"
	FallbackDefault  = "fallback_narrative"
)

var varRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Vars holds the values substituted into a template
type Vars map[string]string

// TemplateEngine manages prompt templates
type TemplateEngine struct {
	templates map[string]*Template
	mu        sync.RWMutex
}

// Template represents a prompt template with variables
type Template struct {
	Name        string   `json:"name"`
	Content     string   `json:"content"`
	Variables   []string `json:"variables"`
	Description string   `json:"description"`
}

// NewTemplateEngine creates a new template engine
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		templates: make(map[string]*Template),
	}
}

// NewDefaultEngine returns an engine with the built-in templates registered
func NewDefaultEngine() *TemplateEngine {
	e := NewTemplateEngine()
	// built-in templates are static and always valid
	_ = e.InitializeDefaultTemplates()
	return e
}

// RegisterTemplate registers a template, replacing one with the same name
func (e *TemplateEngine) RegisterTemplate(tmpl *Template) error {
	if tmpl == nil || tmpl.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if len(tmpl.Variables) == 0 {
		tmpl.Variables = ParseTemplateVariables(tmpl.Content)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[tmpl.Name] = tmpl
	return nil
}

// GetTemplate retrieves a template by name
func (e *TemplateEngine) GetTemplate(name string) (*Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tmpl, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	return tmpl, nil
}

// Render renders a template. Placeholders without a value in vars are kept.
func (e *TemplateEngine) Render(templateName string, vars Vars) (string, error) {
	tmpl, err := e.GetTemplate(templateName)
	if err != nil {
		return "", err
	}

	return varRegex.ReplaceAllStringFunc(tmpl.Content, func(match string) string {
		name := varRegex.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	}), nil
}

// MustRender is Render for the built-in templates
func (e *TemplateEngine) MustRender(templateName string, vars Vars) string {
	out, err := e.Render(templateName, vars)
	if err != nil {
		panic(err)
	}
	return out
}

// InitializeDefaultTemplates registers the story, dialogue and analysis templates
func (e *TemplateEngine) InitializeDefaultTemplates() error {
	for _, tmpl := range defaultTemplates() {
		if err := e.RegisterTemplate(tmpl); err != nil {
			return fmt.Errorf("failed to register template %s: %w", tmpl.Name, err)
		}
	}
	return nil
}

// ParseTemplateVariables extracts variables from a template, sorted
func ParseTemplateVariables(templateContent string) []string {
	matches := varRegex.FindAllStringSubmatch(templateContent, -1)

	unique := make(map[string]bool)
	for _, match := range matches {
		if len(match) > 1 {
			unique[match[1]] = true
		}
	}

	vars := make([]string, 0, len(unique))
	for v := range unique {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

// ExportTemplate exports a template as JSON
func (e *TemplateEngine) ExportTemplate(name string) (string, error) {
	tmpl, err := e.GetTemplate(name)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(tmpl, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal template: %w", err)
	}
	return string(data), nil
}

// ImportTemplate imports a template from JSON
func (e *TemplateEngine) ImportTemplate(jsonData string) error {
	var tmpl Template
	if err := json.Unmarshal([]byte(jsonData), &tmpl); err != nil {
		return fmt.Errorf("failed to unmarshal template: %w", err)
	}

	tmpl.Variables = ParseTemplateVariables(tmpl.Content)
	return e.RegisterTemplate(&tmpl)
}

// CharacterRoster renders "- name：personality" lines
func CharacterRoster(chars []models.CharacterProfile) string {
	lines := make([]string, len(chars))
	for i, c := range chars {
		lines[i] = fmt.Sprintf("- %s：%s", c.Name, c.Personality)
	}
	return strings.Join(lines, "\n")
}

// WorldVars maps a world context onto the world_context and opening templates
func WorldVars(wc *models.WorldContext) Vars {
	return Vars{
		"worldview":     wc.Worldview,
		"characters":    CharacterRoster(wc.Characters),
		"core_conflict": wc.CoreConflict,
		"atmosphere":    wc.Atmosphere,
	}
}
