// Package playroom coordinates one play session across the story engine,
// character memory, dialogue and the avatar.
package playroom

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"soul-teller/server/internal/avatar"
	"soul-teller/server/internal/catalog"
	"soul-teller/server/internal/dialogue"
	"soul-teller/server/internal/engine"
	"soul-teller/server/internal/generator"
	"soul-teller/server/internal/memory"
	"soul-teller/server/internal/models"
)

// ChoiceInfluencer revises a node's choices after a side conversation
type ChoiceInfluencer interface {
	InfluenceChoices(ctx context.Context, node *models.StoryNode, userDialogue, aiResponse string) (*generator.Response, error)
}

// ChoiceWriter writes fresh choices for a node without touching its narrative
type ChoiceWriter interface {
	GenerateChoices(ctx context.Context, node *models.StoryNode, userContext string, n int) []models.StoryChoice
}

// OpeningWriter writes an opening narration for a world
type OpeningWriter interface {
	GenerateOpening(ctx context.Context, world *models.StoryWorld, storyline *models.Storyline) string
}

// ErrNoChoiceWriter is returned by RegenerateChoices when the room has no
// choice writer
var ErrNoChoiceWriter = errors.New("choice generation is not configured")

// Responder produces dialogue replies
type Responder interface {
	Respond(ctx context.Context, input string, dctx *dialogue.Context) *dialogue.Response
}

// Character is the persona the memory is initialized with
type Character struct {
	Name    string
	Persona string
}

// TalkResult is the reply plus the choices now on the current node
type TalkResult struct {
	Reply   *dialogue.Response   `json:"reply"`
	Choices []models.StoryChoice `json:"choices"`
}

type Option func(*Room)

// WithAvatar narrates through b when it is connected
func WithAvatar(b avatar.Bridge, speechTimeout time.Duration) Option {
	return func(r *Room) {
		r.avatar = b
		r.speechTimeout = speechTimeout
	}
}

// WithGeneratedOpening has the avatar read a model-written opening for the
// world before the storyline's first node
func WithGeneratedOpening(w OpeningWriter, cat *catalog.Catalog) Option {
	return func(r *Room) {
		r.opening = w
		r.catalog = cat
	}
}

// WithChoiceWriter sets the writer behind RegenerateChoices. NewRoom uses the
// influencer when it can write choices.
func WithChoiceWriter(w ChoiceWriter) Option {
	return func(r *Room) {
		r.choices = w
	}
}

type Room struct {
	engine     *engine.StoryEngine
	memory     *memory.Manager
	responder  Responder
	influencer ChoiceInfluencer
	character  Character
	logger     *slog.Logger

	avatar        avatar.Bridge
	speechTimeout time.Duration

	choices ChoiceWriter
	opening OpeningWriter
	catalog *catalog.Catalog
}

func NewRoom(eng *engine.StoryEngine, mem *memory.Manager, responder Responder, influencer ChoiceInfluencer, character Character, logger *slog.Logger, opts ...Option) *Room {
	r := &Room{
		engine:        eng,
		memory:        mem,
		responder:     responder,
		influencer:    influencer,
		character:     character,
		logger:        logger.With("component", "playroom"),
		speechTimeout: avatar.DefaultSpeechTimeout,
	}
	if w, ok := influencer.(ChoiceWriter); ok {
		r.choices = w
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start opens a session, initializes the character memory for it and has
// the avatar greet the player and read the opening.
func (r *Room) Start(ctx context.Context, worldID, storylineID string) (*models.InteractionSession, error) {
	session, err := r.engine.StartSession(ctx, worldID, storylineID)
	if err != nil {
		return nil, err
	}
	if err := r.memory.Initialize(ctx, session.ID, r.character.Name, r.character.Persona, worldID, storylineID); err != nil {
		r.logger.Warn("failed to initialize character memory", "session_id", session.ID, "error", err)
	}
	if session.CurrentNode != nil {
		r.logIfErr("update current node", r.memory.UpdateCurrentNode(ctx, session.CurrentNode.ID))
	}

	if r.avatarReady() {
		r.say(ctx, func() error { return r.avatar.SpeakSSML(avatar.WelcomeSSML(r.character.Name), true, true) })
		r.readOpening(ctx, session)
		if session.CurrentNode != nil {
			r.narrate(ctx, session.CurrentNode.Content.Narrative)
		}
	}
	return session, nil
}

// Choose takes a choice on the current node, records it in memory and has
// the avatar read the new narrative, waiting for it to finish.
func (r *Room) Choose(ctx context.Context, choiceID string) (*models.StoryNode, error) {
	before := r.engine.CurrentSession()
	if r.avatarReady() {
		r.avatar.Think()
	}

	node, err := r.engine.HandleChoice(ctx, choiceID, true)
	if err != nil {
		if r.avatarReady() {
			r.avatar.InteractiveIdle()
		}
		return nil, err
	}

	if before != nil && before.CurrentNode != nil {
		if c, ok := before.CurrentNode.FindChoice(choiceID); ok {
			r.logIfErr("record choice", r.memory.RecordChoice(ctx, before.CurrentNode.ID, choiceID, c.Text))
		}
	}
	r.logIfErr("update current node", r.memory.UpdateCurrentNode(ctx, node.ID))

	if r.avatarReady() {
		r.narrate(ctx, node.Content.Narrative)
		r.avatar.InteractiveIdle()
	}
	return node, nil
}

// Talk answers free text in character, then lets the conversation reshape
// the current node's choices.
func (r *Room) Talk(ctx context.Context, input string) (*TalkResult, error) {
	session := r.engine.CurrentSession()
	if session == nil {
		return nil, &engine.InvalidStateError{Op: "talk", Err: engine.ErrNoSession}
	}
	node := session.CurrentNode
	if node == nil {
		return nil, &engine.InvalidStateError{Op: "talk", Err: engine.ErrNoCurrentNode}
	}

	dctx := &dialogue.Context{NodeContent: node.Content.Narrative}
	for _, c := range node.Choices {
		dctx.Choices = append(dctx.Choices, c.Text)
	}

	if r.avatarReady() {
		r.avatar.Think()
	}
	reply := r.responder.Respond(ctx, input, dctx)

	if r.avatarReady() {
		r.say(ctx, func() error { return r.avatar.SpeakSSML(reply.SSML, true, true) })
		switch reply.NewState {
		case dialogue.AvatarListen:
			r.avatar.Listen()
		case dialogue.AvatarThink:
			r.avatar.Think()
		default:
			r.avatar.InteractiveIdle()
		}
	}

	result := &TalkResult{Reply: reply, Choices: node.Choices}
	influenced, err := r.influencer.InfluenceChoices(ctx, node, input, reply.Content)
	if err != nil {
		r.logger.Warn("choice influence failed", "error", err)
		return result, nil
	}
	if _, err := r.engine.UpdateCurrentNodeChoices(ctx, node.ID, influenced.Choices); err != nil {
		r.logger.Warn("keeping current choices", "error", err)
		return result, nil
	}
	result.Choices = influenced.Choices
	return result, nil
}

// RegenerateChoices replaces the current node's choices with n freshly
// written ones. The result is dropped if the node changed meanwhile.
func (r *Room) RegenerateChoices(ctx context.Context, userContext string, n int) (*models.StoryNode, error) {
	if r.choices == nil {
		return nil, ErrNoChoiceWriter
	}
	session := r.engine.CurrentSession()
	if session == nil {
		return nil, &engine.InvalidStateError{Op: "regenerate choices", Err: engine.ErrNoSession}
	}
	if session.CurrentNode == nil {
		return nil, &engine.InvalidStateError{Op: "regenerate choices", Err: engine.ErrNoCurrentNode}
	}

	node := session.CurrentNode
	choices := r.choices.GenerateChoices(ctx, node, userContext, n)
	return r.engine.UpdateCurrentNodeChoices(ctx, node.ID, choices)
}

// Reset drops the session and the character memory
func (r *Room) Reset(ctx context.Context) error {
	if err := r.engine.ResetSession(); err != nil {
		return err
	}
	return r.memory.Clear(ctx)
}

func (r *Room) avatarReady() bool {
	return r.avatar != nil && r.avatar.State() == avatar.StateConnected
}

// readOpening narrates a generated world opening. A writer that fell back to
// the storyline's own first narrative is skipped since that is read next.
func (r *Room) readOpening(ctx context.Context, session *models.InteractionSession) {
	if r.opening == nil || r.catalog == nil {
		return
	}
	world, ok := r.catalog.World(session.WorldID)
	if !ok {
		return
	}
	storyline, _ := r.catalog.Storyline(session.WorldID, session.StorylineID)
	opening := r.opening.GenerateOpening(ctx, world, storyline)
	if session.CurrentNode != nil && opening == session.CurrentNode.Content.Narrative {
		return
	}
	r.narrate(ctx, opening)
}

func (r *Room) narrate(ctx context.Context, narrative string) {
	if strings.TrimSpace(narrative) == "" {
		return
	}
	r.say(ctx, func() error { return avatar.SpeakChunked(r.avatar, narrative, avatar.DefaultChunkLength) })
}

// say runs speak and waits for the avatar to finish, giving up after the
// speech timeout
func (r *Room) say(ctx context.Context, speak func() error) {
	if err := speak(); err != nil {
		r.logger.Warn("avatar speak failed", "error", err)
		return
	}
	err := avatar.WaitForSpeechEnd(ctx, r.avatar, r.speechTimeout)
	if errors.Is(err, avatar.ErrSpeechTimeout) {
		r.logger.Warn("speech did not end in time, continuing", "timeout", r.speechTimeout)
	} else if err != nil {
		r.logger.Debug("stopped waiting for speech", "error", err)
	}
}

func (r *Room) logIfErr(what string, err error) {
	if err != nil && !errors.Is(err, memory.ErrNotInitialized) {
		r.logger.Warn("memory update failed", "op", what, "error", err)
	}
}
