// Package settings persists the small piece of UI state the client restores
// on reload.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"soul-teller/server/internal/storage"
)

const (
	StorageKey     = "soul-teller-ui-storage"
	CurrentVersion = 2
)

// View is the page the client shows
type View string

const (
	ViewStoryHub View = "storyhub"
	ViewPlayRoom View = "playroom"
	ViewSettings View = "settings"
)

var ErrInvalidView = errors.New("invalid view")

func (v View) Valid() bool {
	switch v {
	case ViewStoryHub, ViewPlayRoom, ViewSettings:
		return true
	}
	return false
}

// UIState is the persisted state
type UIState struct {
	CurrentView    View `json:"currentView"`
	IsSettingsOpen bool `json:"isSettingsOpen"`
}

func Defaults() UIState {
	return UIState{CurrentView: ViewStoryHub}
}

// envelope matches the client's persisted layout
type envelope struct {
	State   UIState `json:"state"`
	Version int     `json:"version"`
}

type Store struct {
	kv     storage.KV
	logger *slog.Logger
}

func NewStore(kv storage.KV, logger *slog.Logger) *Store {
	return &Store{kv: kv, logger: logger.With("component", "settings")}
}

// Load returns the stored state. Older versions and invalid views are
// migrated to the defaults and written back.
func (s *Store) Load(ctx context.Context) (UIState, error) {
	raw, err := s.kv.Get(ctx, StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return Defaults(), nil
	}
	if err != nil {
		return UIState{}, fmt.Errorf("failed to read ui state: %w", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		s.logger.Warn("discarding unreadable ui state", "error", err)
		return s.reset(ctx)
	}
	if env.Version < CurrentVersion || !env.State.CurrentView.Valid() {
		s.logger.Info("migrating ui state", "from", env.Version, "to", CurrentVersion)
		return s.reset(ctx)
	}
	return env.State, nil
}

func (s *Store) reset(ctx context.Context) (UIState, error) {
	state := Defaults()
	if err := s.Save(ctx, state); err != nil {
		return state, err
	}
	return state, nil
}

func (s *Store) Save(ctx context.Context, state UIState) error {
	if !state.CurrentView.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidView, state.CurrentView)
	}
	data, err := json.Marshal(envelope{State: state, Version: CurrentVersion})
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, StorageKey, string(data)); err != nil {
		return fmt.Errorf("failed to write ui state: %w", err)
	}
	return nil
}
