package settings

import (
	"context"
	"errors"
	"testing"

	"soul-teller/server/internal/logging"
	"soul-teller/server/internal/storage"
)

func TestLoadDefaults(t *testing.T) {
	s := NewStore(storage.NewMemoryKV(), logging.Discard())
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != Defaults() {
		t.Errorf("Load = %+v, want defaults", got)
	}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	s := NewStore(kv, logging.Discard())

	want := UIState{CurrentView: ViewPlayRoom, IsSettingsOpen: true}
	if err := s.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	raw, _ := kv.Get(ctx, StorageKey)
	if raw != `{"state":{"currentView":"playroom","isSettingsOpen":true},"version":2}` {
		t.Errorf("stored = %s", raw)
	}
	if got, _ := s.Load(ctx); got != want {
		t.Errorf("Load = %+v, want %+v", got, want)
	}

	if err := s.Save(ctx, UIState{CurrentView: "home"}); !errors.Is(err, ErrInvalidView) {
		t.Errorf("Save(home) err = %v, want ErrInvalidView", err)
	}
}

func TestLoadMigrates(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"old version", `{"state":{"currentView":"playroom","isSettingsOpen":true},"version":1}`},
		{"no version", `{"state":{"currentView":"settings","isSettingsOpen":true}}`},
		{"invalid view", `{"state":{"currentView":"home","isSettingsOpen":true},"version":2}`},
		{"garbage", `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			kv := storage.NewMemoryKV()
			kv.Set(ctx, StorageKey, tt.raw)
			s := NewStore(kv, logging.Discard())

			got, err := s.Load(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if got.CurrentView != ViewStoryHub || got.IsSettingsOpen {
				t.Errorf("Load = %+v, want storyhub with settings closed", got)
			}
			raw, _ := kv.Get(ctx, StorageKey)
			if raw != `{"state":{"currentView":"storyhub","isSettingsOpen":false},"version":2}` {
				t.Errorf("migrated state not written back: %s", raw)
			}
		})
	}
}
