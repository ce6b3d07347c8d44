// Package mock provides a test double for avatar.Bridge.
//
// Every call is recorded. With AutoVoice set, each utterance that ends
// (Speak, or a SpeakStream/SpeakSSML with isEnd) emits VoiceStart then
// VoiceEnd, so avatar.WaitForSpeechEnd returns immediately.
package mock

import (
	"context"
	"sync"

	"soul-teller/server/internal/avatar"
)

// Call records a single method invocation.
type Call struct {
	Method  string
	Text    string
	IsStart bool
	IsEnd   bool
}

// Bridge is a mock implementation of avatar.Bridge.
type Bridge struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, is returned from Connect.
	ConnectErr error

	// SpeakErr, if non-nil, is returned from the Speak methods.
	SpeakErr error

	AutoVoice bool

	Calls  []Call
	Config avatar.Config

	state avatar.ConnectionState
	voice chan avatar.VoiceState
}

func New() *Bridge {
	return &Bridge{voice: make(chan avatar.VoiceState, 64)}
}

func (b *Bridge) record(c Call) {
	b.mu.Lock()
	b.Calls = append(b.Calls, c)
	b.mu.Unlock()
}

func (b *Bridge) Connect(_ context.Context, cfg avatar.Config) error {
	b.record(Call{Method: "Connect"})
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Config = cfg
	if b.ConnectErr != nil {
		b.state = avatar.StateError
		return b.ConnectErr
	}
	b.state = avatar.StateConnected
	return nil
}

func (b *Bridge) Disconnect() error {
	b.record(Call{Method: "Disconnect"})
	b.mu.Lock()
	b.state = avatar.StateDisconnected
	b.mu.Unlock()
	return nil
}

func (b *Bridge) State() avatar.ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) speak(method, text string, isStart, isEnd bool) error {
	b.record(Call{Method: method, Text: text, IsStart: isStart, IsEnd: isEnd})
	b.mu.Lock()
	err, auto := b.SpeakErr, b.AutoVoice
	b.mu.Unlock()
	if err != nil {
		return err
	}
	if auto && isEnd {
		b.Emit(avatar.VoiceStart)
		b.Emit(avatar.VoiceEnd)
	}
	return nil
}

func (b *Bridge) Speak(text string) error {
	return b.speak("Speak", text, true, true)
}

func (b *Bridge) SpeakStream(text string, isStart, isEnd bool) error {
	return b.speak("SpeakStream", text, isStart, isEnd)
}

func (b *Bridge) SpeakSSML(ssml string, isStart, isEnd bool) error {
	return b.speak("SpeakSSML", ssml, isStart, isEnd)
}

func (b *Bridge) Idle() error            { b.record(Call{Method: "Idle"}); return nil }
func (b *Bridge) Listen() error          { b.record(Call{Method: "Listen"}); return nil }
func (b *Bridge) Think() error           { b.record(Call{Method: "Think"}); return nil }
func (b *Bridge) InteractiveIdle() error { b.record(Call{Method: "InteractiveIdle"}); return nil }
func (b *Bridge) OnlineMode() error      { b.record(Call{Method: "OnlineMode"}); return nil }
func (b *Bridge) OfflineMode() error     { b.record(Call{Method: "OfflineMode"}); return nil }

func (b *Bridge) VoiceEvents() <-chan avatar.VoiceState {
	return b.voice
}

// Emit pushes a voice event as if the avatar reported it. Events are dropped
// when the buffer is full.
func (b *Bridge) Emit(v avatar.VoiceState) {
	select {
	case b.voice <- v:
	default:
	}
}

// Methods returns the recorded method names in order.
func (b *Bridge) Methods() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.Calls))
	for i, c := range b.Calls {
		out[i] = c.Method
	}
	return out
}

// Recorded returns a copy of the recorded calls.
func (b *Bridge) Recorded() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.Calls...)
}

var _ avatar.Bridge = (*Bridge)(nil)
