// Package avatar drives the digital human that narrates the story.
package avatar

import (
	"context"
	"errors"
	"time"
)

// ConnectionState of a bridge
type ConnectionState string

const (
	StateDisconnected ConnectionState = ""
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// VoiceState is reported by the avatar whenever speech starts or ends
type VoiceState string

const (
	VoiceStart VoiceState = "start"
	VoiceEnd   VoiceState = "end"
)

// DefaultSpeechTimeout bounds WaitForSpeechEnd when no timeout is given
const DefaultSpeechTimeout = 30 * time.Second

var (
	ErrNotConnected  = errors.New("avatar not connected")
	ErrSpeechTimeout = errors.New("timed out waiting for speech end")
)

// Config holds the gateway connection parameters
type Config struct {
	GatewayServer string
	AppID         string
	AppSecret     string
}

// Bridge is the control surface of the avatar
type Bridge interface {
	Connect(ctx context.Context, cfg Config) error
	Disconnect() error
	State() ConnectionState

	// Speak says text in one utterance
	Speak(text string) error
	// SpeakStream sends one piece of a multi-part utterance
	SpeakStream(text string, isStart, isEnd bool) error
	SpeakSSML(ssml string, isStart, isEnd bool) error

	Idle() error
	Listen() error
	Think() error
	InteractiveIdle() error
	OnlineMode() error
	OfflineMode() error

	VoiceEvents() <-chan VoiceState
}

// WaitForSpeechEnd blocks until the bridge reports VoiceEnd. It returns
// ErrSpeechTimeout once timeout elapses; callers are expected to carry on.
func WaitForSpeechEnd(ctx context.Context, b Bridge, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultSpeechTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	events := b.VoiceEvents()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrSpeechTimeout
		case v, ok := <-events:
			if !ok {
				return ErrNotConnected
			}
			if v == VoiceEnd {
				return nil
			}
		}
	}
}

// SpeakChunked splits text into sentence chunks and streams them as one
// utterance.
func SpeakChunked(b Bridge, text string, maxChunkLength int) error {
	chunks := ChunkText(text, maxChunkLength)
	for i, c := range chunks {
		if err := b.SpeakStream(c.Text, i == 0, i == len(chunks)-1); err != nil {
			return err
		}
	}
	return nil
}

// MaskSecret keeps the first and last four characters of s
func MaskSecret(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return "empty"
	}
	if len(r) <= 8 {
		return "***"
	}
	return string(r[:4]) + "***" + string(r[len(r)-4:])
}
