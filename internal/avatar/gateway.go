package avatar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

const readyTimeout = 10 * time.Second

// gatewayCommand is written to the gateway as a JSON text frame
type gatewayCommand struct {
	Cmd       string `json:"cmd"`
	AppID     string `json:"appId,omitempty"`
	AppSecret string `json:"appSecret,omitempty"`
	Text      string `json:"text,omitempty"`
	SSML      bool   `json:"ssml,omitempty"`
	IsStart   bool   `json:"isStart,omitempty"`
	IsEnd     bool   `json:"isEnd,omitempty"`
	Action    string `json:"action,omitempty"`
	Online    *bool  `json:"online,omitempty"`
}

// gatewayEvent is read from the gateway
type gatewayEvent struct {
	Type    string `json:"type"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// GatewayBridge talks to the avatar gateway over a websocket
type GatewayBridge struct {
	logger *slog.Logger
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc

	state     atomic.String
	connected atomic.Bool
	voice     chan VoiceState
}

func NewGatewayBridge(logger *slog.Logger) *GatewayBridge {
	return &GatewayBridge{
		logger: logger.With("component", "avatar"),
		dialer: websocket.DefaultDialer,
		voice:  make(chan VoiceState, 16),
	}
}

// Connect dials the gateway, authenticates and waits for the ready event.
// Errors never include the raw secret.
func (g *GatewayBridge) Connect(ctx context.Context, cfg Config) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.connected.Load() {
		return nil
	}
	g.state.Store(string(StateConnecting))

	diag := fmt.Sprintf("gateway=%s appId=%s appSecret=%s", cfg.GatewayServer, cfg.AppID, MaskSecret(cfg.AppSecret))
	fail := func(format string, err error) error {
		g.state.Store(string(StateError))
		g.logger.Error("avatar connect failed", "diagnostic", diag, "error", err)
		return fmt.Errorf(format+" (%s): %w", diag, err)
	}

	if cfg.GatewayServer == "" || cfg.AppID == "" || cfg.AppSecret == "" {
		return fail("invalid avatar config", errors.New("gateway server, app id and app secret are required"))
	}

	conn, _, err := g.dialer.DialContext(ctx, cfg.GatewayServer, http.Header{"User-Agent": {"soul-teller"}})
	if err != nil {
		return fail("failed to connect to avatar gateway", err)
	}

	auth := gatewayCommand{Cmd: "init", AppID: cfg.AppID, AppSecret: cfg.AppSecret}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return fail("failed to send auth", err)
	}

	conn.SetReadDeadline(time.Now().Add(readyTimeout))
	var ev gatewayEvent
	if err := conn.ReadJSON(&ev); err != nil {
		conn.Close()
		return fail("avatar gateway did not become ready", err)
	}
	if ev.Type != "ready" {
		conn.Close()
		return fail("avatar gateway rejected init", fmt.Errorf("%s: %s", ev.Type, ev.Message))
	}
	conn.SetReadDeadline(time.Time{})

	readCtx, cancel := context.WithCancel(context.Background())
	g.conn = conn
	g.cancel = cancel
	g.connected.Store(true)
	g.state.Store(string(StateConnected))

	go g.readEvents(readCtx, conn)

	g.logger.Info("avatar connected", "diagnostic", diag)
	return nil
}

func (g *GatewayBridge) readEvents(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		g.mu.Lock()
		if g.conn == conn {
			g.connected.Store(false)
		}
		g.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var ev gatewayEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() == nil && err != io.EOF && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.state.Store(string(StateError))
				g.logger.Warn("avatar gateway read failed", "error", err)
			}
			return
		}

		switch ev.Type {
		case "voice_state":
			v := VoiceState(ev.Status)
			if v != VoiceStart && v != VoiceEnd {
				continue
			}
			select {
			case g.voice <- v:
			default:
				// nobody is waiting; drop
			}
		case "error":
			g.state.Store(string(StateError))
			g.logger.Warn("avatar gateway error", "message", ev.Message)
		}
	}
}

// Disconnect closes the connection. It is safe to call more than once.
func (g *GatewayBridge) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	var err error
	if g.conn != nil {
		g.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = g.conn.Close()
		g.conn = nil
	}
	g.connected.Store(false)
	g.state.Store(string(StateDisconnected))
	return err
}

func (g *GatewayBridge) State() ConnectionState {
	return ConnectionState(g.state.Load())
}

func (g *GatewayBridge) VoiceEvents() <-chan VoiceState {
	return g.voice
}

func (g *GatewayBridge) send(cmd gatewayCommand) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected.Load() || g.conn == nil {
		return ErrNotConnected
	}
	if err := g.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd.Cmd, err)
	}
	return nil
}

func (g *GatewayBridge) Speak(text string) error {
	return g.send(gatewayCommand{Cmd: "speak", Text: text, IsStart: true, IsEnd: true})
}

func (g *GatewayBridge) SpeakStream(text string, isStart, isEnd bool) error {
	return g.send(gatewayCommand{Cmd: "speak", Text: text, IsStart: isStart, IsEnd: isEnd})
}

func (g *GatewayBridge) SpeakSSML(ssml string, isStart, isEnd bool) error {
	return g.send(gatewayCommand{Cmd: "speak", Text: ssml, SSML: true, IsStart: isStart, IsEnd: isEnd})
}

func (g *GatewayBridge) Idle() error            { return g.action("idle") }
func (g *GatewayBridge) Listen() error          { return g.action("listen") }
func (g *GatewayBridge) Think() error           { return g.action("think") }
func (g *GatewayBridge) InteractiveIdle() error { return g.action("interactive_idle") }

func (g *GatewayBridge) action(name string) error {
	return g.send(gatewayCommand{Cmd: "action", Action: name})
}

func (g *GatewayBridge) OnlineMode() error  { return g.mode(true) }
func (g *GatewayBridge) OfflineMode() error { return g.mode(false) }

func (g *GatewayBridge) mode(online bool) error {
	return g.send(gatewayCommand{Cmd: "mode", Online: &online})
}

// compile-time check
var _ Bridge = (*GatewayBridge)(nil)

