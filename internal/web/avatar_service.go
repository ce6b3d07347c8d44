package web

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"soul-teller/server/internal/avatar"
	"soul-teller/server/internal/secure"
)

// AvatarStatus is reported by GET /avatar/status
type AvatarStatus struct {
	State         avatar.ConnectionState `json:"state"`
	Connected     bool                   `json:"connected"`
	GatewayServer string                 `json:"gatewayServer,omitempty"`
	UsingDefault  bool                   `json:"usingDefault"`
	ClientCount   int                    `json:"clientCount"`
}

// AvatarService connects the avatar bridge with the stored gateway
// credentials
type AvatarService struct {
	bridge  avatar.Bridge
	secrets *secure.Store
	logger  *slog.Logger

	mu           sync.RWMutex
	server       string
	usingDefault bool
}

func NewAvatarService(bridge avatar.Bridge, secrets *secure.Store, logger *slog.Logger) *AvatarService {
	return &AvatarService{
		bridge:  bridge,
		secrets: secrets,
		logger:  logger.With("component", "avatar-service"),
	}
}

// Connect reads the gateway credentials and connects the bridge
func (s *AvatarService) Connect(ctx context.Context) error {
	cfg, isDefault, err := s.secrets.XingyunConfig(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bridge.State() == avatar.StateConnected {
		return nil
	}
	if err := s.bridge.Connect(ctx, avatar.Config{
		GatewayServer: cfg.GatewayServer,
		AppID:         cfg.AppID,
		AppSecret:     cfg.AppSecret,
	}); err != nil {
		return err
	}
	if err := s.bridge.OnlineMode(); err != nil {
		s.logger.Warn("failed to switch avatar online", "error", err)
	}

	s.server = cfg.GatewayServer
	s.usingDefault = isDefault
	s.logger.Info("avatar connected", "gateway", cfg.GatewayServer, "default_credentials", isDefault)
	return nil
}

func (s *AvatarService) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bridge.State() == avatar.StateConnected {
		if err := s.bridge.OfflineMode(); err != nil {
			s.logger.Debug("failed to switch avatar offline", "error", err)
		}
	}
	if err := s.bridge.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect avatar: %w", err)
	}
	s.server = ""
	s.usingDefault = false
	return nil
}

func (s *AvatarService) Status() AvatarStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := s.bridge.State()
	return AvatarStatus{
		State:         state,
		Connected:     state == avatar.StateConnected,
		GatewayServer: s.server,
		UsingDefault:  s.usingDefault,
	}
}
