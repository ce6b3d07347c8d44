// Package secure keeps API credentials in the KV store, sealed when a secret
// key is configured, and renders them masked for display.
package secure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"soul-teller/server/internal/storage"
)

const (
	APIKeysKey       = "soul-teller-api-keys"
	XingyunConfigKey = "soul-teller-xingyun-config"

	sealedPrefix = "sealed:"
)

var (
	ErrNotConfigured = errors.New("credential not configured")
	ErrInvalidConfig = errors.New("app id, app secret and gateway server are required")
	// ErrSealed is returned when a sealed value is read without a secret key
	ErrSealed = errors.New("stored credential is sealed and no secret key is configured")
)

// APIKeys is the stored model API key record. CustomKey wins over
// ModelScopeAPIKey.
type APIKeys struct {
	ModelScopeAPIKey string `json:"modelScopeApiKey"`
	CustomKey        string `json:"customKey,omitempty"`
}

// XingyunConfig are the avatar gateway credentials
type XingyunConfig struct {
	AppID         string `json:"appId"`
	AppSecret     string `json:"appSecret"`
	GatewayServer string `json:"gatewayServer"`
}

func (c XingyunConfig) valid() bool {
	return c.AppID != "" && c.AppSecret != "" && c.GatewayServer != ""
}

// MaskedXingyunConfig is safe to return to clients. IsDefault reports that
// the values come from server configuration rather than the store.
type MaskedXingyunConfig struct {
	AppID         string `json:"appId"`
	AppSecret     string `json:"appSecret"`
	GatewayServer string `json:"gatewayServer"`
	IsDefault     bool   `json:"isDefault"`
	Configured    bool   `json:"configured"`
}

// Mask keeps the first and last four characters of values longer than eight
func Mask(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return ""
	}
	if len(r) <= 8 {
		return "***"
	}
	return string(r[:4]) + "***" + string(r[len(r)-4:])
}

type Option func(*Store)

// WithDefaults sets the credentials used when nothing is stored. They come
// from the config file or environment; there are no built-in values.
func WithDefaults(apiKey string, xingyun XingyunConfig) Option {
	return func(s *Store) {
		s.defaultAPIKey = apiKey
		s.defaultXingyun = xingyun
	}
}

// Store reads and writes credentials
type Store struct {
	kv     storage.KV
	sealer *Sealer
	logger *slog.Logger

	defaultAPIKey  string
	defaultXingyun XingyunConfig
}

// NewStore builds a store. An empty secretKey stores values as plain JSON.
func NewStore(kv storage.KV, secretKey string, logger *slog.Logger, opts ...Option) (*Store, error) {
	s := &Store{kv: kv, logger: logger.With("component", "secure")}
	if secretKey != "" {
		sealer, err := NewSealer(secretKey)
		if err != nil {
			return nil, err
		}
		s.sealer = sealer
	} else {
		s.logger.Warn("no secret key configured, credentials are stored unsealed")
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) load(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	if strings.HasPrefix(raw, sealedPrefix) {
		if s.sealer == nil {
			return false, ErrSealed
		}
		raw, err = s.sealer.Open(strings.TrimPrefix(raw, sealedPrefix))
		if err != nil {
			return false, fmt.Errorf("failed to open %s: %w", key, err)
		}
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	value := string(data)
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(value)
		if err != nil {
			return err
		}
		value = sealedPrefix + sealed
	}
	if err := s.kv.Set(ctx, key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// ModelScopeAPIKey returns the effective key: stored custom key, stored key,
// then the configured default.
func (s *Store) ModelScopeAPIKey(ctx context.Context) (string, error) {
	var keys APIKeys
	if _, err := s.load(ctx, APIKeysKey, &keys); err != nil {
		return "", err
	}
	switch {
	case keys.CustomKey != "":
		return keys.CustomKey, nil
	case keys.ModelScopeAPIKey != "":
		return keys.ModelScopeAPIKey, nil
	case s.defaultAPIKey != "":
		return s.defaultAPIKey, nil
	}
	return "", ErrNotConfigured
}

// SetModelScopeAPIKey stores key as the custom key
func (s *Store) SetModelScopeAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrNotConfigured
	}
	var keys APIKeys
	if _, err := s.load(ctx, APIKeysKey, &keys); err != nil {
		s.logger.Warn("replacing unreadable api key record", "error", err)
		keys = APIKeys{}
	}
	keys.CustomKey = key
	return s.save(ctx, APIKeysKey, keys)
}

// ResetAPIKey drops the custom key
func (s *Store) ResetAPIKey(ctx context.Context) error {
	var keys APIKeys
	found, err := s.load(ctx, APIKeysKey, &keys)
	if err != nil || !found {
		return s.kv.Del(ctx, APIKeysKey)
	}
	keys.CustomKey = ""
	return s.save(ctx, APIKeysKey, keys)
}

// MaskedAPIKey returns the masked effective key, or "" when none is set
func (s *Store) MaskedAPIKey(ctx context.Context) string {
	key, err := s.ModelScopeAPIKey(ctx)
	if err != nil {
		return ""
	}
	return Mask(key)
}

// XingyunConfig returns the stored gateway credentials, falling back to the
// configured defaults.
func (s *Store) XingyunConfig(ctx context.Context) (XingyunConfig, bool, error) {
	var cfg XingyunConfig
	found, err := s.load(ctx, XingyunConfigKey, &cfg)
	if err != nil {
		return XingyunConfig{}, false, err
	}
	if found && cfg.valid() {
		return cfg, false, nil
	}
	if s.defaultXingyun.valid() {
		return s.defaultXingyun, true, nil
	}
	return XingyunConfig{}, false, ErrNotConfigured
}

func (s *Store) SetXingyunConfig(ctx context.Context, cfg XingyunConfig) error {
	cfg.AppID = strings.TrimSpace(cfg.AppID)
	cfg.AppSecret = strings.TrimSpace(cfg.AppSecret)
	cfg.GatewayServer = strings.TrimSpace(cfg.GatewayServer)
	if !cfg.valid() {
		return ErrInvalidConfig
	}
	return s.save(ctx, XingyunConfigKey, cfg)
}

func (s *Store) ResetXingyunConfig(ctx context.Context) error {
	return s.kv.Del(ctx, XingyunConfigKey)
}

func (s *Store) MaskedXingyunConfig(ctx context.Context) MaskedXingyunConfig {
	cfg, isDefault, err := s.XingyunConfig(ctx)
	if err != nil {
		return MaskedXingyunConfig{}
	}
	return MaskedXingyunConfig{
		AppID:         Mask(cfg.AppID),
		AppSecret:     Mask(cfg.AppSecret),
		GatewayServer: cfg.GatewayServer,
		IsDefault:     isDefault,
		Configured:    true,
	}
}

// ClearAll removes every stored credential
func (s *Store) ClearAll(ctx context.Context) error {
	return s.kv.Del(ctx, APIKeysKey, XingyunConfigKey)
}
