package secure

import (
	"context"
	"errors"
	"strings"
	"testing"

	"soul-teller/server/internal/logging"
	"soul-teller/server/internal/storage"
)

func newTestStore(t *testing.T, kv storage.KV, secret string, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(kv, secret, logging.Discard(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestMask(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abc", "***"},
		{"12345678", "***"},
		{"123456789", "1234***6789"},
		{"ms-abcd-0000-wxyz", "ms-a***wxyz"},
	}
	for _, tt := range tests {
		if got := Mask(tt.in); got != tt.want {
			t.Errorf("Mask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer("secret")
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := s.Seal("hello")
	if err != nil {
		t.Fatal(err)
	}
	if sealed == "hello" || strings.Contains(sealed, "hello") {
		t.Errorf("Seal did not hide plaintext: %q", sealed)
	}
	got, err := s.Open(sealed)
	if err != nil || got != "hello" {
		t.Errorf("Open = %q, %v", got, err)
	}

	other, _ := NewSealer("other")
	if _, err := other.Open(sealed); err == nil {
		t.Error("Open with wrong key returned nil error")
	}
	if _, err := s.Open("!!"); err == nil {
		t.Error("Open(garbage) returned nil error")
	}
}

func TestAPIKeyPrecedence(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()

	bare := newTestStore(t, kv, "k")
	if _, err := bare.ModelScopeAPIKey(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("no key: err = %v, want ErrNotConfigured", err)
	}
	if got := bare.MaskedAPIKey(ctx); got != "" {
		t.Errorf("MaskedAPIKey = %q, want empty", got)
	}

	s := newTestStore(t, kv, "k", WithDefaults("default-key-0001", XingyunConfig{}))
	if got, _ := s.ModelScopeAPIKey(ctx); got != "default-key-0001" {
		t.Errorf("default key = %q", got)
	}

	if err := s.SetModelScopeAPIKey(ctx, "  custom-key-9999 "); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.ModelScopeAPIKey(ctx); got != "custom-key-9999" {
		t.Errorf("custom key = %q", got)
	}
	if got := s.MaskedAPIKey(ctx); got != "cust***9999" {
		t.Errorf("MaskedAPIKey = %q", got)
	}

	raw, _ := kv.Get(ctx, APIKeysKey)
	if !strings.HasPrefix(raw, sealedPrefix) || strings.Contains(raw, "custom-key") {
		t.Errorf("stored value not sealed: %q", raw)
	}

	if err := s.ResetAPIKey(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.ModelScopeAPIKey(ctx); got != "default-key-0001" {
		t.Errorf("after reset key = %q", got)
	}

	if err := s.SetModelScopeAPIKey(ctx, " "); err == nil {
		t.Error("SetModelScopeAPIKey(blank) returned nil error")
	}
}

func TestUnsealedStore(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	s := newTestStore(t, kv, "")

	if err := s.SetModelScopeAPIKey(ctx, "plain-key-1234"); err != nil {
		t.Fatal(err)
	}
	raw, _ := kv.Get(ctx, APIKeysKey)
	if raw != `{"modelScopeApiKey":"","customKey":"plain-key-1234"}` {
		t.Errorf("stored = %q", raw)
	}

	sealed := newTestStore(t, storage.NewMemoryKV(), "k")
	sealed.SetModelScopeAPIKey(ctx, "secret-key-0000")
	sealedRaw, _ := sealed.kv.Get(ctx, APIKeysKey)
	kv.Set(ctx, APIKeysKey, sealedRaw)
	if _, err := s.ModelScopeAPIKey(ctx); !errors.Is(err, ErrSealed) {
		t.Errorf("reading sealed value without key: err = %v, want ErrSealed", err)
	}
}

func TestXingyunConfig(t *testing.T) {
	ctx := context.Background()
	defaults := XingyunConfig{AppID: "default-app-id-01", AppSecret: "default-secret-01", GatewayServer: "wss://gw"}
	s := newTestStore(t, storage.NewMemoryKV(), "k", WithDefaults("", defaults))

	cfg, isDefault, err := s.XingyunConfig(ctx)
	if err != nil || !isDefault || cfg != defaults {
		t.Errorf("XingyunConfig = %+v, %v, %v", cfg, isDefault, err)
	}

	if err := s.SetXingyunConfig(ctx, XingyunConfig{AppID: "x"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("partial config: err = %v", err)
	}

	custom := XingyunConfig{AppID: "abcd1111wxyz", AppSecret: "secr2222cret", GatewayServer: "wss://custom"}
	if err := s.SetXingyunConfig(ctx, custom); err != nil {
		t.Fatal(err)
	}
	masked := s.MaskedXingyunConfig(ctx)
	want := MaskedXingyunConfig{AppID: "abcd***wxyz", AppSecret: "secr***cret", GatewayServer: "wss://custom", Configured: true}
	if masked != want {
		t.Errorf("MaskedXingyunConfig = %+v, want %+v", masked, want)
	}

	if err := s.ResetXingyunConfig(ctx); err != nil {
		t.Fatal(err)
	}
	if _, isDefault, _ := s.XingyunConfig(ctx); !isDefault {
		t.Error("after reset config is not default")
	}

	empty := newTestStore(t, storage.NewMemoryKV(), "")
	if _, _, err := empty.XingyunConfig(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("no config: err = %v", err)
	}
	if got := empty.MaskedXingyunConfig(ctx); got.Configured {
		t.Errorf("MaskedXingyunConfig = %+v, want unconfigured", got)
	}
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	s := newTestStore(t, kv, "k")
	s.SetModelScopeAPIKey(ctx, "key-12345678")
	s.SetXingyunConfig(ctx, XingyunConfig{AppID: "a", AppSecret: "b", GatewayServer: "c"})

	if err := s.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}
	if keys, _ := kv.Keys(ctx, "soul-teller-"); len(keys) != 0 {
		t.Errorf("keys left: %v", keys)
	}
}
