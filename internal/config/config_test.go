package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"presence-bridge/internal/proto"
	"presence-bridge/internal/resolve"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "config.yaml"))
	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Protocol.Port != proto.Port || cfg.Protocol.Layout != "packed" {
		t.Fatalf("protocol=%+v", cfg.Protocol)
	}
	if cfg.Protocol.ReadTimeout != 5500*time.Millisecond || cfg.Protocol.Backoff != 5*time.Second {
		t.Fatalf("timeouts=%+v", cfg.Protocol)
	}
	if cfg.Display.HomeScreenName != "Home Menu" || !cfg.Display.ShowHomeScreen || !cfg.Display.ShowTimer {
		t.Fatalf("display=%+v", cfg.Display)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PB_PROTOCOL_LAYOUT", "aligned")
	t.Setenv("PB_DISCORD_CLIENT_ID", "1234567890")
	t.Setenv("PB_PROTOCOL_BACKOFF", "3s")

	cfg, err := NewStore(filepath.Join(t.TempDir(), "config.yaml")).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Protocol.Layout != "aligned" || cfg.Discord.ClientID != "1234567890" || cfg.Protocol.Backoff != 3*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
	sc := cfg.SessionConfig(resolve.Target{}, "run-1")
	if sc.Layout != proto.AlignedLayout {
		t.Fatalf("layout=%+v", sc.Layout)
	}
}

func TestLoad_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "protocol:\n  layout: sideways\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewStore(path).Load(); err == nil {
		t.Fatalf("expected layout error")
	}

	body = "device:\n  address: not-an-address\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewStore(path).Load(); err == nil || !strings.Contains(err.Error(), "device.address") {
		t.Fatalf("err=%v", err)
	}
}

func TestSave_PersistsSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	s := NewStore(path)
	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Device.Address = "AA:BB:CC:DD:EE:FF"
	cfg.Device.AutoConvertToMAC = true
	cfg.Device.SeenMACPrompt = true
	cfg.Discord.ClientID = "1234567890"
	cfg.Display.State = "on the couch"
	cfg.Protocol.ReadTimeout = 7 * time.Second

	if err := s.Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), "read_timeout: 7s") {
		t.Fatalf("durations not written as strings:\n%s", raw)
	}

	got, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Device != cfg.Device || got.Discord != cfg.Discord || got.Display != cfg.Display || got.Protocol != cfg.Protocol {
		t.Fatalf("reloaded=%+v want %+v", got, cfg)
	}
}

func TestSettings_DisplayOptions(t *testing.T) {
	var cfg Settings
	cfg.Display.LargeImageKey = "key"
	cfg.Display.ShowTimer = true
	opts := cfg.DisplayOptions()
	if opts.LargeImageKey != "key" || !opts.ShowTimestamp {
		t.Fatalf("opts=%+v", opts)
	}
}
