package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"presence-bridge/internal/override"
	"presence-bridge/internal/presence"
	"presence-bridge/internal/proto"
	"presence-bridge/internal/resolve"
	"presence-bridge/internal/session"
)

const (
	defaultConfigName = "config"
	defaultConfigFile = "config.yaml"
	envPrefix         = "PB"
)

type Settings struct {
	Device    DeviceSettings    `mapstructure:"device" yaml:"device"`
	Discord   DiscordSettings   `mapstructure:"discord" yaml:"discord"`
	Display   DisplaySettings   `mapstructure:"display" yaml:"display"`
	Protocol  ProtocolSettings  `mapstructure:"protocol" yaml:"protocol"`
	Overrides OverrideSettings  `mapstructure:"overrides" yaml:"overrides"`
	API       APISettings       `mapstructure:"api" yaml:"api"`
	Telemetry TelemetrySettings `mapstructure:"telemetry" yaml:"telemetry"`
	Log       LogSettings       `mapstructure:"log" yaml:"log"`
}

type DeviceSettings struct {
	// Address is an IPv4 literal or a MAC address.
	Address          string `mapstructure:"address" yaml:"address"`
	AutoConvertToMAC bool   `mapstructure:"auto_convert_to_mac" yaml:"auto_convert_to_mac"`
	SeenMACPrompt    bool   `mapstructure:"seen_mac_prompt" yaml:"seen_mac_prompt"`
}

type DiscordSettings struct {
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
}

type DisplaySettings struct {
	ShowTimer      bool   `mapstructure:"show_timer" yaml:"show_timer"`
	ShowHomeScreen bool   `mapstructure:"show_home_screen" yaml:"show_home_screen"`
	HomeScreenName string `mapstructure:"home_screen_name" yaml:"home_screen_name"`
	LargeImageKey  string `mapstructure:"large_image_key" yaml:"large_image_key"`
	LargeImageText string `mapstructure:"large_image_text" yaml:"large_image_text"`
	SmallImageKey  string `mapstructure:"small_image_key" yaml:"small_image_key"`
	State          string `mapstructure:"state" yaml:"state"`
}

type ProtocolSettings struct {
	// Layout is "packed" (id at 4, name at 12) or "aligned" (id at 8, name at 16).
	Layout         string        `mapstructure:"layout"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Backoff        time.Duration `mapstructure:"backoff"`
	ResolveRetry   time.Duration `mapstructure:"resolve_retry"`
}

// MarshalYAML writes durations in their string form so Load can read them back.
func (p ProtocolSettings) MarshalYAML() (any, error) {
	return struct {
		Layout         string `yaml:"layout"`
		Port           int    `yaml:"port"`
		ReadTimeout    string `yaml:"read_timeout"`
		ConnectTimeout string `yaml:"connect_timeout"`
		Backoff        string `yaml:"backoff"`
		ResolveRetry   string `yaml:"resolve_retry"`
	}{
		Layout:         p.Layout,
		Port:           p.Port,
		ReadTimeout:    p.ReadTimeout.String(),
		ConnectTimeout: p.ConnectTimeout.String(),
		Backoff:        p.Backoff.String(),
		ResolveRetry:   p.ResolveRetry.String(),
	}, nil
}

type OverrideSettings struct {
	NameTableURL string `mapstructure:"name_table_url" yaml:"name_table_url"`
	IDTableURL   string `mapstructure:"id_table_url" yaml:"id_table_url"`
}

type APISettings struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

type TelemetrySettings struct {
	// NDJSONPath enables the frame trace when set.
	NDJSONPath string `mapstructure:"ndjson_path" yaml:"ndjson_path"`
}

type LogSettings struct {
	Level string `mapstructure:"level" yaml:"level"`
	// Format is auto, text, logfmt or json.
	Format string `mapstructure:"format" yaml:"format"`
}

// Store reads and writes one settings file.
type Store struct {
	v    *viper.Viper
	path string
}

// NewStore searches the default locations unless path is set.
func NewStore(path string) *Store {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return &Store{v: v, path: path}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.address", "")
	v.SetDefault("device.auto_convert_to_mac", false)
	v.SetDefault("device.seen_mac_prompt", false)

	v.SetDefault("discord.client_id", "")

	v.SetDefault("display.show_timer", true)
	v.SetDefault("display.show_home_screen", true)
	v.SetDefault("display.home_screen_name", session.DefaultHomeScreenName)
	v.SetDefault("display.large_image_key", "")
	v.SetDefault("display.large_image_text", "")
	v.SetDefault("display.small_image_key", "")
	v.SetDefault("display.state", "")

	v.SetDefault("protocol.layout", "packed")
	v.SetDefault("protocol.port", proto.Port)
	v.SetDefault("protocol.read_timeout", proto.DefaultReadTimeout)
	v.SetDefault("protocol.connect_timeout", session.DefaultConnectTimeout)
	v.SetDefault("protocol.backoff", session.DefaultBackoff)
	v.SetDefault("protocol.resolve_retry", session.DefaultResolveRetry)

	v.SetDefault("overrides.name_table_url", override.DefaultNameTableURL)
	v.SetDefault("overrides.id_table_url", override.DefaultIDTableURL)

	v.SetDefault("api.listen", "127.0.0.1:8723")

	v.SetDefault("telemetry.ndjson_path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
}

// Viper exposes the underlying instance for flag binding.
func (s *Store) Viper() *viper.Viper { return s.v }

// Load reads the file if present; a missing file is not an error.
func (s *Store) Load() (Settings, error) {
	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(s.path != "" && errors.Is(err, os.ErrNotExist)) {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Settings
	if err := s.v.Unmarshal(&cfg); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Device.Address = strings.TrimSpace(cfg.Device.Address)
	cfg.Discord.ClientID = strings.TrimSpace(cfg.Discord.ClientID)
	cfg.Protocol.Layout = strings.ToLower(strings.TrimSpace(cfg.Protocol.Layout))

	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	if p := strings.TrimSpace(cfg.Telemetry.NDJSONPath); p != "" {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return Settings{}, fmt.Errorf("create telemetry dir: %w", err)
		}
	}
	return cfg, nil
}

// Path is where Save writes.
func (s *Store) Path() string {
	if s.path != "" {
		return s.path
	}
	if used := s.v.ConfigFileUsed(); used != "" {
		return used
	}
	return defaultConfigFile
}

// Save writes cfg as YAML, replacing the file atomically.
func (s *Store) Save(cfg Settings) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	path := s.Path()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks ranges and enumerations. Address and client id may be empty
// until a connect is requested.
func (cfg Settings) Validate() error {
	if _, err := proto.LayoutByName(cfg.Protocol.Layout); err != nil {
		return err
	}
	if cfg.Protocol.Port <= 0 || cfg.Protocol.Port > 65535 {
		return fmt.Errorf("invalid protocol.port %d", cfg.Protocol.Port)
	}
	for name, d := range map[string]time.Duration{
		"protocol.read_timeout":    cfg.Protocol.ReadTimeout,
		"protocol.connect_timeout": cfg.Protocol.ConnectTimeout,
		"protocol.backoff":         cfg.Protocol.Backoff,
		"protocol.resolve_retry":   cfg.Protocol.ResolveRetry,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if cfg.Device.Address != "" {
		if _, err := resolve.ParseTarget(cfg.Device.Address); err != nil {
			return fmt.Errorf("device.address: %w", err)
		}
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "auto", "text", "logfmt", "json":
	default:
		return fmt.Errorf("invalid log.format %q", cfg.Log.Format)
	}
	return nil
}

// DisplayOptions maps display settings to builder options.
func (cfg Settings) DisplayOptions() presence.Options {
	return presence.Options{
		LargeImageKey:  cfg.Display.LargeImageKey,
		LargeImageText: cfg.Display.LargeImageText,
		SmallImageKey:  cfg.Display.SmallImageKey,
		State:          cfg.Display.State,
		ShowTimestamp:  cfg.Display.ShowTimer,
	}
}

// OverrideSources maps override settings to table locations.
func (cfg Settings) OverrideSources() override.Sources {
	return override.Sources{
		NameTableURL: cfg.Overrides.NameTableURL,
		IDTableURL:   cfg.Overrides.IDTableURL,
	}
}

// SessionConfig builds the session setup for target.
func (cfg Settings) SessionConfig(target resolve.Target, runID string) session.Config {
	layout, _ := proto.LayoutByName(cfg.Protocol.Layout)
	return session.Config{
		Target:         target,
		Port:           cfg.Protocol.Port,
		Layout:         layout,
		ReadTimeout:    cfg.Protocol.ReadTimeout,
		ConnectTimeout: cfg.Protocol.ConnectTimeout,
		Backoff:        cfg.Protocol.Backoff,
		ResolveRetry:   cfg.Protocol.ResolveRetry,
		HomeScreenName: cfg.Display.HomeScreenName,
		ShowHomeScreen: cfg.Display.ShowHomeScreen,
		Display:        cfg.DisplayOptions(),
		RunID:          runID,
	}
}
