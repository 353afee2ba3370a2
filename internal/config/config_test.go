package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func newFlags(cfg *Config) *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddCommonFlags(flags, cfg)
	AddServeFlags(flags, cfg)
	AddPeerFlags(flags, cfg)
	return flags
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	flags := newFlags(cfg)
	if err := flags.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := Load(flags); err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != 8080 || cfg.Bind != "0.0.0.0" {
		t.Errorf("unexpected listen defaults %s:%d", cfg.Bind, cfg.Port)
	}
	if cfg.Debounce != 500*time.Millisecond || cfg.SyncStall != 5*time.Second {
		t.Errorf("unexpected timing defaults %v %v", cfg.Debounce, cfg.SyncStall)
	}
	if err := cfg.ValidateServe(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEnvironmentFillsUnsetFlags(t *testing.T) {
	t.Setenv("SHOWDISCORD_PORT", "9090")
	t.Setenv("SHOWDISCORD_MAX_PLAYERS", "6")
	t.Setenv("SHOWDISCORD_DEBOUNCE", "250ms")
	t.Setenv("SHOWDISCORD_LOG_LEVEL", "debug")
	t.Setenv("SHOWDISCORD_BIND", "127.0.0.1")

	cfg := &Config{}
	flags := newFlags(cfg)
	if err := flags.Parse([]string{"--bind", "10.0.0.1"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := Load(flags); err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("expected port from env, got %d", cfg.Port)
	}
	if cfg.MaxPlayers != 6 {
		t.Errorf("expected max players from env, got %d", cfg.MaxPlayers)
	}
	if cfg.Debounce != 250*time.Millisecond {
		t.Errorf("expected debounce from env, got %v", cfg.Debounce)
	}
	if cfg.Bind != "10.0.0.1" {
		t.Errorf("command line should win over env, got %s", cfg.Bind)
	}
	if level, _ := cfg.Level(); level != zerolog.DebugLevel {
		t.Errorf("expected debug level, got %v", level)
	}
}

func TestInvalidEnvironmentValue(t *testing.T) {
	t.Setenv("SHOWDISCORD_PORT", "not-a-port")

	cfg := &Config{}
	flags := newFlags(cfg)
	if err := flags.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := Load(flags); err == nil {
		t.Error("expected error for malformed port")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			LogLevel:    "info",
			Port:        8080,
			IdleTimeout: time.Minute,
			Retention:   time.Hour,
			RelayURL:    "http://localhost:8080",
			Session:     "abc",
			Debounce:    time.Second,
			SyncStall:   time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		serveOK bool
		peerOK  bool
	}{
		{"valid", func(*Config) {}, true, true},
		{"bad port", func(c *Config) { c.Port = 70000 }, false, true},
		{"negative max players", func(c *Config) { c.MaxPlayers = -1 }, false, true},
		{"half discord credentials", func(c *Config) { c.DiscordClientID = "id" }, false, true},
		{"missing session", func(c *Config) { c.Session = "" }, true, false},
		{"zero debounce", func(c *Config) { c.Debounce = 0 }, true, false},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			if err := cfg.ValidateServe(); (err == nil) != tt.serveOK {
				t.Errorf("ValidateServe() = %v, want ok=%v", err, tt.serveOK)
			}
			if err := cfg.ValidatePeer(); (err == nil) != tt.peerOK {
				t.Errorf("ValidatePeer() = %v, want ok=%v", err, tt.peerOK)
			}
		})
	}
}

func TestBaseURL(t *testing.T) {
	cfg := Config{Bind: "0.0.0.0", Port: 8080}
	if got := cfg.BaseURL(); got != "http://localhost:8080" {
		t.Errorf("unexpected base url %s", got)
	}
	cfg.PublicURL = "https://quiz.example.com/"
	if got := cfg.BaseURL(); got != "https://quiz.example.com" {
		t.Errorf("unexpected public url %s", got)
	}
	if got := cfg.Addr(); got != "0.0.0.0:8080" {
		t.Errorf("unexpected addr %s", got)
	}
}
