package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Radio.CreditBudget != 10000 {
		t.Fatalf("expected default credit budget 10000, got %d", cfg.Radio.CreditBudget)
	}
	if cfg.Radio.RecommendationLimit != 50 || cfg.Radio.MinEnergy != 0.4 || cfg.Radio.MinPopularity != 30 {
		t.Fatalf("unexpected recommendation defaults: %+v", cfg.Radio)
	}
	if cfg.Retry.MaxAttempts != 1 {
		t.Fatalf("expected retries disabled by default, got %d attempts", cfg.Retry.MaxAttempts)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftfm.yaml")
	data := []byte(`
http:
  port: 9090
tts:
  mode: mock
radio:
  credit_budget: 500
  channels_file: ./channels.yaml
poller:
  interval_ms: 2000
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.TTS.Mode != "mock" {
		t.Fatalf("expected mock tts, got %q", cfg.TTS.Mode)
	}
	if cfg.Radio.CreditBudget != 500 || cfg.Radio.ChannelsFile != "./channels.yaml" {
		t.Fatalf("unexpected radio config: %+v", cfg.Radio)
	}
	if cfg.Poller.IntervalMS != 2000 {
		t.Fatalf("expected poll interval 2000, got %d", cfg.Poller.IntervalMS)
	}
	if cfg.Radio.MinPopularity != 30 {
		t.Fatalf("expected untouched defaults to survive, got %d", cfg.Radio.MinPopularity)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DRIFT_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("DRIFT_BUS_USERNAME", "alice")
	t.Setenv("DRIFT_BUS_PASSWORD", "secret")
	t.Setenv("DRIFT_BUS_TLS_INSECURE", "true")
	t.Setenv("DRIFT_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("DRIFT_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("DRIFT_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("DRIFT_TTS_API_KEY", "xi-key")
	t.Setenv("DRIFT_TTS_STABILITY", "0.75")
	t.Setenv("DRIFT_SPOTIFY_ACCESS_TOKEN", "token-1")
	t.Setenv("DRIFT_RADIO_CREDIT_BUDGET", "2500")
	t.Setenv("DRIFT_RADIO_INTRO_FALLBACK_MS", "0")
	t.Setenv("DRIFT_RADIO_RESUME_LAST_CHANNEL", "true")
	t.Setenv("DRIFT_RETRY_MAX_ATTEMPTS", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.TTS.APIKey != "xi-key" || cfg.TTS.Stability != 0.75 {
		t.Fatalf("expected tts overrides, got %+v", cfg.TTS)
	}
	if cfg.Spotify.AccessToken != "token-1" {
		t.Fatalf("expected spotify token override")
	}
	if cfg.Radio.CreditBudget != 2500 {
		t.Fatalf("expected credit budget override, got %d", cfg.Radio.CreditBudget)
	}
	if cfg.Radio.IntroFallbackMS != 0 || !cfg.Radio.ResumeLastChannel {
		t.Fatalf("expected intro fallback and resume overrides, got %+v", cfg.Radio)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("expected retry override, got %d", cfg.Retry.MaxAttempts)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad tts mode", func(c *Config) { c.TTS.Mode = "festival" }},
		{"exec without command", func(c *Config) { c.TTS.Mode = "exec" }},
		{"zero budget", func(c *Config) { c.Radio.CreditBudget = 0 }},
		{"recommendation limit too high", func(c *Config) { c.Radio.RecommendationLimit = 101 }},
		{"energy out of range", func(c *Config) { c.Radio.MinEnergy = 1.5 }},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"bad log level", func(c *Config) { c.Telemetry.LogLevel = "loud" }},
		{"bad retention", func(c *Config) { c.EventStore.RetentionMode = "forever" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
