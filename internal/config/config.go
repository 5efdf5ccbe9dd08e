package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind      string `yaml:"bind"`
	Port      int    `yaml:"port"`
	PublicURL string `yaml:"public_url"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Profile     ProfileConfig    `yaml:"profile"`
	Cache       CacheConfig      `yaml:"cache"`
	Prefs       PrefsConfig      `yaml:"prefs"`
	TTS         TTSConfig        `yaml:"tts"`
	Spotify     SpotifyConfig    `yaml:"spotify"`
	Radio       RadioConfig      `yaml:"radio"`
	Poller      PollerConfig     `yaml:"poller"`
	Retry       RetryConfig      `yaml:"retry"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ProfileConfig struct {
	Path string `yaml:"path"`
}

type CacheConfig struct {
	Root string `yaml:"root"`
}

type PrefsConfig struct {
	Path string `yaml:"path"`
}

type TTSConfig struct {
	Mode            string  `yaml:"mode"` // elevenlabs, exec, mock
	Endpoint        string  `yaml:"endpoint"`
	APIKey          string  `yaml:"api_key"`
	ModelID         string  `yaml:"model_id"`
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`
	OutputFormat    string  `yaml:"output_format"`
	Command         string  `yaml:"command"`
	TimeoutMS       int     `yaml:"timeout_ms"`
}

type SpotifyConfig struct {
	APIBase      string `yaml:"api_base"`
	AccountsBase string `yaml:"accounts_base"`
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

type RadioConfig struct {
	ChannelsFile        string  `yaml:"channels_file"`
	CreditBudget        int     `yaml:"credit_budget"`
	RecommendationLimit int     `yaml:"recommendation_limit"`
	MinEnergy           float64 `yaml:"min_energy"`
	MinPopularity       int     `yaml:"min_popularity"`
	SelectTimeoutMS     int     `yaml:"select_timeout_ms"`
	IntroFallbackMS     int     `yaml:"intro_fallback_ms"` // 0 waits for the device
	ResumeLastChannel   bool    `yaml:"resume_last_channel"`
}

type PollerConfig struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMS int  `yaml:"interval_ms"`
	TimeoutMS  int  `yaml:"timeout_ms"`
	QueueEvery int  `yaml:"queue_every"`
}

type RetryConfig struct {
	MaxAttempts       int `yaml:"max_attempts"`
	InitialIntervalMS int `yaml:"initial_interval_ms"`
	MaxIntervalMS     int `yaml:"max_interval_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "driftfm-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/drift-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Profile: ProfileConfig{
			Path: "./data/drift-profiles.db",
		},
		Cache: CacheConfig{
			Root: "./data/cache",
		},
		Prefs: PrefsConfig{
			Path: "~/.config/driftfm/prefs.toml",
		},
		TTS: TTSConfig{
			Mode:            "elevenlabs",
			Endpoint:        "https://api.elevenlabs.io",
			ModelID:         "eleven_monolingual_v1",
			Stability:       0.5,
			SimilarityBoost: 0.5,
			OutputFormat:    "mp3",
			TimeoutMS:       30000,
		},
		Spotify: SpotifyConfig{
			APIBase:      "https://api.spotify.com",
			AccountsBase: "https://accounts.spotify.com",
			TimeoutMS:    10000,
		},
		Radio: RadioConfig{
			CreditBudget:        10000,
			RecommendationLimit: 50,
			MinEnergy:           0.4,
			MinPopularity:       30,
			SelectTimeoutMS:     60000,
			IntroFallbackMS:     60000,
		},
		Poller: PollerConfig{
			Enabled:    true,
			IntervalMS: 1000,
			TimeoutMS:  800,
			QueueEvery: 10,
		},
		Retry: RetryConfig{
			MaxAttempts:       1,
			InitialIntervalMS: 250,
			MaxIntervalMS:     2000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "DRIFT_RUNTIME_NAME")
	overrideString(&cfg.Environment, "DRIFT_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "DRIFT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "DRIFT_HTTP_PORT")
	overrideString(&cfg.HTTP.PublicURL, "DRIFT_HTTP_PUBLIC_URL")
	overrideString(&cfg.Telemetry.LogLevel, "DRIFT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "DRIFT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "DRIFT_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "DRIFT_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "DRIFT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "DRIFT_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "DRIFT_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "DRIFT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "DRIFT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "DRIFT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "DRIFT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "DRIFT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "DRIFT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "DRIFT_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "DRIFT_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "DRIFT_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "DRIFT_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "DRIFT_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Profile.Path, "DRIFT_PROFILE_PATH")
	overrideString(&cfg.Cache.Root, "DRIFT_CACHE_ROOT")
	overrideString(&cfg.Prefs.Path, "DRIFT_PREFS_PATH")
	overrideString(&cfg.TTS.Mode, "DRIFT_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "DRIFT_TTS_ENDPOINT")
	overrideString(&cfg.TTS.APIKey, "DRIFT_TTS_API_KEY")
	overrideString(&cfg.TTS.ModelID, "DRIFT_TTS_MODEL_ID")
	overrideFloat(&cfg.TTS.Stability, "DRIFT_TTS_STABILITY")
	overrideFloat(&cfg.TTS.SimilarityBoost, "DRIFT_TTS_SIMILARITY_BOOST")
	overrideString(&cfg.TTS.OutputFormat, "DRIFT_TTS_OUTPUT_FORMAT")
	overrideString(&cfg.TTS.Command, "DRIFT_TTS_COMMAND")
	overrideInt(&cfg.TTS.TimeoutMS, "DRIFT_TTS_TIMEOUT_MS")
	overrideString(&cfg.Spotify.APIBase, "DRIFT_SPOTIFY_API_BASE")
	overrideString(&cfg.Spotify.AccountsBase, "DRIFT_SPOTIFY_ACCOUNTS_BASE")
	overrideString(&cfg.Spotify.AccessToken, "DRIFT_SPOTIFY_ACCESS_TOKEN")
	overrideString(&cfg.Spotify.RefreshToken, "DRIFT_SPOTIFY_REFRESH_TOKEN")
	overrideString(&cfg.Spotify.ClientID, "DRIFT_SPOTIFY_CLIENT_ID")
	overrideString(&cfg.Spotify.ClientSecret, "DRIFT_SPOTIFY_CLIENT_SECRET")
	overrideInt(&cfg.Spotify.TimeoutMS, "DRIFT_SPOTIFY_TIMEOUT_MS")
	overrideString(&cfg.Radio.ChannelsFile, "DRIFT_RADIO_CHANNELS_FILE")
	overrideInt(&cfg.Radio.CreditBudget, "DRIFT_RADIO_CREDIT_BUDGET")
	overrideInt(&cfg.Radio.RecommendationLimit, "DRIFT_RADIO_RECOMMENDATION_LIMIT")
	overrideFloat(&cfg.Radio.MinEnergy, "DRIFT_RADIO_MIN_ENERGY")
	overrideInt(&cfg.Radio.MinPopularity, "DRIFT_RADIO_MIN_POPULARITY")
	overrideInt(&cfg.Radio.SelectTimeoutMS, "DRIFT_RADIO_SELECT_TIMEOUT_MS")
	overrideInt(&cfg.Radio.IntroFallbackMS, "DRIFT_RADIO_INTRO_FALLBACK_MS")
	overrideBool(&cfg.Radio.ResumeLastChannel, "DRIFT_RADIO_RESUME_LAST_CHANNEL")
	overrideBool(&cfg.Poller.Enabled, "DRIFT_POLLER_ENABLED")
	overrideInt(&cfg.Poller.IntervalMS, "DRIFT_POLLER_INTERVAL_MS")
	overrideInt(&cfg.Poller.TimeoutMS, "DRIFT_POLLER_TIMEOUT_MS")
	overrideInt(&cfg.Poller.QueueEvery, "DRIFT_POLLER_QUEUE_EVERY")
	overrideInt(&cfg.Retry.MaxAttempts, "DRIFT_RETRY_MAX_ATTEMPTS")
	overrideInt(&cfg.Retry.InitialIntervalMS, "DRIFT_RETRY_INITIAL_INTERVAL_MS")
	overrideInt(&cfg.Retry.MaxIntervalMS, "DRIFT_RETRY_MAX_INTERVAL_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Profile.Path == "" {
		return errors.New("profile.path must not be empty")
	}
	if cfg.Cache.Root == "" {
		return errors.New("cache.root must not be empty")
	}
	switch cfg.TTS.Mode {
	case "elevenlabs":
		if cfg.TTS.Endpoint == "" {
			return errors.New("tts.endpoint must be set when mode=elevenlabs")
		}
		if cfg.TTS.ModelID == "" {
			return errors.New("tts.model_id must be set when mode=elevenlabs")
		}
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	case "mock":
	default:
		return errors.New("tts.mode must be one of elevenlabs|exec|mock")
	}
	if cfg.TTS.Stability < 0 || cfg.TTS.Stability > 1 {
		return errors.New("tts.stability must be between 0 and 1")
	}
	if cfg.TTS.SimilarityBoost < 0 || cfg.TTS.SimilarityBoost > 1 {
		return errors.New("tts.similarity_boost must be between 0 and 1")
	}
	if cfg.Spotify.APIBase == "" {
		return errors.New("spotify.api_base must not be empty")
	}
	if cfg.Radio.CreditBudget <= 0 {
		return errors.New("radio.credit_budget must be positive")
	}
	if cfg.Radio.RecommendationLimit <= 0 || cfg.Radio.RecommendationLimit > 100 {
		return errors.New("radio.recommendation_limit must be between 1 and 100")
	}
	if cfg.Radio.MinEnergy < 0 || cfg.Radio.MinEnergy > 1 {
		return errors.New("radio.min_energy must be between 0 and 1")
	}
	if cfg.Radio.MinPopularity < 0 || cfg.Radio.MinPopularity > 100 {
		return errors.New("radio.min_popularity must be between 0 and 100")
	}
	if cfg.Radio.IntroFallbackMS < 0 {
		return errors.New("radio.intro_fallback_ms must be >= 0")
	}
	if cfg.Poller.Enabled && cfg.Poller.IntervalMS <= 0 {
		return errors.New("poller.interval_ms must be positive")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if cfg.Retry.MaxAttempts > 1 && cfg.Retry.InitialIntervalMS <= 0 {
		return errors.New("retry.initial_interval_ms must be positive when retries are enabled")
	}
	return nil
}
