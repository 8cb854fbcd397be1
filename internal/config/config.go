// Package config reads process settings from the environment, optionally seeded from a
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env           string
	Port          string
	AllowedOrigin string
	LogLevel      string
	LogFile       string

	Spotify SpotifyConfig
	LLM     LLMConfig
	Storage StorageConfig
	Device  DeviceConfig
	Ask     RateConfig
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	BaseURL      string
	// MaxRetries counts every attempt of one API request, the first included.
	MaxRetries   int
	RetryBackoff time.Duration
}

type LLMConfig struct {
	Provider      string
	Timeout       time.Duration
	GoogleAPIKey  string
	GeminiModel   string
	OllamaHost    string
	OllamaModel   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

type StorageConfig struct {
	Driver        string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration
}

type DeviceConfig struct {
	SettleDelay      time.Duration
	TransferAttempts int
	TransferBackoff  time.Duration
	MonitorAttempts  int
	MonitorInterval  time.Duration
	MonitorWorkers   int
	MonitorQueue     int
}

// RateConfig limits /ask per session.
type RateConfig struct {
	PerMinute int
	Burst     int
}

// Load reads .env when present and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	return FromEnv(os.Getenv), nil
}

// FromEnv builds a Config from getenv, applying defaults for unset keys.
func FromEnv(getenv func(string) string) Config {
	e := env{get: getenv}
	return Config{
		Env:           e.str("APP_ENV", "development"),
		Port:          e.str("PORT", "5000"),
		AllowedOrigin: e.str("ALLOWED_ORIGIN", "*"),
		LogLevel:      e.str("LOG_LEVEL", "info"),
		LogFile:       e.str("LOG_FILE", ""),
		Spotify: SpotifyConfig{
			ClientID:     e.str("SPOTIFY_CLIENT_ID", ""),
			ClientSecret: e.str("SPOTIFY_CLIENT_SECRET", ""),
			RedirectURI:  e.str("SPOTIFY_REDIRECT_URI", "http://localhost:5000/callback"),
			BaseURL:      e.str("SPOTIFY_BASE_URL", ""),
			MaxRetries:   e.integer("SPOTIFY_MAX_RETRIES", 3),
			RetryBackoff: time.Duration(e.integer("SPOTIFY_RETRY_BACKOFF_MS", 500)) * time.Millisecond,
		},
		LLM: LLMConfig{
			Provider:      strings.ToLower(e.str("LLM_PROVIDER", "gemini")),
			Timeout:       e.duration("LLM_TIMEOUT", 30*time.Second),
			GoogleAPIKey:  e.str("GOOGLE_API_KEY", ""),
			GeminiModel:   e.str("GEMINI_MODEL", ""),
			OllamaHost:    e.str("OLLAMA_HOST", ""),
			OllamaModel:   e.str("OLLAMA_MODEL", ""),
			OpenAIAPIKey:  e.str("OPENAI_API_KEY", ""),
			OpenAIBaseURL: e.str("OPENAI_BASE_URL", ""),
			OpenAIModel:   e.str("OPENAI_MODEL", ""),
		},
		Storage: StorageConfig{
			Driver:        strings.ToLower(e.str("STORAGE_DRIVER", "memory")),
			SQLitePath:    e.str("SQLITE_PATH", "mirror.db"),
			RedisAddr:     e.str("REDIS_ADDRESS", "localhost:6379"),
			RedisPassword: e.str("REDIS_PASSWORD", ""),
			RedisDB:       e.integer("REDIS_DB", 0),
			SessionTTL:    e.duration("SESSION_TTL", 24*time.Hour),
		},
		Device: DeviceConfig{
			SettleDelay:      e.duration("DEVICE_SETTLE_DELAY", 2*time.Second),
			TransferAttempts: e.integer("DEVICE_TRANSFER_ATTEMPTS", 3),
			TransferBackoff:  e.duration("DEVICE_TRANSFER_BACKOFF", 2*time.Second),
			MonitorAttempts:  e.integer("DEVICE_MONITOR_ATTEMPTS", 10),
			MonitorInterval:  e.duration("DEVICE_MONITOR_INTERVAL", 5*time.Second),
			MonitorWorkers:   e.integer("DEVICE_MONITOR_WORKERS", 2),
			MonitorQueue:     e.integer("DEVICE_MONITOR_QUEUE", 100),
		},
		Ask: RateConfig{
			PerMinute: e.integer("ASK_RATE_PER_MINUTE", 30),
			Burst:     e.integer("ASK_RATE_BURST", 5),
		},
	}
}

// Validate reports every setting that would keep the server from working.
func (c Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case "gemini":
		if c.LLM.GoogleAPIKey == "" {
			errs = append(errs, errors.New("GOOGLE_API_KEY is required for the gemini provider"))
		}
	case "openai":
		if c.LLM.OpenAIAPIKey == "" && c.LLM.OpenAIBaseURL == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY or OPENAI_BASE_URL is required for the openai provider"))
		}
	case "ollama":
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider))
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDRESS is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}

	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.Spotify.MaxRetries < 1 {
		errs = append(errs, errors.New("SPOTIFY_MAX_RETRIES must be positive"))
	}
	if c.Ask.PerMinute < 1 {
		errs = append(errs, errors.New("ASK_RATE_PER_MINUTE must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SpotifyConfigured reports whether login can work.
func (c Config) SpotifyConfigured() bool {
	return c.Spotify.ClientID != "" && c.Spotify.ClientSecret != ""
}

type env struct {
	get func(string) string
}

func (e env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e env) integer(key string, def int) int {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// duration accepts Go durations ("1500ms") or plain seconds ("2").
func (e env) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
