package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ewilliams-labs/mirror/internal/adapters/gemini"
	"github.com/ewilliams-labs/mirror/internal/adapters/memory"
	"github.com/ewilliams-labs/mirror/internal/adapters/ollama"
	"github.com/ewilliams-labs/mirror/internal/adapters/openai"
	"github.com/ewilliams-labs/mirror/internal/adapters/redis"
	"github.com/ewilliams-labs/mirror/internal/adapters/spotify"
	"github.com/ewilliams-labs/mirror/internal/adapters/sqlite"
	"github.com/ewilliams-labs/mirror/internal/auth"
	"github.com/ewilliams-labs/mirror/internal/config"
	"github.com/ewilliams-labs/mirror/internal/core/ports"
	"github.com/ewilliams-labs/mirror/internal/core/services"
	"github.com/ewilliams-labs/mirror/internal/logging"
	"github.com/ewilliams-labs/mirror/internal/worker"
	"github.com/sirupsen/logrus"
)

// app holds the wired object graph shared by the serve and chat commands.
type app struct {
	cfg     config.Config
	log     *logrus.Logger
	orch    *services.Orchestrator
	auth    *auth.Manager
	monitor *worker.Pool
	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Env: cfg.Env})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.SpotifyConfigured() {
		logger.Warn("SPOTIFY_CLIENT_ID or SPOTIFY_CLIENT_SECRET missing, login is disabled")
	}

	a := &app{cfg: cfg, log: logger}

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	llm, closeLLM, err := openLLM(ctx, cfg.LLM)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closeLLM != nil {
		a.closers = append(a.closers, closeLLM)
	}
	logger.Infof("language model provider: %s", cfg.LLM.Provider)

	httpClient := &http.Client{Timeout: 15 * time.Second}
	music := spotify.NewClient(httpClient, cfg.Spotify.BaseURL, spotify.Options{
		MaxAttempts: cfg.Spotify.MaxRetries,
		Backoff:     cfg.Spotify.RetryBackoff,
	}, logger)

	a.monitor = worker.NewPool(music, logger, worker.Config{
		Attempts:  cfg.Device.MonitorAttempts,
		Interval:  cfg.Device.MonitorInterval,
		QueueSize: cfg.Device.MonitorQueue,
	})

	playback := services.NewPlaybackController(music, logger,
		services.WithSettleDelay(cfg.Device.SettleDelay),
		services.WithTransferRetry(cfg.Device.TransferAttempts, cfg.Device.TransferBackoff),
		services.WithDeviceWatcher(a.monitor),
	)
	a.orch = services.NewOrchestrator(
		store,
		services.NewIntentExtractor(llm, logger),
		playback,
		services.NewRecommendationEngine(music, llm, logger),
		llm,
		logger,
	)
	a.monitor.Start(a.orch, cfg.Device.MonitorWorkers)

	a.auth = auth.NewManager(auth.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RedirectURL:  cfg.Spotify.RedirectURI,
	}, store, music, httpClient, logger)

	return a, nil
}

// Close stops background work and releases storage and model clients.
func (a *app) Close() {
	if a.monitor != nil {
		a.monitor.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("close failed")
		}
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig, log logrus.FieldLogger) (ports.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.NewStore(cfg.SessionTTL), nil
	case "sqlite":
		adapter, err := sqlite.NewAdapter(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return adapter, nil
	case "redis":
		return redis.NewStore(ctx, redis.Options{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			SessionTTL: cfg.SessionTTL,
		}, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

func openLLM(ctx context.Context, cfg config.LLMConfig) (ports.Completer, func() error, error) {
	switch cfg.Provider {
	case "gemini":
		client, err := gemini.NewClient(ctx, cfg.GoogleAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		return withTimeout(client, cfg.Timeout), client.Close, nil
	case "openai":
		return withTimeout(openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), cfg.Timeout), nil, nil
	case "ollama":
		return ollama.NewClient(cfg.OllamaHost, cfg.OllamaModel, cfg.Timeout), nil, nil
	default:
		return nil, nil, errors.New("unknown LLM provider: " + cfg.Provider)
	}
}

// timeoutCompleter bounds every completion of a client that has no timeout of its own.
type timeoutCompleter struct {
	next    ports.Completer
	timeout time.Duration
}

func withTimeout(next ports.Completer, d time.Duration) ports.Completer {
	if d <= 0 {
		return next
	}
	return timeoutCompleter{next: next, timeout: d}
}

func (t timeoutCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Complete(ctx, prompt)
}
