package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"feedpush/internal/alert"
	"feedpush/internal/config"
	"feedpush/internal/cycle"
	"feedpush/internal/dispatch"
	"feedpush/internal/metrics"
	"feedpush/internal/model"
	"feedpush/internal/provider"
	"feedpush/internal/push"
	"feedpush/internal/resolver"
	"feedpush/internal/storage"
)

// app holds the wired components of one process.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.SQLite
	registry *prometheus.Registry
	runner   *serialRunner
}

// serialRunner lets the HTTP trigger and the scheduler share one runner
// without overlapping cycles.
type serialRunner struct {
	mu     sync.Mutex
	runner *cycle.Runner
}

func (s *serialRunner) Run(ctx context.Context) (*cycle.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner.Run(ctx)
}

func openStore(cfg *config.Config) (*storage.SQLite, error) {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	return store, nil
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	if err := cfg.RequireDelivery(); err != nil {
		return nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	feedClient := &http.Client{}
	gateway := push.NewClient(&http.Client{Timeout: 30 * time.Second}, cfg.Push.GatewayURL, cfg.Push.GatewayKey)

	disp := dispatch.New(gateway, store, dispatch.Config{TTL: cfg.PushTTL}, log.With("component", "dispatch"),
		dispatch.WithMetrics(m))
	res := resolver.New(store, log.With("component", "resolver"))

	opts := []cycle.Option{cycle.WithMetrics(m)}
	if cfg.Telegram.Enabled() {
		tg, err := alert.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.AlertChatID, log.With("component", "alert"))
		if err != nil {
			log.Warn("telegram alerts disabled", "error", err)
		} else {
			opts = append(opts, cycle.WithReporter(tg))
		}
	}

	runner := cycle.New(store, buildSources(cfg, feedClient), res, disp, cycle.Config{
		LiveGuard:     cfg.LiveGuard,
		VoteStabilize: cfg.VoteStabilize,
		EntityPause:   cfg.EntityPause,
	}, log.With("component", "cycle"), opts...)

	return &app{
		cfg:      cfg,
		log:      log,
		store:    store,
		registry: reg,
		runner:   &serialRunner{runner: runner},
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("close database", "error", err)
	}
}

func buildSources(cfg *config.Config, client provider.HTTPClient) cycle.Sources {
	f := cfg.Feeds
	src := cycle.Sources{
		Live: jsonSource[model.LiveEntity](client, f.LiveURL, f),
		Vote: jsonSource[model.VoteEntity](client, f.VoteURL, f),
	}
	switch {
	case f.VideoURL == "":
	case f.VideoFormat == "atom":
		src.Video = provider.NewCached[model.VideoEntity](provider.NewAtomVideoSource(client, f.VideoURL, f.HTTPTimeout), f.CacheTTL, nil)
	default:
		src.Video = jsonSource[model.VideoEntity](client, f.VideoURL, f)
	}
	return src
}

func jsonSource[T any](client provider.HTTPClient, url string, f config.FeedsConfig) provider.Source[T] {
	if url == "" {
		return nil
	}
	return provider.NewCached[T](provider.NewJSONSource[T](client, url, f.HTTPTimeout), f.CacheTTL, nil)
}
