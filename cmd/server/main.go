package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iptv-viewer/internal/platform/config"
	"iptv-viewer/internal/platform/logger"
	"iptv-viewer/internal/platform/metrics"
	"iptv-viewer/internal/platform/ratelimit"
	"iptv-viewer/internal/viewer"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	playlistProxy := config.GetEnv("PROXY_BASE_URL", "")
	streamProxy := config.GetEnv("STREAM_PROXY_BASE_URL", playlistProxy)
	fetchTimeout := config.GetEnvDuration("FETCH_TIMEOUT", 0)
	decoderEnabled := config.GetEnvBool("HLS_DECODER_ENABLED", true)
	playerCommand := config.GetEnv("PLAYER_COMMAND", "")
	proxyRateLimit := config.GetEnvInt("PROXY_RATE_LIMIT", 600)
	publicBase := config.GetEnv("PUBLIC_BASE_URL", "")

	log := logger.New(logLevel, logFormat)
	met := metrics.New()

	prefs, closePrefs, err := openPreferences(log)
	if err != nil {
		log.Error("preferences unavailable", "error", err)
		os.Exit(1)
	}
	defer closePrefs()

	status := viewer.NewStatusBoard(log)
	client := &http.Client{Timeout: fetchTimeout}

	var surface viewer.Surface
	if playerCommand != "" {
		surface = viewer.NewExecSurface(playerCommand, log)
	}

	player := viewer.NewController(viewer.ControllerConfig{
		Decoders: &viewer.HLSDecoderFactory{
			Enabled: decoderEnabled,
			Client:  client,
			Logger:  log,
		},
		Surface:   surface,
		ProxyBase: streamProxy,
		Status:    status,
		Logger:    log,
		Metrics:   met,
	})
	svc := viewer.NewService(viewer.ServiceConfig{
		Fetcher:     viewer.NewFetcher(client, playlistProxy, log),
		Player:      player,
		Preferences: prefs,
		Status:      status,
		Logger:      log,
		Metrics:     met,
	})
	h := viewer.NewHandler(svc, log, met)
	proxy := viewer.NewProxyHandler(&http.Client{}, publicBase, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetChannelsLoaded(svc.ChannelCount()) }).ServeHTTP(w, r)
	})
	r.With(ratelimit.Middleware(ratelimit.Config{
		RequestLimit: proxyRateLimit,
		WindowSize:   time.Minute,
	})).Handle("/proxy", proxy)
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"log_level", logLevel,
		"playlist_proxy", playlistProxy,
		"stream_proxy", streamProxy,
		"hls_decoder", decoderEnabled,
		"player_command", playerCommand,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := svc.Close(); err != nil {
		log.Error("release playback failed", "error", err)
	}

	log.Info("server stopped")
}

// openPreferences builds the store selected by PREFS_BACKEND (memory, file or redis).
func openPreferences(log *slog.Logger) (viewer.Preferences, func(), error) {
	noop := func() {}

	switch backend := config.GetEnv("PREFS_BACKEND", "file"); backend {
	case "memory":
		return viewer.NewMemoryPreferences(), noop, nil

	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p, err := viewer.NewRedisPreferences(ctx, viewer.RedisConfig{
			Addr:      config.GetEnv("REDIS_ADDR", "localhost:6379"),
			Password:  config.GetEnv("REDIS_PASSWORD", ""),
			DB:        config.GetEnvInt("REDIS_DB", 0),
			KeyPrefix: config.GetEnv("REDIS_KEY_PREFIX", "iptv-viewer:"),
		})
		if err != nil {
			return nil, noop, err
		}
		log.Info("preferences stored in redis")
		return p, func() { _ = p.Close() }, nil

	default:
		path := config.GetEnv("PREFS_PATH", "data/preferences.json")
		log.Info("preferences stored on disk", "path", path, "backend", backend)
		return viewer.NewFilePreferences(path), noop, nil
	}
}
