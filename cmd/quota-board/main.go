package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"

	app "github.com/Evoltonnac/quota-board"
	"github.com/Evoltonnac/quota-board/internal/auth"
	"github.com/Evoltonnac/quota-board/internal/config"
	"github.com/Evoltonnac/quota-board/internal/engine"
	"github.com/Evoltonnac/quota-board/internal/secrets"
	"github.com/Evoltonnac/quota-board/internal/server"
	"github.com/Evoltonnac/quota-board/internal/store"
	"github.com/Evoltonnac/quota-board/pkg/log"
)

type board struct {
	cfg        *config.Config
	redis      redis.UniversalClient
	secrets    *secrets.Store
	sink       *store.Store
	catalog    *config.Catalog
	auth       *auth.Manager
	executor   *engine.Executor
	apiServer  *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

var (
	ErrConnectRedis = errors.New("failed to connect to redis")
	ErrLoadCatalog  = errors.New("failed to load source catalog")
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &board{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *board) run() error {
	if err := s.initializeStores(); err != nil {
		return err
	}
	if err := s.initializeEngine(); err != nil {
		return err
	}
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *board) setupLogging() {
	level, ok := logLevels[s.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Quota Board starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("redis_addr", s.cfg.Redis.Addr),
		slog.Int("redis_db", s.cfg.Redis.DB),
		slog.String("sources_dir", s.cfg.SourcesDir),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *board) initializeStores() error {
	s.redis = redis.NewClient(&redis.Options{
		Addr:     s.cfg.Redis.Addr,
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.DB,
	})
	if err := s.redis.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectRedis, err)
	}

	s.secrets = secrets.NewStore(s.redis, s.cfg.Redis.Prefix)
	s.sink = store.NewStore(s.redis, s.cfg.Redis.Prefix)

	catalog, err := config.LoadCatalog(s.cfg.SourcesDir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadCatalog, err)
	}
	s.catalog = catalog
	return nil
}

func (s *board) initializeEngine() error {
	client := resty.New().SetTimeout(s.cfg.HTTPTimeout)

	s.auth = auth.NewManager(s.secrets, client, s.catalog)
	ctx := context.Background()
	for _, def := range s.catalog.EnabledSources() {
		s.auth.RegisterSource(ctx, def)
	}

	var lua *engine.LuaEnv
	if s.cfg.ScriptsEnabled {
		lua = engine.NewLuaEnv()
	}
	s.executor = engine.New(s.secrets, s.sink, s.auth, client, lua)
	return nil
}

func (s *board) startServer() {
	s.apiServer = server.NewServer(
		s.catalog, s.executor, s.auth, s.secrets, s.sink,
	)
	s.executor.AddListener(s.apiServer.Broadcast)
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (s *board) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.apiServer.CloseWebSockets()

	if err := s.redis.Close(); err != nil {
		slog.Error("Redis shutdown failed", log.Error(err))
	}

	slog.Info("Server exited")
}
