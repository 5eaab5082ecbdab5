package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kbtasks/internal/api"
	"kbtasks/internal/config"
	"kbtasks/internal/docstatus"
	fileutil "kbtasks/internal/file"
	"kbtasks/internal/poller"
	"kbtasks/internal/store"
)

const (
	defaultConfigPath = "config.yml"
	configPathEnv     = "KBTASKS_CONFIG"
)

func main() {

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := os.Getenv(configPathEnv)
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}
	setLogLevel(cfg.LogLevel)

	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	persister, err := buildPersister(baseCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to open task storage")
	}

	taskStore := buildStore(baseCtx, cfg, persister)
	statusPoller := buildPoller(cfg, taskStore)
	resumeTracking(taskStore, statusPoller)

	go taskStore.RunRetention(baseCtx, cfg.Retention.SweepInterval)

	router := setupRouter()
	api.NewAPI(taskStore, statusPoller).RegisterRoutes(router)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		log.Info().Int("port", cfg.Port).Str("storage", cfg.Storage.Driver).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, statusPoller, taskStore, persister, shutdownTimeout)
}

func setLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, keeping info")
		return
	}
	zerolog.SetGlobalLevel(parsed)
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func buildPersister(ctx context.Context, cfg config.Config) (store.Persister, error) { //nolint:ireturn
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		path := cfg.Storage.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "tasks.db")
		}
		sqliteStore, err := store.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return sqliteStore, nil
	case config.DriverRedis:
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		redisStore, err := store.DialRedis(dialCtx, cfg.Storage.RedisAddr, cfg.Storage.RedisKey)
		if err != nil {
			return nil, err
		}
		return redisStore, nil
	default:
		return store.NewFileStore(cfg.DataDir), nil
	}
}

func buildStore(ctx context.Context, cfg config.Config, persister store.Persister) *store.Store {
	s := store.New(store.Options{
		Persister: persister,
		AutoSave:  true,
		MaxAge:    cfg.Retention.MaxAge,
		MaxTasks:  cfg.Retention.MaxTasks,
	})
	if err := s.Load(ctx); err != nil {
		// a broken snapshot must not keep the service down
		log.Error().Err(err).Msg("failed to restore tasks, starting empty")
	}
	if removed := s.Cleanup(); removed > 0 {
		log.Info().Int("removed", removed).Msg("expired tasks dropped on startup")
	}
	log.Info().Int("tasks", s.Len()).Msg("task store ready")
	return s
}

func buildPoller(cfg config.Config, s *store.Store) *poller.Poller {
	client := docstatus.New(docstatus.Options{
		BaseURL:           cfg.Poller.StatusBaseURL,
		Token:             cfg.Poller.APIToken,
		Timeout:           cfg.Poller.RequestTimeout,
		RequestsPerSecond: cfg.Poller.RequestsPerSecond,
	})
	return poller.New(s, client, poller.Options{Interval: cfg.Poller.Interval})
}

// resumeTracking restarts polling for documents whose tasks were still in
// flight when the process last stopped.
func resumeTracking(s *store.Store, p *poller.Poller) {
	docs := s.ActiveDocuments()
	for _, doc := range docs {
		p.StartTracking(doc.KBID, doc.DocID)
	}
	if len(docs) > 0 {
		log.Info().Int("documents", len(docs)).Msg("resumed document tracking")
	}
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, p *poller.Poller, s *store.Store, persister store.Persister, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	p.Close()

	if err := s.Save(ctx); err != nil {
		log.Error().Err(err).Msg("final task snapshot failed")
	}
	if closer, ok := persister.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("closing task storage")
		}
	}
	log.Info().Msg("server exited cleanly")
}
