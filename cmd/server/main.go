package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"craft/collab/internal/api"
	"craft/collab/internal/collab"
	"craft/collab/internal/config"
	"craft/collab/internal/jobs"
	"craft/collab/internal/presence"
	"craft/collab/internal/routers"
	"craft/collab/internal/session"
	"craft/collab/internal/utils"
)

const shutdownTimeout = 15 * time.Second

var (
	listenAndServe = func(srv *http.Server) error { return srv.ListenAndServe() }
	exitFunc       = defaultExit
	exit           = os.Exit
)

func defaultExit(err error) {
	log.Printf("collab-svc: %v", err)
	exit(1)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		exitFunc(err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := utils.NewLoggerWithLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	pub, closePub := newPublisher(cfg, logger)
	defer closePub()

	coord := collab.NewCoordinator(logger, pub, cfg.EventBuffer)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		_ = coord.Run(loopCtx)
		close(loopDone)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	reporter := jobs.NewStatsReporter(coord, cfg.StatsSchedule, logger)
	if err := reporter.Start(); err != nil {
		return err
	}
	defer reporter.Stop()

	registry := session.NewRegistry(coord, session.Options{
		SendBuffer:      cfg.SendBuffer,
		MaxMessageBytes: cfg.MaxMessageBytes,
		WriteWait:       cfg.WriteWait,
		PongWait:        cfg.PongWait,
	}, logger)
	handlers := api.NewHandlers(logger, coord, registry, func(r *http.Request) bool {
		return cfg.OriginAllowed(r.Header.Get("Origin"))
	})

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)
	r.Mount("/", routers.New(handlers, cfg.AllowedOrigins))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("collab-svc listening", "addr", srv.Addr)
		errCh <- listenAndServe(srv)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("collab-svc shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("collab-svc exited")
	return nil
}

// newPublisher connects presence publishing to Redis when REDIS_ADDR is set.
func newPublisher(cfg *config.Config, logger *utils.Logger) (presence.Publisher, func()) {
	if cfg.RedisAddr == "" {
		logger.Info("presence publishing disabled")
		return presence.Nop{}, func() {}
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pub := presence.NewRedisPublisher(rdb, cfg.PresenceChannel, cfg.EventBuffer, logger)
	return pub, func() {
		pub.Close()
		_ = rdb.Close()
	}
}
