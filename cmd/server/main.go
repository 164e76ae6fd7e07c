package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/worldsync/internal/audit"
	"github.com/DoyleJ11/worldsync/internal/config"
	"github.com/DoyleJ11/worldsync/internal/httpapi"
	"github.com/DoyleJ11/worldsync/internal/logging"
	"github.com/DoyleJ11/worldsync/internal/room"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "worldsync:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := httpapi.Deps{Log: log, WS: cfg.WS()}
	roomOpts := []room.Option{room.WithLogger(log.Named("room"))}

	// The audit worker outlives ctx so it can flush after the room stops.
	var queue *audit.Queue
	if cfg.DatabaseURL != "" {
		store, err := audit.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		queue = audit.NewQueue(context.Background(), store, 1024, log.Named("audit"))
		roomOpts = append(roomOpts, room.WithAudit(queue))
		deps.Audit = store
		log.Info("audit trail enabled")
	}

	rm := room.New(context.Background(), cfg.Room(), roomOpts...)
	deps.Room = rm

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening",
			zap.String("addr", cfg.Addr),
			zap.Int("max_players", cfg.World.MaxPlayers),
			zap.Int("max_objects", cfg.World.MaxObjects),
			zap.Int("tick_hz", cfg.Tick.RateHz))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	// Stopping the room closes every outbox, which ends the sessions.
	rm.Send(context.Background(), room.Shutdown{})
	<-rm.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if queue != nil {
		queue.Close()
		if n := queue.Dropped(); n > 0 {
			log.Warn("audit entries dropped", zap.Uint64("count", n))
		}
	}
	return nil
}
