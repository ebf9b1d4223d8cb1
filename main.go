package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"syncboard/internal/config"
	"syncboard/internal/debounce"
	"syncboard/internal/handlers"
	"syncboard/internal/middleware"
	"syncboard/internal/object"
	"syncboard/internal/room"
	"syncboard/internal/server"
	"syncboard/internal/store"
	"syncboard/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "syncboard:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		envFile  = pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
		addr     = pflag.String("addr", "", "listen address (overrides ADDR)")
		driver   = pflag.String("store", "", "storage backend: memory, postgres, sqlite or redis (overrides STORE_DRIVER)")
		logLevel = pflag.String("log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	)
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *driver != "" {
		cfg.Store.Driver = *driver
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer st.Close()

	rooms := room.NewRegistry(cfg.Limits.MaxRooms, cfg.Limits.MaxRoomSize, logger)
	sched := debounce.New(clock.New(), cfg.Persist.Debounce, cfg.Persist.Timeout, logger)

	router := handlers.NewMessageRouter(handlers.Deps{
		Store:            st,
		Rooms:            rooms,
		Scheduler:        sched,
		Validator:        object.NewValidator(cfg.Limits.MaxStrokesPerBatch),
		Limits:           cfg.Limits,
		ViewportInterval: cfg.Socket.ViewportInterval,
		Logger:           logger,
	})

	ipLimit := middleware.NewIPRateLimit(cfg.Socket.ConnectEvery, cfg.Socket.ConnectBurst)
	ws := transport.NewHandler(router, ipLimit, transport.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Limits:         cfg.Limits,
		SendBuffer:     cfg.Socket.SendBuffer,
		MessageTimeout: cfg.Socket.MessageTimeout,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.NewRouter(ws, rooms, cfg.Server.AllowedOrigins, logger),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := ipLimit.Cleanup(10 * time.Minute); n > 0 {
					logger.Debug("dropped idle ip limiters", "count", n)
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "connections", ws.Count())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// hijacked sockets are not closed by Shutdown
		err := srv.Shutdown(shutdownCtx)
		ws.CloseAll()
		if ferr := sched.Close(shutdownCtx); ferr != nil {
			logger.Warn("pending writes not flushed", "error", ferr)
		}
		return err
	})

	return g.Wait()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.Source}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
