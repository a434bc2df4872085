package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/tilefall-backend/internal/clock"
	"github.com/DoyleJ11/tilefall-backend/internal/config"
	"github.com/DoyleJ11/tilefall-backend/internal/engine"
	"github.com/DoyleJ11/tilefall-backend/internal/floodguard"
	"github.com/DoyleJ11/tilefall-backend/internal/httpapi"
	"github.com/DoyleJ11/tilefall-backend/internal/hub"
	"github.com/DoyleJ11/tilefall-backend/internal/lobby"
	"github.com/DoyleJ11/tilefall-backend/internal/match"
	"github.com/DoyleJ11/tilefall-backend/internal/store"
	"github.com/DoyleJ11/tilefall-backend/internal/ws"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var archive store.Archive = store.Nop{}
	if cfg.DatabaseURL != "" {
		pg, err := store.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		archive = pg
	} else {
		logger.Info("DATABASE_URL not set; match archive disabled")
	}
	defer archive.Close()

	c := clock.Real()
	h := hub.NewHub(ctx,
		hub.Config{
			Match:      match.Config{ModeChoice: cfg.Match.ModeChoice, Turn: cfg.Match.Turn},
			Retention:  cfg.Match.Retention,
			PendingTTL: cfg.Match.PendingTTL,
		},
		hub.Deps{
			Rules:   engine.NewStandard(cfg.Match.GridRows, cfg.Match.GridCols),
			Clock:   c,
			Log:     logger,
			Archive: archive,
		},
	)
	lb := lobby.NewLobby(ctx,
		lobby.Config{MinPlayers: cfg.Lobby.MinPlayers, MaxPlayers: cfg.Lobby.MaxPlayers, Countdown: cfg.Lobby.Countdown},
		lobby.Deps{Launcher: h, Refunder: lobby.LogRefunder{Log: logger}, Clock: c, Log: logger},
	)

	sockets := ws.NewServer(lb, floodguard.NewBanList(c),
		floodguard.Limits{
			MaxRequestsPerSecond:  cfg.Flood.MaxRequestsPerSecond,
			MaxResponsesPerSecond: cfg.Flood.MaxResponsesPerSecond,
			BanDuration:           cfg.Flood.BanDuration,
		},
		c,
		ws.Options{
			ReadTimeout:  cfg.Transport.ReadTimeout,
			WriteTimeout: cfg.Transport.WriteTimeout,
			OutboxSize:   cfg.Transport.OutboxSize,
		},
		logger,
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(h, sockets, logger),
		ReadHeaderTimeout: 10 * time.Second,
		// sockets are hijacked and outlive Shutdown; tie them to ctx instead
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
