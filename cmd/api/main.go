package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/smsauth/smsauth/internal/bootstrap"
	"github.com/smsauth/smsauth/internal/codec"
	"github.com/smsauth/smsauth/internal/config"
	"github.com/smsauth/smsauth/internal/infra"
	"github.com/smsauth/smsauth/internal/logging"
	"github.com/smsauth/smsauth/internal/routes"
	"github.com/smsauth/smsauth/internal/server"
	"github.com/smsauth/smsauth/internal/verification"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func newLogger(cfg config.Config) (*slog.Logger, io.Closer, error) {
	if cfg.LogFile == "" {
		return logging.New(cfg.LogLevel), nopCloser{}, nil
	}
	return logging.NewRotating(cfg.LogLevel, cfg.LogFile, cfg.LogMaxAge)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if cache != nil {
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", slog.Any("error", err))
			}
		}()
	}

	key, err := cfg.PhoneKey()
	if err != nil {
		return err
	}
	phones, err := codec.New(key)
	if err != nil {
		return fmt.Errorf("init phone codec: %w", err)
	}

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	if err := bootstrap.EnsureAdmin(ctx, repo, phones, cfg.AdminPhone, clock.Now(), logger); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	sweeper := verification.NewSweeper(repo, clock, cfg.SweepInterval, logger)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()
	defer func() {
		cancel()
		<-sweepDone
	}()

	srv, err := server.New(routes.Deps{
		Cfg:     cfg,
		Repo:    repo,
		Codec:   phones,
		Gateway: gateway,
		Cache:   cache,
		Clock:   clock,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()
	logger.Info("server listening",
		slog.String("addr", cfg.Address()),
		slog.String("store", cfg.StoreDriver),
		slog.String("sms_provider", cfg.SMSProvider),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-srvErrCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
