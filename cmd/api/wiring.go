package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smsauth/smsauth/internal/config"
	"github.com/smsauth/smsauth/internal/identity"
	"github.com/smsauth/smsauth/internal/infra"
	"github.com/smsauth/smsauth/internal/notification"
)

// openStore connects the configured identity store and applies migrations.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (identity.Repository, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PoolOptions{
			MaxConns:         cfg.DBMaxConns,
			StatementTimeout: cfg.DBStatementTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := infra.MigratePostgres(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return identity.NewPostgresRepository(pool), pool.Close, nil

	case config.DriverSQLite:
		db, err := infra.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := infra.MigrateSQLite(ctx, db, logger); err != nil {
			db.Close()
			return nil, nil, err
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				logger.Warn("close sqlite", slog.Any("error", err))
			}
		}
		return identity.NewSQLiteRepository(db), closeDB, nil

	case config.DriverMemory:
		logger.Warn("using in-memory identity store; data is lost on restart")
		return identity.NewMemoryRepository(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// newGateway builds the configured SMS delivery gateway.
func newGateway(cfg config.Config, logger *slog.Logger) (notification.Gateway, error) {
	switch cfg.SMSProvider {
	case config.ProviderTencent:
		return notification.NewTencentGateway(notification.TencentConfig{
			SecretID:   cfg.Tencent.SecretID,
			SecretKey:  cfg.Tencent.SecretKey,
			SDKAppID:   cfg.Tencent.SDKAppID,
			SignName:   cfg.Tencent.SignName,
			TemplateID: cfg.Tencent.TemplateID,
			Region:     cfg.Tencent.Region,
		}, logger)
	case config.ProviderLog:
		return notification.NewLoggerGateway(logger), nil
	default:
		return nil, fmt.Errorf("unknown sms provider %q", cfg.SMSProvider)
	}
}
