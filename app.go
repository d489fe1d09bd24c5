package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver for database/sql (migrations)
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-review/pkg/collections"
	"github.com/ekaya-inc/ekaya-review/pkg/config"
	"github.com/ekaya-inc/ekaya-review/pkg/database"
	"github.com/ekaya-inc/ekaya-review/pkg/handlers"
	"github.com/ekaya-inc/ekaya-review/pkg/journal"
	"github.com/ekaya-inc/ekaya-review/pkg/logging"
	"github.com/ekaya-inc/ekaya-review/pkg/notify"
	"github.com/ekaya-inc/ekaya-review/pkg/repositories"
	"github.com/ekaya-inc/ekaya-review/pkg/repositories/memstore"
	"github.com/ekaya-inc/ekaya-review/pkg/services"
)

// application holds the assembled review engine and the resources it owns.
type application struct {
	Review      services.ChangeReviewService
	Visibility  services.VisibilityService
	Collections *collections.Registry
	Dispatcher  *notify.Dispatcher
	Storage     handlers.Pinger // nil for the memory backend

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type stores struct {
	proposals repositories.ChangeProposalRepository
	records   repositories.RecordRepository
	grants    repositories.VisibilityGrantRepository
	audit     repositories.AuditRepository
}

func newApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	app := &application{}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	st, err := app.openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var auditJournal services.AuditJournal
	if cfg.Storage.JournalPath != "" {
		j, err := journal.Open(journal.Config{Path: cfg.Storage.JournalPath}, logger)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() {
			if err := j.Close(); err != nil {
				logger.Error("Failed to close audit journal", zap.Error(err))
			}
		})
		auditJournal = j
		logger.Info("Audit journal enabled", zap.String("path", cfg.Storage.JournalPath))
	}

	// an untyped nil keeps BuildChannels' nil check meaningful
	var redisClient redis.UniversalClient
	if cfg.Redis.Host != "" {
		client, err := database.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = client.Close() })
		redisClient = client
	}

	channels, err := notify.BuildChannels(cfg.Notifications, redisClient, &http.Client{}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build notification channels: %w", err)
	}
	app.Dispatcher = notify.NewDispatcher(channels, cfg.Review.NotificationTimeout, cfg.BaseURL, logger)

	app.Collections, err = collections.NewRegistryFromConfig(cfg.Review.Collections, st.records)
	if err != nil {
		return nil, fmt.Errorf("failed to build collection registry: %w", err)
	}

	app.Visibility = services.NewVisibilityService(st.grants, cfg.Review.ElevatedRoles, logger)
	auditSink := services.NewAuditSink(&services.AuditSinkDeps{
		Repo:       st.audit,
		Journal:    auditJournal,
		Dispatcher: app.Dispatcher,
		Logger:     logger,
	})
	app.Review = services.NewChangeReviewService(&services.ChangeReviewServiceDeps{
		ProposalRepo: st.proposals,
		Collections:  app.Collections,
		Visibility:   app.Visibility,
		Audit:        auditSink,
		ListLimit:    cfg.Review.ListLimit,
		Logger:       logger,
	})

	ok = true
	return app, nil
}

func (a *application) openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.Storage.Backend == config.StorageBackendMemory {
		logger.Warn("Using in-memory storage; review state is lost on restart")
		mem := memstore.New()
		return &stores{proposals: mem.Proposals, records: mem.Records, grants: mem.Grants, audit: mem.Audit}, nil
	}

	if cfg.Storage.MigrationsEnabled {
		if err := migrate(cfg, logger); err != nil {
			return nil, err
		}
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %s", logging.SanitizeError(err))
	}
	a.closers = append(a.closers, db.Close)
	a.Storage = db

	return &stores{
		proposals: repositories.NewChangeProposalRepository(db),
		records:   repositories.NewRecordRepository(db),
		grants:    repositories.NewVisibilityGrantRepository(db),
		audit:     repositories.NewAuditRepository(db),
	}, nil
}

func migrate(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %s", logging.SanitizeError(err))
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, logger); err != nil {
		return err
	}
	return nil
}
