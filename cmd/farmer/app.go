package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/farmledger/internal/config"
	"github.com/mamadbah2/farmledger/internal/repository/mongodb"
	"github.com/mamadbah2/farmledger/internal/repository/sheets"
	"github.com/mamadbah2/farmledger/internal/repository/sqlstore"
	"github.com/mamadbah2/farmledger/internal/service/accounts"
	"github.com/mamadbah2/farmledger/internal/service/crops"
	"github.com/mamadbah2/farmledger/internal/service/inventory"
	"github.com/mamadbah2/farmledger/internal/service/reporting"
	"github.com/mamadbah2/farmledger/internal/service/vaccinations"
	"github.com/mamadbah2/farmledger/pkg/logger"
)

const connectTimeout = 15 * time.Second

// app holds the wired services shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *sqlstore.Store

	inventory    *inventory.Service
	crops        *crops.Service
	vaccinations *vaccinations.Service
	accounts     *accounts.Service
	reporting    *reporting.Service

	closers []func()
}

func bootstrap(envFile string) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	baseLogger, err := logger.New(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(baseLogger)

	a := &app{cfg: cfg, logger: baseLogger}
	a.closers = append(a.closers, func() { _ = baseLogger.Sync() })

	store, err := sqlstore.Open(cfg.Database, logger.Named(baseLogger, "repo.sql"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, func() {
		if err := store.Close(); err != nil {
			baseLogger.Error("failed to close database", zap.Error(err))
		}
	})

	return a, nil
}

// wireServices builds the domain services, attaching the optional Google
// Sheets mirror and MongoDB archive when they are configured.
func (a *app) wireServices(ctx context.Context) error {
	invOpts := []inventory.Option{inventory.WithLowStockBags(a.cfg.Inventory.LowStockBags)}
	if a.cfg.Sheets.Enabled() {
		appender, err := sheets.NewGoogleSheetAppender(ctx, a.cfg.Sheets)
		if err != nil {
			return fmt.Errorf("init sheets mirror: %w", err)
		}
		invOpts = append(invOpts, inventory.WithMirror(sheets.NewLedgerMirror(appender, logger.Named(a.logger, "repo.sheets"))))
		a.logger.Info("ledger mirror enabled", zap.String("spreadsheet_id", a.cfg.Sheets.SpreadsheetID))
	}

	var archive reporting.Archive
	if a.cfg.MongoDB.Enabled() {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		repo, err := mongodb.NewReportRepository(connectCtx, a.cfg.MongoDB.URI, a.cfg.MongoDB.DBName)
		if err != nil {
			return fmt.Errorf("init report archive: %w", err)
		}
		archive = repo
		a.closers = append(a.closers, func() {
			if err := repo.Close(context.Background()); err != nil {
				a.logger.Error("failed to close mongodb connection", zap.Error(err))
			}
		})
		a.logger.Info("report archive enabled", zap.String("db", a.cfg.MongoDB.DBName))
	}

	a.inventory = inventory.NewService(a.store, a.logger.Named("svc.inventory"), invOpts...)
	a.closers = append(a.closers, a.inventory.Close)
	a.crops = crops.NewService(a.store, a.inventory, a.logger.Named("svc.crops"), time.Now)
	a.vaccinations = vaccinations.NewService(a.store, a.logger.Named("svc.vaccinations"), time.Now)
	a.accounts = accounts.NewService(a.store, a.logger.Named("svc.accounts"))
	a.reporting = reporting.NewService(a.store, a.inventory, a.crops, a.vaccinations, archive, a.logger.Named("svc.reporting"))
	return nil
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
