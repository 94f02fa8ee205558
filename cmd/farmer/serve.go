package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mamadbah2/farmledger/internal/scheduler"
	"github.com/mamadbah2/farmledger/internal/server/handlers"
	"github.com/mamadbah2/farmledger/internal/server/router"
	commandsvc "github.com/mamadbah2/farmledger/internal/service/commands"
	whatsappsvc "github.com/mamadbah2/farmledger/internal/service/whatsapp"
	"github.com/mamadbah2/farmledger/pkg/clients/auth"
	whatsappclient "github.com/mamadbah2/farmledger/pkg/clients/whatsapp"
)

func newServeCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the WhatsApp webhook and the scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *envFile)
		},
	}
}

func serve(parent context.Context, envFile string) error {
	a, err := bootstrap(envFile)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.cfg.ValidateServer(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.Database.AutoMigrate {
		if err := a.store.Migrate(ctx); err != nil {
			return err
		}
	}
	if err := a.wireServices(ctx); err != nil {
		return err
	}

	h := router.Handlers{
		Inventory:    handlers.NewInventoryHandler(a.inventory, a.logger.Named("handlers.inventory")),
		Crops:        handlers.NewCropHandler(a.crops, a.logger.Named("handlers.crops")),
		Vaccinations: handlers.NewVaccinationHandler(a.vaccinations, a.logger.Named("handlers.vaccinations")),
		Accounts:     handlers.NewAccountHandler(a.reporting, a.accounts, a.logger.Named("handlers.accounts")),
	}

	deps := scheduler.Deps{
		Vaccinations: a.vaccinations,
		Inventory:    a.inventory,
		Reporting:    a.reporting,
		Owners:       a.store,
		Recipients:   a.accounts,
	}

	if a.cfg.WhatsApp.Enabled() {
		dispatcher := commandsvc.NewService(a.inventory, a.crops, a.accounts, a.logger.Named("svc.commands"))
		messaging := whatsappsvc.NewMetaWhatsAppService(a.cfg.WhatsApp, whatsappclient.NewClient(a.cfg.WhatsApp), dispatcher, a.logger.Named("svc.whatsapp"))
		h.Webhook = handlers.NewWebhookHandler(messaging, a.cfg.WhatsApp.AppSecret, a.logger.Named("handlers.whatsapp"))
		deps.Messenger = messaging
	} else {
		a.logger.Warn("whatsapp token missing, command channel and summaries disabled")
	}

	engine := router.New(h, auth.NewClient(a.cfg.Auth), a.store, a.logger.Named("router"))

	sched, err := scheduler.NewScheduler(*a.cfg, deps, a.logger.Named("scheduler"))
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.String("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			a.logger.Error("http server crashed", zap.Error(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
