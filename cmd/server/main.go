// Command server runs the quantlab research backend: it loads
// configuration, opens the expiry-calendar database, wires the engine
// (upstream session, coordinator, calendar, resolver, bar cache), starts
// the HTTP API, and schedules the background calendar-refresh and backup
// jobs. Startup/shutdown sequencing follows trader-go's cmd/server/main.go.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/quantlab/internal/backup"
	"github.com/aristath/quantlab/internal/config"
	"github.com/aristath/quantlab/internal/coordinator"
	"github.com/aristath/quantlab/internal/database"
	"github.com/aristath/quantlab/internal/engine"
	"github.com/aristath/quantlab/internal/scheduler"
	"github.com/aristath/quantlab/internal/server"
	"github.com/aristath/quantlab/internal/upstream"
	"github.com/aristath/quantlab/pkg/logger"
)

// futuresRoots lists the continuous-futures roots whose expiry calendar is
// kept warm by the scheduled refresh job (spec.md §3 "IX namespace").
var futuresRoots = []string{"ES", "NQ", "CL", "GC", "ZN"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting quantlab")

	db, err := database.New(database.Config{Path: cfg.DataDir + "/calendar.db", Name: "calendar"})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open calendar database")
	}
	defer db.Close()

	eng, err := engine.New(db, engine.Config{
		Upstream: upstream.Config{
			URL:      fmt.Sprintf("ws://%s:%d/v1/api/ws", cfg.UpstreamHost, cfg.UpstreamPort),
			ClientID: cfg.UpstreamClientID,
			Username: cfg.UpstreamUsername,
			Password: cfg.UpstreamPassword,
		},
		Coordinator: coordinator.Config{
			Slots:          cfg.CoordinatorSlots,
			RatePerWindow:  cfg.CoordinatorRatePerWindow,
			RateWindow:     cfg.CoordinatorRateWindow,
			PerContractQPS: cfg.CoordinatorPerContractQPS,
			RequestTimeout: cfg.RequestTimeout,
		},
		CalendarTTL:   cfg.CalendarTTL,
		CacheMaxBytes: int64(cfg.CacheMaxBars) * 64,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire engine")
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = eng.Start(startCtx)
	startCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start engine")
	}

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	if err := sched.AddJob("0 0 */6 * * *", &scheduler.CalendarRefreshJob{Calendar: eng.Calendar, Roots: futuresRoots}); err != nil {
		log.Error().Err(err).Msg("failed to register calendar refresh job")
	}

	if cfg.BackupEnabled {
		backupSvc, err := backup.New(context.Background(), backup.Config{
			Bucket:          cfg.BackupBucket,
			Endpoint:        cfg.BackupEndpoint,
			Region:          cfg.BackupRegion,
			AccessKeyID:     cfg.BackupAccessKeyID,
			SecretAccessKey: cfg.BackupSecretAccessKey,
			RetentionDays:   cfg.BackupRetentionDays,
		}, db, log)
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize backup service, backups disabled")
		} else if err := sched.AddJob("0 30 2 * * *", backupSvc); err != nil {
			log.Error().Err(err).Msg("failed to register backup job")
		}
	}

	srv := server.New(server.Config{
		Port:    cfg.Port,
		Log:     log,
		Engine:  eng,
		DevMode: cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("engine shutdown reported an error")
	}

	log.Info().Msg("stopped")
}
