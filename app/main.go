package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lysyi3m/concierge/app/api"
	"github.com/lysyi3m/concierge/app/cfg"
	"github.com/lysyi3m/concierge/app/database"
	"github.com/lysyi3m/concierge/app/digest"
	"github.com/lysyi3m/concierge/app/ingest"
	"github.com/lysyi3m/concierge/app/metrics"
	"github.com/lysyi3m/concierge/app/source"
	"github.com/lysyi3m/concierge/app/tasks"
)

const importedCalendarSource = "Imported Calendar"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env file: %v\n", err)
		os.Exit(1)
	}

	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		return
	}

	setupLogging(appCfg.Debug)

	if err := run(appCfg); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func run(appCfg *cfg.Cfg) error {
	slog.Info("Starting Concierge", "version", appCfg.Version)

	db, err := database.Open(appCfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	configCache := source.NewConfigCache(appCfg.SourcesDir)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load source configurations: %w", err)
	}
	slog.Info("Source configurations loaded", "dir", appCfg.SourcesDir, "count", configCache.GetConfigCount())

	sourceRepo := database.NewSourceRepository(db)
	eventRepo := database.NewEventRepository(db)
	userRepo := database.NewUserRepository(db)
	m := metrics.New()

	registry := source.NewRegistry(source.RegistryOptions{
		HTTPClient:        &http.Client{Timeout: appCfg.FetchTimeoutDuration()},
		UserAgent:         appCfg.UserAgent,
		TelegramToken:     appCfg.TelegramBotToken,
		TelegramAPI:       appCfg.TelegramAPIURL,
		RecurrenceHorizon: appCfg.RecurrenceHorizon(),
	})
	ingester := ingest.NewIngester(sourceRepo, eventRepo, registry, configCache, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case appCfg.ImportICS != "":
		return importCalendar(ctx, appCfg.ImportICS, sourceRepo, ingester)
	case appCfg.Once:
		return ingestOnce(ctx, configCache, sourceRepo, ingester)
	}

	smtpConfig := digest.SMTPConfig{
		Host:     appCfg.SMTPHost,
		Port:     appCfg.SMTPPort,
		Username: appCfg.SMTPUser,
		Password: appCfg.SMTPPassword,
		From:     appCfg.FromEmail,
	}
	if !smtpConfig.Configured() {
		slog.Warn("SMTP is not configured, digest deliveries will be logged as failed")
	}
	sender := digest.NewSender(userRepo, userRepo, eventRepo, digest.NewSMTPSink(smtpConfig), m)

	scheduler, err := tasks.NewScheduler(configCache, sourceRepo, ingester, sender, tasks.SchedulerOptions{
		IngestCron:    appCfg.IngestCron,
		MorningCron:   appCfg.DigestMorningCron,
		AfternoonCron: appCfg.DigestAfternoonCron,
		Location:      time.Local,
		WatchConfigs:  appCfg.WatchSources,
	})
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	baseURL := appCfg.BaseUrl
	if baseURL == "" {
		baseURL = "http://localhost:" + appCfg.Port
	}

	handler := api.NewHandler(sourceRepo, eventRepo, userRepo, ingester, configCache, scheduler, m,
		api.NewGenerator(baseURL, appCfg.Version), appCfg.Version)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port, "base_url", baseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Concierge stopped")
	return nil
}

// ingestOnce syncs the configured sources and runs a single ingestion pass.
func ingestOnce(ctx context.Context, configCache *source.ConfigCache, sourceRepo database.SourceRepository, ingester *ingest.Ingester) error {
	for _, sourceConfig := range configCache.GetConfigs() {
		if err := tasks.NewSyncSourceConfigTask(sourceConfig.Name, sourceConfig, sourceRepo).Execute(ctx); err != nil {
			return err
		}
	}

	if summary := ingester.RunAll(ctx); summary.Failed > 0 && summary.Failed == len(summary.Reports)-summary.Skipped {
		return fmt.Errorf("all %d sources failed", summary.Failed)
	}
	return nil
}

func importCalendar(ctx context.Context, path string, sourceRepo database.SourceRepository, ingester *ingest.Ingester) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid import path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return fmt.Errorf("cannot read calendar file: %w", err)
	}

	if _, err := sourceRepo.UpsertSource(importedCalendarSource, string(source.KindICS), "file://"+absPath, true); err != nil {
		return err
	}

	report, err := ingester.RunSource(ctx, importedCalendarSource)
	if err != nil {
		return err
	}
	if report.Failed() {
		return fmt.Errorf("import failed while %s: %w", report.FailedAt, report.Err)
	}

	slog.Info("Calendar imported",
		"file", absPath,
		"candidates", report.Candidates,
		"ingested", report.Ingested,
		"duplicates", report.Duplicates)

	return nil
}
