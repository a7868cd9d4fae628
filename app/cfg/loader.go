package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath     string `long:"db-path" env:"DB_PATH" default:"./concierge.db" description:"Path to the SQLite database file"`
	SourcesDir string `long:"sources-dir" env:"SOURCES_DIR" default:"./sources" description:"Directory containing source configuration files"`

	// HTTP server
	Port    string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://events.example.com)"`

	// Ingestion
	UserAgent             string `long:"user-agent" env:"USER_AGENT" default:"Concierge/1.0" description:"User agent string for HTTP requests"`
	FetchTimeout          int    `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30" description:"Default fetch timeout in seconds"`
	RecurrenceHorizonDays int    `long:"recurrence-horizon" env:"RECURRENCE_HORIZON_DAYS" default:"30" description:"Days ahead to expand recurring calendar events"`
	TelegramBotToken      string `long:"telegram-token" env:"TELEGRAM_BOT_TOKEN" description:"Telegram bot token for chat sources (optional)"`
	TelegramAPIURL        string `long:"telegram-api" env:"TELEGRAM_API_URL" default:"https://api.telegram.org" description:"Telegram Bot API base URL"`
	WatchSources          bool   `long:"watch-sources" env:"WATCH_SOURCES" description:"Reload source configuration files when they change"`

	// Scheduling
	IngestCron          string `long:"ingest-cron" env:"INGEST_CRON" default:"0 */6 * * *" description:"Cron schedule for ingestion passes"`
	DigestMorningCron   string `long:"digest-morning-cron" env:"DIGEST_MORNING_CRON" default:"0 8 * * *" description:"Cron schedule for the morning digest"`
	DigestAfternoonCron string `long:"digest-afternoon-cron" env:"DIGEST_AFTERNOON_CRON" default:"0 15 * * *" description:"Cron schedule for the afternoon reminder"`

	// Mail
	SMTPHost     string `long:"smtp-host" env:"SMTP_HOST" description:"SMTP server host (digests are not sent when empty)"`
	SMTPPort     int    `long:"smtp-port" env:"SMTP_PORT" default:"587" description:"SMTP server port"`
	SMTPUser     string `long:"smtp-user" env:"SMTP_USER" description:"SMTP username"`
	SMTPPassword string `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
	FromEmail    string `long:"from-email" env:"FROM_EMAIL" description:"Sender address for digests"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for schedules and timestamps (e.g., UTC, America/Los_Angeles)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`

	// One-shot modes
	Once      bool   `long:"once" description:"Run one ingestion pass and exit"`
	ImportICS string `long:"import-ics" value-name:"PATH" description:"Import an ICS file into the Imported Calendar source and exit"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs parses args and the environment. It returns nil, nil when help
// was requested.
func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:                raw.DBPath,
		SourcesDir:            raw.SourcesDir,
		Port:                  raw.Port,
		BaseUrl:               raw.BaseUrl,
		UserAgent:             raw.UserAgent,
		FetchTimeout:          raw.FetchTimeout,
		RecurrenceHorizonDays: raw.RecurrenceHorizonDays,
		TelegramBotToken:      raw.TelegramBotToken,
		TelegramAPIURL:        raw.TelegramAPIURL,
		WatchSources:          raw.WatchSources,
		IngestCron:            raw.IngestCron,
		DigestMorningCron:     raw.DigestMorningCron,
		DigestAfternoonCron:   raw.DigestAfternoonCron,
		SMTPHost:              raw.SMTPHost,
		SMTPPort:              raw.SMTPPort,
		SMTPUser:              raw.SMTPUser,
		SMTPPassword:          raw.SMTPPassword,
		FromEmail:             raw.FromEmail,
		Timezone:              raw.Timezone,
		Debug:                 raw.Debug,
		Version:               GetVersion(),
		Once:                  raw.Once,
		ImportICS:             raw.ImportICS,
	}

	if cfg.FetchTimeout <= 0 {
		return nil, fmt.Errorf("fetch timeout must be positive, got %d", cfg.FetchTimeout)
	}
	if cfg.Once && cfg.ImportICS != "" {
		return nil, fmt.Errorf("--once and --import-ics cannot be combined")
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func (c *Cfg) FetchTimeoutDuration() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}

func (c *Cfg) RecurrenceHorizon() time.Duration {
	return time.Duration(c.RecurrenceHorizonDays) * 24 * time.Hour
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return err
		}
		time.Local = loc
		slog.Debug("Timezone configured", "timezone", timezone)
	}
	return nil
}
