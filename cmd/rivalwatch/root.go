package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/rivalwatch/dbopen"
	"github.com/hazyhaar/rivalwatch/rivalwatch"
)

var (
	configPath string
	dbPath     string
	ownerID    string
)

var rootCmd = &cobra.Command{
	Use:           "rivalwatch",
	Short:         "rivalwatch monitors competitor pages and classifies what changed.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", env("RIVALWATCH_CONFIG", ""), "YAML config file")
	pf.StringVar(&dbPath, "db", env("RIVALWATCH_DB", ""), "SQLite database path (overrides config)")
	pf.StringVar(&ownerID, "owner", env("RIVALWATCH_OWNER", ""), "owner ID for target commands")
}

// app bundles what every command needs.
type app struct {
	cfg    *rivalwatch.Config
	db     *sql.DB
	svc    *rivalwatch.Service
	logger *slog.Logger
}

func (a *app) Close() {
	if a.svc != nil {
		a.svc.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// loadConfig reads the config file and applies flag and environment
// overrides on top of it.
func loadConfig() (*rivalwatch.Config, error) {
	cfg, err := rivalwatch.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if v := env("ENGINE_API_KEY", os.Getenv("RIVALWATCH_ENGINE_API_KEY")); v != "" {
		cfg.Engine.APIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Listen = ":" + v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

// openApp opens the database and builds the service. background=false
// disables the scheduler for one-shot commands.
func openApp(background bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !background {
		cfg.Scheduler.Disabled = true
	}
	logger := newLogger(os.Stderr, cfg.LogFormat, rivalwatch.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", cfg.DBPath, err)
	}
	svc, err := rivalwatch.New(db, cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &app{cfg: cfg, db: db, svc: svc, logger: logger}, nil
}

// newLogger returns a JSON slog logger, or a charmbracelet text logger for
// terminals when format is "text".
func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	if format == "text" {
		h := charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.Level(level),
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
		})
		return slog.New(h)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

func requireOwner() error {
	if ownerID == "" {
		return fmt.Errorf("--owner (or RIVALWATCH_OWNER) is required")
	}
	return nil
}

func formatMs(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return time.UnixMilli(*ms).Format(time.DateTime)
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
