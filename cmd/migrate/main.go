package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"go.uber.org/zap"

	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/config"
	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/database"
)

const usage = `Usage: migrate [flags] <command>

Commands:
  up       apply all pending migrations
  down     roll back the most recent migration
  version  print the current schema version

Flags:
`

func main() {
	var (
		configPath = flag.String("config", "", "path to configuration file")
		sourcePath = flag.String("path", "migrations", "directory holding migration files")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		slog.Error("failed to setup logger", "error", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure is unactionable

	switch command {
	case "up":
		err = database.RunMigrations(cfg.Database.URL, *sourcePath, logger)
	case "down":
		err = database.RollbackMigration(cfg.Database.URL, *sourcePath, logger)
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = database.MigrationVersion(cfg.Database.URL, *sourcePath, logger)
		if err == nil {
			fmt.Printf("version: %d dirty: %t\n", version, dirty)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		slog.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
