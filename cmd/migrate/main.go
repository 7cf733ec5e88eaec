package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"carwash/internal/config"
	"carwash/internal/database"

	"github.com/golang-migrate/migrate/v4"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "Path to config file")
		dbPath     = flag.String("db", "", "Path to SQLite database (overrides config)")
		command    = flag.String("command", "", "Command to run (up, down, version, steps)")
		steps      = flag.Int("n", 0, "Number of steps for the steps command")
	)
	flag.Parse()

	if *command == "" {
		flag.Usage()
		os.Exit(1)
	}

	path, table := *dbPath, ""
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Load config failed: %v", err)
		}
		path, table = cfg.Database.Path, cfg.Database.MigrationTable
	}

	m, err := database.NewMigrator(path, table)
	if err != nil {
		log.Fatalf("Migration init failed: %v", err)
	}
	defer m.Close()

	switch *command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Migration up failed: %v", err)
		}
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Migration down failed: %v", err)
		}
	case "steps":
		if *steps == 0 {
			log.Fatal("steps requires -n")
		}
		if err := m.Steps(*steps); err != nil {
			log.Fatalf("Migration steps failed: %v", err)
		}
	case "version":
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			log.Fatalf("Get version failed: %v", err)
		}
		fmt.Printf("Version: %d, Dirty: %v\n", version, dirty)
	default:
		log.Fatalf("Unknown command: %s", *command)
	}
}
