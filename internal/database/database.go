package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	ErrNotFound               = errors.New("booking not found")
	ErrSlotTaken              = errors.New("slot is already booked")
	ErrConcurrentModification = errors.New("booking was modified by another request")
)

const memoryPath = ":memory:"

type DB struct {
	*sql.DB
	path           string
	logger         *zerolog.Logger
	loc            *time.Location
	migrationTable string
}

type Option func(*DB)

// WithLocation sets the zone booking wall-clock times are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(db *DB) {
		if loc != nil {
			db.loc = loc
		}
	}
}

func WithMigrationTable(name string) Option {
	return func(db *DB) {
		if name != "" {
			db.migrationTable = name
		}
	}
}

func NewDB(path string, logger *zerolog.Logger, opts ...Option) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if path != memoryPath {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite пишет в один поток; для :memory: это ещё и единственная копия базы
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		DB:             sqlDB,
		path:           path,
		logger:         logger,
		loc:            time.Local,
		migrationTable: sqlite3.DefaultMigrationsTable,
	}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.Migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	db.logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies the embedded migrations. The migrate instance is not closed
// because that would close the shared *sql.DB.
func (db *DB) Migrate() error {
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{MigrationsTable: db.migrationTable})
	if err != nil {
		return fmt.Errorf("could not create migrate driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		db.logger.Debug().Uint("version", version).Bool("dirty", dirty).Msg("Migrations applied")
	}
	return nil
}

// NewMigrator opens a standalone migrate instance for the database file,
// used by the migration CLI. The caller must Close it.
func NewMigrator(path, table string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("could not create migration source: %w", err)
	}

	url := "sqlite3://" + path
	if table != "" {
		url += "?x-migrations-table=" + table
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return nil, fmt.Errorf("could not create migrate instance: %w", err)
	}
	return m, nil
}
