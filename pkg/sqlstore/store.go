// Package sqlstore persists normalized berth records, and optionally every raw
// frame, to relational tables on PostgreSQL (pgx) or SQLite (modernc).
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-railfeed/pkg/railfeed"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Supported dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"

	DefaultTable      = "td_messages"
	DefaultFrameTable = "messages"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config selects the database and table.
type Config struct {
	Dialect      string `yaml:"dialect"`
	DSN          string `yaml:"dsn"`
	Table        string `yaml:"table"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// LoadConfigFromEnv reads SQL_DIALECT (default sqlite), SQL_DSN, SQL_TABLE and
// SQL_MAX_OPEN_CONNS.
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{
		Dialect: os.Getenv("SQL_DIALECT"),
		DSN:     os.Getenv("SQL_DSN"),
		Table:   os.Getenv("SQL_TABLE"),
	}
	if v := os.Getenv("SQL_MAX_OPEN_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SQL_MAX_OPEN_CONNS %q: %w", v, err)
		}
		cfg.MaxOpenConns = n
	}
	if cfg.Dialect == "" {
		cfg.Dialect = DialectSQLite
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the dialect, DSN and table name, defaulting the table.
func (c *Config) Validate() error {
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if !tableNamePattern.MatchString(c.Table) {
		return fmt.Errorf("invalid table name %q", c.Table)
	}
	if c.DSN == "" {
		return errors.New("sql dsn is required")
	}
	switch c.Dialect {
	case DialectSQLite, DialectPostgres:
		return nil
	default:
		return fmt.Errorf("unsupported sql dialect %q", c.Dialect)
	}
}

func driverName(dialect string) string {
	if dialect == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

// Store writes berth records into one table. It is safe for concurrent use.
type Store struct {
	db         *sql.DB
	dialect    string
	table      string
	insertStmt string
	logger     zerolog.Logger
}

// Open connects and pings the database. An in-memory SQLite database is pinned
// to one connection so every statement sees the same data.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:         db,
		dialect:    cfg.Dialect,
		table:      cfg.Table,
		insertStmt: insertStatement(cfg.Dialect, cfg.Table),
		logger: logger.With().
			Str("component", "SQLStore").
			Str("dialect", cfg.Dialect).
			Str("table", cfg.Table).
			Logger(),
	}, nil
}

func openDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open(driverName(cfg.Dialect), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Dialect, err)
	}
	switch {
	case cfg.Dialect == DialectSQLite && strings.Contains(cfg.DSN, ":memory:"):
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to ping %s database: %w", cfg.Dialect, err), db.Close())
	}
	return db, nil
}

// applySchema runs a schema template against table.
func applySchema(ctx context.Context, db *sql.DB, schema, table string) error {
	if _, err := db.ExecContext(ctx, strings.ReplaceAll(schema, "{{table}}", table)); err != nil {
		return fmt.Errorf("failed to ensure schema for %s: %w", table, err)
	}
	return nil
}

// countRows returns the number of rows in table.
func countRows(ctx context.Context, db *sql.DB, table string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

func insertStatement(dialect, table string) string {
	cols := "timestamp, message_type, area_id, description, from_berth, to_berth"
	params := "?, ?, ?, ?, ?, ?"
	if dialect == DialectPostgres {
		params = "$1, $2, $3, $4, $5, $6"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, cols, params)
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Table returns the configured table name.
func (s *Store) Table() string {
	return s.table
}

// EnsureSchema creates the table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == DialectPostgres {
		schema = postgresSchema
	}
	if err := applySchema(ctx, s.db, schema, s.table); err != nil {
		return err
	}
	s.logger.Info().Msg("Schema ready.")
	return nil
}

// InsertRecord writes one record.
func (s *Store) InsertRecord(ctx context.Context, rec railfeed.NormalizedRecord) error {
	return s.InsertRecords(ctx, []railfeed.NormalizedRecord{rec})
}

// InsertRecords writes all records in one transaction; nothing is written when
// any insert fails.
func (s *Store) InsertRecords(ctx context.Context, recs []railfeed.NormalizedRecord) (err error) {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, rbErr)
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.insertStmt)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range recs {
		if _, err = stmt.ExecContext(ctx,
			rec.LocalTimestamp,
			rec.MessageType,
			rec.AreaID,
			rec.Description,
			rec.FromBerth,
			rec.ToBerth,
		); err != nil {
			return fmt.Errorf("failed to insert %s record for area %s: %w", rec.MessageType, rec.AreaID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.logger.Debug().Int("count", len(recs)).Msg("Inserted records.")
	return nil
}

// Count returns the number of stored rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	return countRows(ctx, s.db, s.table)
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
