package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-railfeed/pkg/icestore"
	"github.com/rs/zerolog"
)

//go:embed schema_messages_sqlite.sql
var sqliteFrameSchema string

//go:embed schema_messages_postgres.sql
var postgresFrameSchema string

// FrameStore keeps every received frame, whatever its category, as one row of
// (topic, message_id, message_data, timestamp). It is an icestore.DataUploader,
// so it sits behind the same best-effort batcher as the Cloud Storage archive.
type FrameStore struct {
	db         *sql.DB
	dialect    string
	table      string
	insertStmt string
	logger     zerolog.Logger
}

// OpenFrameStore connects and pings the database. An empty table name selects
// DefaultFrameTable.
func OpenFrameStore(ctx context.Context, cfg Config, logger zerolog.Logger) (*FrameStore, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultFrameTable
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	params := "?, ?, ?, ?"
	if cfg.Dialect == DialectPostgres {
		params = "$1, $2, $3, $4"
	}
	return &FrameStore{
		db:         db,
		dialect:    cfg.Dialect,
		table:      cfg.Table,
		insertStmt: fmt.Sprintf("INSERT INTO %s (topic, message_id, message_data, timestamp) VALUES (%s)", cfg.Table, params),
		logger: logger.With().
			Str("component", "FrameStore").
			Str("dialect", cfg.Dialect).
			Str("table", cfg.Table).
			Logger(),
	}, nil
}

// EnsureSchema creates the frame table when it does not exist.
func (f *FrameStore) EnsureSchema(ctx context.Context) error {
	schema := sqliteFrameSchema
	if f.dialect == DialectPostgres {
		schema = postgresFrameSchema
	}
	return applySchema(ctx, f.db, schema, f.table)
}

// UploadBatch inserts the frames in one transaction, stamped with the time
// they were archived.
func (f *FrameStore) UploadBatch(ctx context.Context, items []*icestore.ArchivalData) (err error) {
	if len(items) == 0 {
		return nil
	}
	tx, err := f.db.BeginTx(ctx, nil)
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

	stmt, err := tx.PrepareContext(ctx, f.insertStmt)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, item := range items {
		if item == nil {
			continue
		}
		if _, err = stmt.ExecContext(ctx, item.Destination, item.ID, frameData(item), item.ArchivedAt); err != nil {
			return fmt.Errorf("failed to insert frame %s: %w", item.ID, err)
		}
		inserted++
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	f.logger.Debug().Int("count", inserted).Msg("Inserted frames.")
	return nil
}

// frameData is the frame body as received.
func frameData(item *icestore.ArchivalData) string {
	if len(item.Body) > 0 {
		return string(item.Body)
	}
	return string(item.RawBody)
}

// Count returns the number of stored frames.
func (f *FrameStore) Count(ctx context.Context) (int, error) {
	return countRows(ctx, f.db, f.table)
}

// DB exposes the underlying pool.
func (f *FrameStore) DB() *sql.DB {
	return f.db
}

// Close closes the pool.
func (f *FrameStore) Close() error {
	return f.db.Close()
}
