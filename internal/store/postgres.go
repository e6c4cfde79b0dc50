package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/caevv/runlog/internal/config"
	"github.com/caevv/runlog/internal/record"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore writes one row per run into "<schema>"."<table>":
//
//	automation_id int, run_time timestamptz, context jsonb, output jsonb,
//	flags jsonb, success bool, duration_ms int
//
// The table is expected to exist.
type PostgresStore struct {
	db            *sql.DB
	insertTimeout time.Duration
}

// OpenPostgres opens a connection pool through the pgx stdlib driver and
// pings it.
func OpenPostgres(ctx context.Context, cfg config.Postgres) (*PostgresStore, error) {
	timeouts, err := cfg.Timeouts()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeouts.Ping)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	return NewPostgresStore(db, timeouts.Insert), nil
}

// NewPostgresStore wraps an existing pool. The store takes ownership of db.
func NewPostgresStore(db *sql.DB, insertTimeout time.Duration) *PostgresStore {
	if insertTimeout <= 0 {
		insertTimeout = 10 * time.Second
	}
	return &PostgresStore{db: db, insertTimeout: insertTimeout}
}

// InsertStatement returns the parameterized insert for a run table. Schema
// and table are quoted as identifiers.
func InsertStatement(schema, table string) string {
	return fmt.Sprintf(`INSERT INTO %s (automation_id, run_time, context, output, flags, success, duration_ms) VALUES ($1, $2, $3::jsonb, $4::jsonb, $5::jsonb, $6, $7)`,
		pgx.Identifier{schema, table}.Sanitize())
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, rec *record.RunRecord) error {
	if err := validateRecord(rec, false); err != nil {
		return err
	}

	contextJSON, err := jsonObject(rec.Context)
	if err != nil {
		return errors.Wrap(err, "marshal context")
	}
	outputJSON, err := jsonObject(rec.Output)
	if err != nil {
		return errors.Wrap(err, "marshal output")
	}
	flagsJSON, err := jsonObject(rec.Flags)
	if err != nil {
		return errors.Wrap(err, "marshal flags")
	}

	ctx, cancel := context.WithTimeout(ctx, s.insertTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, InsertStatement(rec.SchemaName, rec.TableName),
		rec.AutomationID,
		rec.RunTime.UTC(),
		contextJSON,
		outputJSON,
		flagsJSON,
		rec.Success,
		rec.DurationMS,
	)
	if err != nil {
		return errors.Wrapf(err, "insert run into %s.%s", rec.SchemaName, rec.TableName)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
