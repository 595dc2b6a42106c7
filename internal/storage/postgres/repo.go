// Package postgres implements the geolocation Writer using pgx v5. Each chunk
// is COPYed into a transaction-scoped temporary table and then moved into the
// target with INSERT ... ON CONFLICT (ip_address) DO NOTHING.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"geoetl/internal/ddl"
	"geoetl/internal/geo"
)

// stageTable is the temp table each write transaction copies into.
const stageTable = "geoetl_stage"

// Config holds Postgres repository configuration.
type Config struct {
	DSN   string // connection string for pgxpool
	Table string // target table, optionally schema-qualified ("public.geolocation_records")
}

var pgTypes = ddl.Types{
	ID:    "BIGSERIAL",
	IP:    "VARCHAR(45)",
	Code:  "TEXT",
	Text:  "TEXT",
	Float: "DOUBLE PRECISION",
}

// Repository is a Postgres-backed geolocation writer.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewRepository constructs a Repository and returns a Close function for
// cleanup. The pool is pinged so an unreachable server fails here rather than
// on the first write.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if cfg.Table == "" {
		cfg.Table = geo.Table
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Repository{pool: pool, cfg: cfg}, pool.Close, nil
}

// EnsureSchema creates the target table if it does not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmt, err := createTableSQL(r.cfg.Table)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres create table: %w", err)
	}
	return nil
}

func createTableSQL(table string) (string, error) {
	return ddl.BuildCreateTableSQL(ddl.GeoTable(table, pgTypes), ddl.Dialect{Quote: pgIdent, IfNotExists: true})
}

// InsertIgnore copies recs into a staging table and inserts the ones whose
// ip_address is not yet present. Everything runs in one transaction.
func (r *Repository) InsertIgnore(ctx context.Context, recs []geo.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, createStageSQL(r.cfg.Table)); err != nil {
		return 0, fmt.Errorf("create temp: %w", err)
	}

	rows := make([][]any, len(recs))
	for i := range recs {
		rows[i] = recs[i].Values()
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{stageTable}, geo.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, pgCopyErr(err)
	}

	tag, err := tx.Exec(ctx, insertFromStageSQL(r.cfg.Table))
	if err != nil {
		return 0, fmt.Errorf("insert phase: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

func createStageSQL(table string) string {
	return fmt.Sprintf("CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT %s FROM %s WITH NO DATA",
		pgIdent(stageTable), strings.Join(mapIdent(geo.Columns), ","), pgFQN(table))
}

func insertFromStageSQL(table string) string {
	cols := strings.Join(mapIdent(geo.Columns), ",")
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO NOTHING",
		pgFQN(table), cols, cols, pgIdent(stageTable), pgIdent("ip_address"))
}

func pgCopyErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("copy into temp: %s (%s): %w", pgErr.Detail, pgErr.SQLState(), err)
	}
	return fmt.Errorf("copy into temp: %w", err)
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "public.geo" to
// "public"."geo".
func pgFQN(name string) string { return ddl.QuoteFQN(name, pgIdent) }

// mapIdent maps a list of column names to their quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}
