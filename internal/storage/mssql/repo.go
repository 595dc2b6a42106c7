// Package mssql implements the geolocation Writer on Microsoft SQL Server
// using the go-mssqldb bulk copy API. A chunk is bulk-copied into a session
// temp table (#geoetl_stage) and then inserted into the target where its
// ip_address is not present yet, all in one transaction.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"geoetl/internal/ddl"
	"geoetl/internal/geo"
)

const stageTable = "#geoetl_stage"

// Config holds MSSQL repository configuration.
type Config struct {
	DSN   string
	Table string // e.g. "dbo.geolocation_records"
}

var msTypes = ddl.Types{
	ID:    "BIGINT IDENTITY(1,1)",
	IP:    "NVARCHAR(45)",
	Code:  "NVARCHAR(MAX)",
	Text:  "NVARCHAR(MAX)",
	Float: "FLOAT",
}

// Repository is an MSSQL-backed geolocation writer.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	if cfg.Table == "" {
		cfg.Table = geo.Table
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	return &Repository{db: db, cfg: cfg}, func() { _ = db.Close() }, nil
}

// EnsureSchema creates the target table unless OBJECT_ID finds it.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmt, err := createTableSQL(r.cfg.Table)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("mssql create table: %w", err)
	}
	return nil
}

func createTableSQL(table string) (string, error) {
	create, err := ddl.BuildCreateTableSQL(ddl.GeoTable(table, msTypes), ddl.Dialect{Quote: msIdent})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\n%s",
		strings.ReplaceAll(msFQN(table), "'", "''"), create), nil
}

// InsertIgnore bulk-copies recs into the stage table and inserts the ones
// whose ip_address is new. It returns the number of inserted rows.
func (r *Repository) InsertIgnore(ctx context.Context, recs []geo.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Pooled sessions may still hold a stage table from an earlier chunk.
	if _, err := tx.ExecContext(ctx, dropStageSQL()); err != nil {
		return 0, fmt.Errorf("drop temp: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createStageSQL(r.cfg.Table)); err != nil {
		return 0, fmt.Errorf("create temp: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(stageTable, mssql.BulkOptions{}, geo.Columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range recs {
		if _, err := stmt.ExecContext(ctx, recs[i].Values()...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	_, err = stmt.ExecContext(ctx) // flush
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}

	res, err := tx.ExecContext(ctx, insertFromStageSQL(r.cfg.Table))
	if err != nil {
		return 0, fmt.Errorf("insert phase: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if _, err := tx.ExecContext(ctx, dropStageSQL()); err != nil {
		return 0, fmt.Errorf("drop temp: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func dropStageSQL() string {
	return fmt.Sprintf("IF OBJECT_ID(N'tempdb..%s') IS NOT NULL DROP TABLE %s", stageTable, msIdent(stageTable))
}

func createStageSQL(table string) string {
	return fmt.Sprintf("SELECT TOP 0 %s INTO %s FROM %s",
		strings.Join(mapIdent(geo.Columns), ","), msIdent(stageTable), msFQN(table))
}

func insertFromStageSQL(table string) string {
	cols := strings.Join(mapIdent(geo.Columns), ",")
	ip := msIdent("ip_address")
	return fmt.Sprintf(
		`INSERT INTO %s (%s)
  SELECT %s FROM %s AS S
  WHERE NOT EXISTS (SELECT 1 FROM %s AS T WITH (UPDLOCK, HOLDLOCK) WHERE T.%s = S.%s)`,
		msFQN(table), cols, prefixed("S.", mapIdent(geo.Columns)), msIdent(stageTable),
		msFQN(table), ip, ip,
	)
}

func prefixed(p string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = p + c
	}
	return strings.Join(out, ",")
}

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// msFQN quotes a possibly schema-qualified name like "dbo.geo" to
// "[dbo].[geo]".
func msFQN(name string) string { return ddl.QuoteFQN(name, msIdent) }

// mapIdent maps a list of column names to their bracket-quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = msIdent(c)
	}
	return out
}
