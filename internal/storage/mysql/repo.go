// Package mysql implements the geolocation Writer on MySQL/MariaDB using
// go-sql-driver/mysql. Chunks are written as multi-row INSERT statements with
// a no-op ON DUPLICATE KEY clause inside one transaction.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"geoetl/internal/ddl"
	"geoetl/internal/geo"
)

// rowsPerStatement bounds placeholders per INSERT well below the server's
// 65535 limit.
const rowsPerStatement = 1000

// Config holds MySQL repository configuration.
type Config struct {
	DSN   string // go-sql-driver DSN, e.g. "user:pass@tcp(localhost:3306)/geo"
	Table string
}

var myTypes = ddl.Types{
	ID:    "BIGINT AUTO_INCREMENT",
	IP:    "VARCHAR(45)",
	Code:  "TEXT",
	Text:  "TEXT",
	Float: "DOUBLE",
}

// Repository is a MySQL-backed geolocation writer.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository validates the DSN, opens and pings the pool and returns the
// repository plus a close function.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	if cfg.Table == "" {
		cfg.Table = geo.Table
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	return &Repository{db: db, cfg: cfg}, func() { _ = db.Close() }, nil
}

// EnsureSchema creates the target table if it does not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmt, err := ddl.BuildCreateTableSQL(ddl.GeoTable(r.cfg.Table, myTypes), ddl.Dialect{Quote: myIdent, IfNotExists: true})
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("mysql create table: %w", err)
	}
	return nil
}

// InsertIgnore writes recs in one transaction. Rows whose ip_address already
// exists are left untouched and do not count as stored.
func (r *Repository) InsertIgnore(ctx context.Context, recs []geo.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored int64
	for start := 0; start < len(recs); start += rowsPerStatement {
		batch := recs[start:min(start+rowsPerStatement, len(recs))]
		args := make([]any, 0, len(batch)*len(geo.Columns))
		for i := range batch {
			args = append(args, batch[i].Values()...)
		}
		res, err := tx.ExecContext(ctx, insertSQL(r.cfg.Table, len(batch)), args...)
		if err != nil {
			return 0, fmt.Errorf("insert rows %d..%d: %w", start, start+len(batch)-1, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		stored += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return stored, nil
}

// insertSQL builds a multi-row INSERT for n records. Without CLIENT_FOUND_ROWS
// a no-op duplicate update reports zero affected rows.
func insertSQL(table string, n int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?,", len(geo.Columns)), ",") + ")"
	ip := myIdent("ip_address")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON DUPLICATE KEY UPDATE %s = %s",
		myFQN(table),
		strings.Join(mapIdent(geo.Columns), ","),
		strings.TrimSuffix(strings.Repeat(row+",", n), ","),
		ip, ip,
	)
}

// myIdent backtick-quotes a MySQL identifier, doubling embedded backticks.
func myIdent(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

// myFQN quotes a possibly schema-qualified name like "geo.records".
func myFQN(name string) string { return ddl.QuoteFQN(name, myIdent) }

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = myIdent(c)
	}
	return out
}
