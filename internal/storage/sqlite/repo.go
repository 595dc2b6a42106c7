// Package sqlite implements the geolocation Writer on SQLite via
// modernc.org/sqlite (pure Go, no cgo). Each chunk is written with a prepared
// INSERT OR IGNORE inside one transaction; the UNIQUE key on ip_address makes
// existing addresses a silent no-op.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"geoetl/internal/ddl"
	"geoetl/internal/geo"
)

// Config holds SQLite writer configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:geo.db?_pragma=busy_timeout(5000)"
	//   ":memory:"
	DSN string

	// Table is the target table name.
	Table string
}

var sqliteTypes = ddl.Types{ID: "INTEGER", IP: "TEXT", Code: "TEXT", Text: "TEXT", Float: "REAL"}

// Repository is the SQLite-backed geolocation writer.
type Repository struct {
	db        *sql.DB
	cfg       Config
	insertSQL string
}

// NewRepository opens and pings the database and returns the repository plus
// a close function.
//
// The pool is limited to one connection: SQLite serializes writers anyway,
// and ":memory:" databases exist per connection.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	if cfg.Table == "" {
		cfg.Table = geo.Table
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")

	r := &Repository{db: db, cfg: cfg, insertSQL: buildInsertSQL(cfg.Table)}
	return r, func() { _ = db.Close() }, nil
}

func buildInsertSQL(table string) string {
	ph := strings.TrimSuffix(strings.Repeat("?, ", len(geo.Columns)), ", ")
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		ddl.QuoteFQN(table, quoteIdent), strings.Join(mapIdent(geo.Columns), ", "), ph)
}

// EnsureSchema creates the table if missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmt, err := ddl.BuildCreateTableSQL(ddl.GeoTable(r.cfg.Table, sqliteTypes), ddl.Dialect{Quote: quoteIdent, IfNotExists: true})
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlite: create table: %w", err)
	}
	return nil
}

// InsertIgnore writes recs in one transaction and returns the number of new
// rows. Any failure rolls back the whole chunk.
func (r *Repository) InsertIgnore(ctx context.Context, recs []geo.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, r.insertSQL)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	var stored int64
	for i := range recs {
		res, err := stmt.ExecContext(ctx, recs[i].Values()...)
		if err != nil {
			return 0, fmt.Errorf("sqlite: insert %s: %w", recs[i].IPAddress, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("sqlite: rows affected: %w", err)
		}
		stored += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return stored, nil
}

// Count returns the number of rows in the table.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+ddl.QuoteFQN(r.cfg.Table, quoteIdent)).Scan(&n)
	return n, err
}

// Lookup returns the stored record for ip, or sql.ErrNoRows.
func (r *Repository) Lookup(ctx context.Context, ip string) (geo.Record, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		strings.Join(mapIdent(geo.Columns), ", "), ddl.QuoteFQN(r.cfg.Table, quoteIdent), quoteIdent("ip_address"))

	var (
		rec                  geo.Record
		country, city, extra sql.NullString
		lat, lon             sql.NullFloat64
	)
	err := r.db.QueryRowContext(ctx, q, ip).Scan(&rec.IPAddress, &rec.CountryCode, &country, &city, &lat, &lon, &extra)
	if err != nil {
		return geo.Record{}, err
	}
	rec.Country = nullStr(country)
	rec.City = nullStr(city)
	rec.ExtraData = nullStr(extra)
	if lat.Valid {
		rec.Latitude = &lat.Float64
	}
	if lon.Valid {
		rec.Longitude = &lon.Float64
	}
	return rec, nil
}

func nullStr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

// quoteIdent quotes a single identifier for SQLite.
func quoteIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = quoteIdent(c)
	}
	return out
}
