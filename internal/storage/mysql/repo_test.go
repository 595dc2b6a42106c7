package mysql

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"

	"geoetl/internal/ddl"
	"geoetl/internal/geo"
	"geoetl/internal/storage"
)

// TestMyIdent verifies that myIdent correctly backtick-quotes identifiers and
// escapes backticks by doubling them.
func TestMyIdent(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"simple", "`simple`"},
		{"tick`name", "`tick``name`"},
		{"weird``x", "`weird````x`"},
	}
	for _, tc := range cases {
		if got := myIdent(tc.in); got != tc.want {
			t.Fatalf("myIdent(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestMyFQN(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"table", "`table`"},
		{"geo.table", "`geo`.`table`"},
	}
	for _, tc := range cases {
		if got := myFQN(tc.in); got != tc.want {
			t.Fatalf("myFQN(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestCreateTableDDL(t *testing.T) {
	t.Parallel()

	got, err := ddl.BuildCreateTableSQL(ddl.GeoTable("geo", myTypes), ddl.Dialect{Quote: myIdent, IfNotExists: true})
	if err != nil {
		t.Fatalf("BuildCreateTableSQL: %v", err)
	}
	for _, w := range []string{
		"CREATE TABLE IF NOT EXISTS `geo`",
		"`ip_address` VARCHAR(45) NOT NULL",
		"`country_code` TEXT NOT NULL", // lenient policy allows codes of any length
		"UNIQUE (`ip_address`)",
	} {
		if !strings.Contains(got, w) {
			t.Errorf("DDL missing %q\n%s", w, got)
		}
	}
}

func TestInsertSQL(t *testing.T) {
	got := insertSQL("geolocation_records", 2)
	want := "INSERT INTO `geolocation_records` " +
		"(`ip_address`,`country_code`,`country`,`city`,`latitude`,`longitude`,`extra_data`) " +
		"VALUES (?,?,?,?,?,?,?),(?,?,?,?,?,?,?) " +
		"ON DUPLICATE KEY UPDATE `ip_address` = `ip_address`"
	if got != want {
		t.Fatalf("insertSQL =\n%s\nwant\n%s", got, want)
	}
	if n := strings.Count(insertSQL("t", rowsPerStatement), "?"); n != rowsPerStatement*len(geo.Columns) || n > 65535 {
		t.Fatalf("placeholders = %d", n)
	}
}

func TestNewRepository_BadDSN(t *testing.T) {
	if _, _, err := NewRepository(context.Background(), Config{DSN: "not a dsn"}); err == nil {
		t.Fatal("want DSN error")
	}
}

func TestAdapterRegistration(t *testing.T) {
	orig := newRepository
	defer func() { newRepository = orig }()

	var gotCfg Config
	closed := false
	newRepository = func(ctx context.Context, cfg Config) (*Repository, func(), error) {
		gotCfg = cfg
		return &Repository{}, func() { closed = true }, nil
	}

	w, err := storage.New(context.Background(), storage.Config{Kind: "mysql", DSN: "u:p@tcp(db:3306)/geo", Table: "geo.t"})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	if gotCfg.DSN != "u:p@tcp(db:3306)/geo" || gotCfg.Table != "geo.t" {
		t.Fatalf("cfg = %+v", gotCfg)
	}
	w.Close()
	if !closed {
		t.Fatal("Close did not invoke closeFn")
	}

	boom := errors.New("refused")
	newRepository = func(context.Context, Config) (*Repository, func(), error) { return nil, nil, boom }
	if _, err := storage.New(context.Background(), storage.Config{Kind: "mysql"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

// TestInsertIgnore_Integration runs only when TEST_MYSQL_DSN is set, e.g.
//
//	TEST_MYSQL_DSN='root:secret@tcp(127.0.0.1:3306)/testdb' go test ./internal/storage/mysql
func TestInsertIgnore_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("skipping integration test: set TEST_MYSQL_DSN to run")
	}

	ctx := context.Background()
	const table = "__geoetl_insert_test"
	repo, closeFn, err := NewRepository(ctx, Config{DSN: dsn, Table: table})
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	defer closeFn()

	_, _ = repo.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+myFQN(table))
	defer func() { _, _ = repo.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+myFQN(table)) }()
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	n, err := repo.InsertIgnore(ctx, []geo.Record{{IPAddress: "1.1.1.1", CountryCode: "AU"}, {IPAddress: "::1", CountryCode: "US"}})
	if err != nil || n != 2 {
		t.Fatalf("InsertIgnore = %d, %v; want 2", n, err)
	}
	n, err = repo.InsertIgnore(ctx, []geo.Record{{IPAddress: "1.1.1.1", CountryCode: "NL"}, {IPAddress: "2.2.2.2", CountryCode: "FR"}})
	if err != nil || n != 1 {
		t.Fatalf("second InsertIgnore = %d, %v; want 1", n, err)
	}

	var cc string
	err = repo.db.QueryRowContext(ctx, "SELECT country_code FROM "+myFQN(table)+" WHERE ip_address = ?", "1.1.1.1").Scan(&cc)
	if errors.Is(err, sql.ErrNoRows) || cc != "AU" {
		t.Fatalf("country_code = %q (%v), want AU", cc, err)
	}
}
