// Package ddl defines a small, backend-agnostic model for SQL DDL and renders
// CREATE TABLE statements from it. Backends supply a Dialect (identifier
// quoting, IF NOT EXISTS support) and a Types mapping; the geolocation table
// shape itself lives here so every backend creates the same logical table.
package ddl

import (
	"fmt"
	"strings"

	"geoetl/internal/geo"
)

// GeoTable returns the geolocation_records table definition for fqn:
// a surrogate id, ip_address unique and not null, country_code not null, and
// nullable country, city, latitude, longitude and extra_data.
func GeoTable(fqn string, ty Types) TableDef {
	cols := []ColumnDef{{Name: "id", SQLType: ty.ID, PrimaryKey: true}}
	for _, name := range geo.Columns {
		c := ColumnDef{Name: name, Nullable: true}
		switch name {
		case "ip_address":
			c.SQLType, c.Nullable, c.Unique = ty.IP, false, true
		case "country_code":
			c.SQLType, c.Nullable = ty.Code, false
		case "latitude", "longitude":
			c.SQLType = ty.Float
		default:
			c.SQLType = ty.Text
		}
		cols = append(cols, c)
	}
	return TableDef{FQN: fqn, Columns: cols}
}

// BuildCreateTableSQL renders a CREATE TABLE statement from t.
//
// Rules:
//   - t.FQN must be non-empty; each dotted segment is quoted with d.Quote.
//   - Each column must have a non-empty Name and SQLType.
//   - A column renders as: <name> <type> [NOT NULL] [DEFAULT <expr>].
//     Primary key columns are always NOT NULL.
//   - PRIMARY KEY (...) and one UNIQUE (...) per unique column follow the
//     column list, in column order.
func BuildCreateTableSQL(t TableDef, d Dialect) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}

	q := d.Quote
	if q == nil {
		q = func(s string) string { return s }
	}

	cols := make([]string, 0, len(t.Columns)+2)
	var pks, uniques []string

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("ddl: column %s missing SQLType", name)
		}

		var sb strings.Builder
		sb.WriteString(q(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable || c.PrimaryKey {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, q(name))
		}
		if c.Unique {
			uniques = append(uniques, q(name))
		}
	}

	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}
	for _, u := range uniques {
		cols = append(cols, fmt.Sprintf("UNIQUE (%s)", u))
	}

	create := "CREATE TABLE "
	if d.IfNotExists {
		create += "IF NOT EXISTS "
	}
	return fmt.Sprintf("%s%s (\n  %s\n)", create, QuoteFQN(fqn, q), strings.Join(cols, ",\n  ")), nil
}

// QuoteFQN quotes each dotted segment of name with q.
func QuoteFQN(name string, q func(string) string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = q(strings.TrimSpace(p))
	}
	return strings.Join(parts, ".")
}
