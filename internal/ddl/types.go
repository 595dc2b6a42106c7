package ddl

// ColumnDef describes a single column in a table definition.
//
// Fields:
//   - Name: logical column name (unquoted; quoting happens at render time)
//   - SQLType: target SQL type (e.g., TEXT, BIGINT, VARCHAR(45))
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: part of the primary key
//   - Unique: gets its own UNIQUE constraint
//   - Default: raw default expression
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Unique     bool
	Default    string
}

// TableDef holds the table name (FQN, dotted form) and an ordered list of
// columns.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// Dialect adapts rendering to one SQL flavor.
type Dialect struct {
	// Quote quotes a single identifier segment. Nil emits names verbatim.
	Quote func(string) string

	// IfNotExists renders CREATE TABLE IF NOT EXISTS.
	IfNotExists bool
}

// Types maps the logical column kinds of the geolocation table to dialect
// SQL types.
type Types struct {
	ID    string // auto-generated surrogate key
	IP    string // canonical IP text, unique
	Code  string // country code
	Text  string // free text (country, city, extra_data)
	Float string // coordinates
}
