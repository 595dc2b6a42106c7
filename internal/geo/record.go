// Package geo defines the typed records that flow through the ingestion
// pipeline: the untyped RawRow read from a source file and the validated
// Record that is persisted to storage.
package geo

// Table is the default destination table for geolocation records.
const Table = "geolocation_records"

// Columns is the destination column order used by every storage backend.
// Record.Values returns values aligned with it.
var Columns = []string{
	"ip_address",
	"country_code",
	"country",
	"city",
	"latitude",
	"longitude",
	"extra_data",
}

// RawRow is one input record exactly as read from the source. No invariants
// hold on a RawRow; every field may be empty or malformed.
type RawRow struct {
	// Line is the 1-based physical line in the source (header is line 1).
	Line int

	IPAddress   string
	CountryCode string
	Country     string
	City        string
	Latitude    string
	Longitude   string
	Extra       string

	// ParseErr is set when the reader could not decode the line at all
	// (e.g. broken quoting). Such rows are always rejected by the validator.
	ParseErr error
}

// Record is a validated, normalized geolocation entry ready for persistence.
//
// IPAddress is the canonical textual form of a parsed IPv4/IPv6 address and
// uniquely identifies a record in the store. Optional fields are nil when
// absent.
type Record struct {
	IPAddress   string
	CountryCode string
	Country     *string
	City        *string
	Latitude    *float64
	Longitude   *float64
	ExtraData   *string
}

// Values returns the record as a row aligned with Columns. Nil pointers map to
// untyped nil so drivers write SQL NULL.
func (r Record) Values() []any {
	return []any{
		r.IPAddress,
		r.CountryCode,
		strOrNil(r.Country),
		strOrNil(r.City),
		floatOrNil(r.Latitude),
		floatOrNil(r.Longitude),
		strOrNil(r.ExtraData),
	}
}

func strOrNil(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatOrNil(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
