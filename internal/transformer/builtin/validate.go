package builtin

import (
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/text/language"

	"geoetl/internal/geo"
)

// Reason classifies why a row was discarded. ReasonNone means accepted.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonParseError         Reason = "parse_error"
	ReasonMissingIP          Reason = "missing_ip_address"
	ReasonMissingCountryCode Reason = "missing_country_code"
	ReasonInvalidIP          Reason = "invalid_ip_address"
	ReasonInvalidCountryCode Reason = "invalid_country_code"
)

// CountryPolicy selects how country codes are checked.
type CountryPolicy string

const (
	// PolicyISO requires membership in ISO 3166-1 alpha-2.
	PolicyISO CountryPolicy = "iso"
	// PolicyLenient accepts any non-empty code.
	PolicyLenient CountryPolicy = "lenient"
)

// ParseCountryPolicy maps a config string onto a CountryPolicy. Empty selects
// PolicyISO.
func ParseCountryPolicy(s string) (CountryPolicy, error) {
	switch CountryPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyISO:
		return PolicyISO, nil
	case PolicyLenient:
		return PolicyLenient, nil
	default:
		return "", fmt.Errorf("unknown country policy %q (want %q or %q)", s, PolicyISO, PolicyLenient)
	}
}

// GeoValidator turns a RawRow into a persisted Record. It is pure and holds no
// mutable state, so one value may be shared by any number of goroutines.
type GeoValidator struct {
	Policy CountryPolicy
}

// Validate applies, in order: trimming, mandatory-field checks, IP parsing and
// canonicalization, country-code policy, display-name normalization and
// best-effort coordinate parsing. A bad coordinate nulls the field; it never
// rejects the row.
func (v GeoValidator) Validate(row geo.RawRow) (geo.Record, Reason) {
	if row.ParseErr != nil {
		return geo.Record{}, ReasonParseError
	}

	ip := Clean(row.IPAddress)
	cc := Clean(row.CountryCode)
	if ip == "" {
		return geo.Record{}, ReasonMissingIP
	}
	if cc == "" {
		return geo.Record{}, ReasonMissingCountryCode
	}

	canon, ok := CanonicalIP(ip)
	if !ok {
		return geo.Record{}, ReasonInvalidIP
	}

	cc = strings.ToUpper(cc)
	if v.Policy != PolicyLenient && !IsISOAlpha2(cc) {
		return geo.Record{}, ReasonInvalidCountryCode
	}

	return geo.Record{
		IPAddress:   canon,
		CountryCode: cc,
		Country:     optText(NormalizeText(row.Country)),
		City:        optText(NormalizeText(row.City)),
		Latitude:    optCoord(row.Latitude, 90),
		Longitude:   optCoord(row.Longitude, 180),
		ExtraData:   optText(Clean(row.Extra)),
	}, ReasonNone
}

// CanonicalIP parses s as IPv4 or IPv6 and returns its canonical text form.
// Dotted-quad octets with leading zeros are read as decimal. IPv4-mapped IPv6
// addresses collapse to IPv4; addresses with a zone are rejected.
func CanonicalIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(stripOctetZeros(s))
	if err != nil || addr.Zone() != "" {
		return "", false
	}
	return addr.Unmap().String(), true
}

// stripOctetZeros rewrites "010.001.002.003" to "10.1.2.3". Anything that is
// not four all-digit octets is returned unchanged.
func stripOctetZeros(s string) string {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return s
	}
	changed := false
	for i, p := range parts {
		if p == "" || strings.TrimLeft(p, "0123456789") != "" {
			return s
		}
		if len(p) > 1 && p[0] == '0' {
			p = strings.TrimLeft(p, "0")
			if p == "" {
				p = "0"
			}
			parts[i] = p
			changed = true
		}
	}
	if !changed {
		return s
	}
	return strings.Join(parts, ".")
}

// IsISOAlpha2 reports whether code is an assigned ISO 3166-1 alpha-2 country
// code. code must already be uppercase.
func IsISOAlpha2(code string) bool {
	if len(code) != 2 || code[0] < 'A' || code[0] > 'Z' || code[1] < 'A' || code[1] > 'Z' {
		return false
	}
	if _, ok := notISOAlpha2[code]; ok {
		return false
	}
	r, err := language.ParseRegion(code)
	if err != nil {
		return false
	}
	// String() differs for deprecated aliases that x/text canonicalizes.
	return r.IsCountry() && !r.IsPrivateUse() && r.String() == code
}

// notISOAlpha2 lists codes x/text reports as countries that are not assigned
// in ISO 3166-1: CLDR-only regions, exceptionally reserved codes and codes
// withdrawn from the standard.
var notISOAlpha2 = map[string]struct{}{
	// exceptionally reserved
	"AC": {}, "CP": {}, "DG": {}, "EA": {}, "EU": {}, "EZ": {}, "FX": {},
	"IC": {}, "SU": {}, "TA": {}, "UK": {}, "UN": {},
	// transitionally reserved or withdrawn
	"AN": {}, "BU": {}, "CS": {}, "DD": {}, "NT": {}, "TP": {}, "YU": {}, "ZR": {},
	"CT": {}, "DY": {}, "FQ": {}, "HV": {}, "JT": {}, "MI": {}, "NH": {},
	"NQ": {}, "PC": {}, "PU": {}, "PZ": {}, "RH": {}, "VD": {}, "WK": {}, "YD": {},
	// CLDR-only
	"CQ": {},
}

func optText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optCoord(s string, limit float64) *float64 {
	s = Clean(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > limit {
		return nil
	}
	return &f
}
