// Package csv reads delimited geolocation dumps as a lazy sequence of
// fixed-size chunks. The header is read and mapped eagerly so that a broken
// file fails the run before any chunk is produced; data lines are then pulled
// on demand, one chunk per Next call, without buffering the whole file.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"geoetl/internal/config"
	"geoetl/internal/datasource"
	"geoetl/internal/geo"
)

var (
	// ErrInvalidChunkSize is returned for a non-positive chunk size.
	ErrInvalidChunkSize = errors.New("chunk size must be > 0")

	// ErrMissingColumn is returned when the header lacks a mandatory column.
	ErrMissingColumn = errors.New("missing mandatory column")
)

// field indexes into ChunkReader.colIx.
const (
	fIP = iota
	fCountryCode
	fCountry
	fCity
	fLatitude
	fLongitude
	fExtra
	numFields
)

// canonical header names, indexed by the field constants above.
var fieldNames = [numFields]string{
	"ip_address", "country_code", "country", "city", "latitude", "longitude", "",
}

// defaultExtraColumns are accepted as the opaque passthrough column when no
// extra_column option is configured.
var defaultExtraColumns = []string{"extra_data", "mystery_value"}

// Options configures the chunk reader. Zero values are usable defaults.
type Options struct {
	// Comma is the field delimiter; 0 means ','.
	Comma rune

	// LazyQuotes relaxes quote handling (csv.Reader.LazyQuotes).
	LazyQuotes bool

	// HeaderMap renames source header names to canonical ones, e.g.
	// {"IP": "ip_address"}. Keys are matched before and after folding.
	HeaderMap map[string]string

	// ExtraColumn names the passthrough column. Empty accepts "extra_data"
	// or "mystery_value".
	ExtraColumn string
}

// OptionsFrom reads parser options from the pipeline's free-form options bag:
// comma, lazy_quotes, header_map, extra_column.
func OptionsFrom(opt config.Options) Options {
	return Options{
		Comma:       opt.Rune("comma", ','),
		LazyQuotes:  opt.Bool("lazy_quotes", false),
		HeaderMap:   opt.StringMap("header_map"),
		ExtraColumn: opt.String("extra_column", ""),
	}
}

// ChunkReader yields batches of at most size rows in file order. It is not
// safe for concurrent use and cannot be rewound; open a new reader to start
// over.
type ChunkReader struct {
	src   io.ReadCloser
	cr    *csv.Reader
	size  int
	colIx [numFields]int // source column index per field, -1 when absent
	done  bool

	parseErrors int
}

// Open opens src and returns a reader positioned after the header. The chunk
// size is checked before src is touched.
func Open(ctx context.Context, src datasource.Source, size int, opt Options) (*ChunkReader, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, size)
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	return NewChunkReader(rc, size, opt)
}

// NewChunkReader wraps rc and reads the header. On error rc is closed.
func NewChunkReader(rc io.ReadCloser, size int, opt Options) (*ChunkReader, error) {
	if size <= 0 {
		_ = rc.Close()
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, size)
	}

	cr := csv.NewReader(rc)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1 // short rows read missing trailing columns as absent

	r := &ChunkReader{src: rc, cr: cr, size: size}

	hdr, err := cr.Read()
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := r.mapHeader(stripHeaderBOM(hdr), opt); err != nil {
		_ = rc.Close()
		return nil, err
	}
	return r, nil
}

// foldAccents strips combining marks so "País" and "Pais" match.
var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeHeader lowercases, folds diacritics and joins words with '_'.
func normalizeHeader(h string) string {
	h = strings.TrimSpace(h)
	if s, _, err := transform.String(foldAccents, h); err == nil {
		h = s
	}
	return strings.Join(strings.Fields(strings.ToLower(h)), "_")
}

func (r *ChunkReader) mapHeader(hdr []string, opt Options) error {
	byName := make(map[string]int, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if mapped, ok := opt.HeaderMap[h]; ok {
			h = mapped
		} else if mapped, ok := opt.HeaderMap[normalizeHeader(h)]; ok {
			h = mapped
		}
		name := normalizeHeader(h)
		if _, dup := byName[name]; !dup {
			byName[name] = i
		}
	}

	for f := range r.colIx {
		r.colIx[f] = -1
	}
	for f, name := range fieldNames {
		if name == "" {
			continue
		}
		if i, ok := byName[name]; ok {
			r.colIx[f] = i
		}
	}

	extras := defaultExtraColumns
	if opt.ExtraColumn != "" {
		extras = []string{normalizeHeader(opt.ExtraColumn)}
	}
	for _, name := range extras {
		if i, ok := byName[name]; ok {
			r.colIx[fExtra] = i
			break
		}
	}

	for _, f := range []int{fIP, fCountryCode} {
		if r.colIx[f] < 0 {
			return fmt.Errorf("%w: %s", ErrMissingColumn, fieldNames[f])
		}
	}
	return nil
}

// Next returns the next chunk. It returns io.EOF once the source is
// exhausted; a final short chunk is returned with a nil error and the call
// after it returns io.EOF. Lines the CSV decoder cannot parse are returned as
// rows carrying ParseErr so the caller can count them as discarded. Any other
// read error is fatal.
func (r *ChunkReader) Next(ctx context.Context) ([]geo.RawRow, error) {
	if r.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := make([]geo.RawRow, 0, r.size)
	for len(batch) < r.size {
		rec, err := r.cr.Read()
		if err == io.EOF {
			r.done = true
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				r.parseErrors++
				batch = append(batch, geo.RawRow{Line: pe.StartLine, ParseErr: err})
				continue
			}
			return nil, fmt.Errorf("csv read: %w", err)
		}
		line, _ := r.cr.FieldPos(0)
		batch = append(batch, r.toRow(rec, line))
	}

	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

func (r *ChunkReader) toRow(rec []string, line int) geo.RawRow {
	get := func(f int) string {
		if i := r.colIx[f]; i >= 0 && i < len(rec) {
			return rec[i]
		}
		return ""
	}
	return geo.RawRow{
		Line:        line,
		IPAddress:   get(fIP),
		CountryCode: get(fCountryCode),
		Country:     get(fCountry),
		City:        get(fCity),
		Latitude:    get(fLatitude),
		Longitude:   get(fLongitude),
		Extra:       get(fExtra),
	}
}

// ParseErrors returns how many lines could not be decoded so far.
func (r *ChunkReader) ParseErrors() int { return r.parseErrors }

// Close releases the underlying source.
func (r *ChunkReader) Close() error { return r.src.Close() }
