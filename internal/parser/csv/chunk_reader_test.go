package csv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"geoetl/internal/config"
	"geoetl/internal/datasource/file"
	"geoetl/internal/geo"
)

const header = "ip_address,country_code,country,city,latitude,longitude,mystery_value\n"

// trackingCloser records Close calls.
type trackingCloser struct {
	io.Reader
	closed bool
}

func (c *trackingCloser) Close() error { c.closed = true; return nil }

func newReader(t *testing.T, body string, size int, opt Options) *ChunkReader {
	t.Helper()
	r, err := NewChunkReader(io.NopCloser(strings.NewReader(body)), size, opt)
	if err != nil {
		t.Fatalf("NewChunkReader: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// drain reads every chunk and returns their sizes and all rows.
func drain(t *testing.T, r *ChunkReader) ([]int, []geo.RawRow) {
	t.Helper()
	var sizes []int
	var rows []geo.RawRow
	for {
		batch, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return sizes, rows
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		sizes = append(sizes, len(batch))
		rows = append(rows, batch...)
	}
}

func dataLines(n int) string {
	var b strings.Builder
	b.WriteString(header)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "10.0.%d.%d,NL,Netherlands,Amsterdam,52.37,4.89,%d\n", i/256, i%256, i)
	}
	return b.String()
}

func TestNext_ChunkSizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rows, size int
		want       []int
	}{
		{rows: 5, size: 2, want: []int{2, 2, 1}},
		{rows: 4, size: 2, want: []int{2, 2}},
		{rows: 1, size: 1000, want: []int{1}},
		{rows: 0, size: 3, want: nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(fmt.Sprintf("rows=%d/size=%d", tt.rows, tt.size), func(t *testing.T) {
			t.Parallel()

			sizes, rows := drain(t, newReader(t, dataLines(tt.rows), tt.size, Options{}))
			if fmt.Sprint(sizes) != fmt.Sprint(tt.want) {
				t.Fatalf("chunk sizes = %v, want %v", sizes, tt.want)
			}
			if len(rows) != tt.rows {
				t.Fatalf("rows = %d, want %d", len(rows), tt.rows)
			}
		})
	}
}

func TestNext_PreservesOrderAndFields(t *testing.T) {
	t.Parallel()

	_, rows := drain(t, newReader(t, dataLines(300), 7, Options{}))
	for i, r := range rows {
		if want := fmt.Sprintf("10.0.%d.%d", i/256, i%256); r.IPAddress != want {
			t.Fatalf("row %d ip = %q, want %q", i, r.IPAddress, want)
		}
		if r.Line != i+2 {
			t.Fatalf("row %d line = %d, want %d", i, r.Line, i+2)
		}
	}
	first := rows[0]
	want := geo.RawRow{
		Line: 2, IPAddress: "10.0.0.0", CountryCode: "NL", Country: "Netherlands",
		City: "Amsterdam", Latitude: "52.37", Longitude: "4.89", Extra: "0",
	}
	if first != want {
		t.Fatalf("first row = %#v, want %#v", first, want)
	}
}

func TestNext_AfterEOFStaysEOF(t *testing.T) {
	t.Parallel()

	r := newReader(t, dataLines(2), 2, Options{})
	if _, err := r.Next(context.Background()); err != nil {
		t.Fatalf("first Next: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := r.Next(context.Background()); !errors.Is(err, io.EOF) {
			t.Fatalf("Next #%d = %v, want io.EOF", i+2, err)
		}
	}
}

func TestNewChunkReader_InvalidChunkSize(t *testing.T) {
	t.Parallel()

	for _, size := range []int{0, -1} {
		src := &trackingCloser{Reader: strings.NewReader(dataLines(1))}
		_, err := NewChunkReader(src, size, Options{})
		if !errors.Is(err, ErrInvalidChunkSize) {
			t.Fatalf("size=%d: err = %v, want ErrInvalidChunkSize", size, err)
		}
		if !src.closed {
			t.Fatalf("size=%d: source not closed", size)
		}
	}
}

func TestNewChunkReader_HeaderErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		wantIs error
	}{
		{name: "empty_file", body: "", wantIs: io.EOF},
		{name: "missing_ip", body: "country_code,city\nUS,NYC\n", wantIs: ErrMissingColumn},
		{name: "missing_country_code", body: "ip_address,city\n1.1.1.1,NYC\n", wantIs: ErrMissingColumn},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := &trackingCloser{Reader: strings.NewReader(tt.body)}
			_, err := NewChunkReader(src, 10, Options{})
			if !errors.Is(err, tt.wantIs) {
				t.Fatalf("err = %v, want %v", err, tt.wantIs)
			}
			if !src.closed {
				t.Fatal("source not closed on header error")
			}
		})
	}
}

func TestHeader_FoldingOrderAndBOM(t *testing.T) {
	t.Parallel()

	body := "\uFEFF City , Latitude,Longitude, IP Address ,Country_Code,País\n" +
		"Tokyo,35.68,139.69,1.0.16.0,jp,Japan\n"
	_, rows := drain(t, newReader(t, body, 10, Options{HeaderMap: map[string]string{"pais": "country"}}))
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	got := rows[0]
	if got.IPAddress != "1.0.16.0" || got.CountryCode != "jp" || got.City != "Tokyo" ||
		got.Latitude != "35.68" || got.Longitude != "139.69" || got.Country != "Japan" {
		t.Fatalf("row = %#v", got)
	}
	if got.Extra != "" {
		t.Fatalf("extra = %q, want empty without passthrough column", got.Extra)
	}
}

func TestOptions_DelimiterAndExtraColumn(t *testing.T) {
	t.Parallel()

	opt := OptionsFrom(config.Options{
		"comma":        ";",
		"header_map":   map[string]any{"IP": "ip_address", "CC": "country_code"},
		"extra_column": "Notes",
	})
	body := "IP;CC;notes;extra_data\n8.8.8.8;US;dns;ignored\n"
	_, rows := drain(t, newReader(t, body, 10, opt))
	if len(rows) != 1 || rows[0].IPAddress != "8.8.8.8" || rows[0].CountryCode != "US" || rows[0].Extra != "dns" {
		t.Fatalf("rows = %#v", rows)
	}
}

func TestNext_ShortRowsAndParseErrors(t *testing.T) {
	t.Parallel()

	body := header +
		"1.1.1.1,AU\n" + // short row: trailing fields absent
		"2.2.2.2,FR,\"Fra\"nce\",Paris,,,\n" + // bare quote in quoted field
		"3.3.3.3,DE,Germany,Berlin,52.5,13.4,x\n"
	r := newReader(t, body, 10, Options{})
	_, rows := drain(t, r)

	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3 (every data line accounted for)", len(rows))
	}
	if rows[0].IPAddress != "1.1.1.1" || rows[0].City != "" || rows[0].ParseErr != nil {
		t.Fatalf("short row = %#v", rows[0])
	}
	if rows[1].ParseErr == nil || rows[1].Line != 3 {
		t.Fatalf("malformed row = %#v, want ParseErr at line 3", rows[1])
	}
	if rows[2].IPAddress != "3.3.3.3" || rows[2].ParseErr != nil {
		t.Fatalf("row after malformed = %#v", rows[2])
	}
	if r.ParseErrors() != 1 {
		t.Fatalf("ParseErrors = %d, want 1", r.ParseErrors())
	}
}

func TestNext_LazyQuotes(t *testing.T) {
	t.Parallel()

	body := header + "2.2.2.2,FR,Fra\"nce,Paris,,,\n"
	_, rows := drain(t, newReader(t, body, 10, Options{LazyQuotes: true}))
	if len(rows) != 1 || rows[0].ParseErr != nil || rows[0].Country != "Fra\"nce" {
		t.Fatalf("rows = %#v", rows)
	}
}

func TestNext_ContextCanceled(t *testing.T) {
	t.Parallel()

	r := newReader(t, dataLines(3), 1, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := r.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	cancel()
	if _, err := r.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestOpen_FromLocalFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "geo.csv")
	if err := os.WriteFile(path, []byte(dataLines(3)), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(context.Background(), file.NewLocal(path), 0, Options{}); !errors.Is(err, ErrInvalidChunkSize) {
		t.Fatalf("err = %v, want ErrInvalidChunkSize", err)
	}
	if _, err := Open(context.Background(), file.NewLocal(path+".missing"), 2, Options{}); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}

	r, err := Open(context.Background(), file.NewLocal(path), 2, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	sizes, _ := drain(t, r)
	if fmt.Sprint(sizes) != "[2 1]" {
		t.Fatalf("chunk sizes = %v, want [2 1]", sizes)
	}
}

func TestStripHeaderBOM(t *testing.T) {
	t.Parallel()

	got := stripHeaderBOM([]string{"\uFEFFip_address", "country_code"})
	if got[0] != "ip_address" || got[1] != "country_code" {
		t.Fatalf("stripHeaderBOM = %q", got)
	}
	if got := stripHeaderBOM(nil); len(got) != 0 {
		t.Fatalf("stripHeaderBOM(nil) = %q", got)
	}
}
