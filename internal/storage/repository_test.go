package storage

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"geoetl/internal/geo"
)

// fakeWriter records InsertIgnore calls and ignores addresses it has seen.
type fakeWriter struct {
	calls  int
	seen   map[string]bool
	err    error
	closed bool
}

func (f *fakeWriter) InsertIgnore(_ context.Context, recs []geo.Record) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	var n int64
	for _, r := range recs {
		if f.seen[r.IPAddress] {
			continue
		}
		f.seen[r.IPAddress] = true
		n++
	}
	return n, nil
}

func (f *fakeWriter) EnsureSchema(context.Context) error { return nil }
func (f *fakeWriter) Close()                             { f.closed = true }

func rec(ip string) geo.Record { return geo.Record{IPAddress: ip, CountryCode: "US"} }

func TestRegisterAndNew(t *testing.T) {
	t.Parallel()

	var gotTable string
	Register("fake-new", func(_ context.Context, cfg Config) (Writer, error) {
		gotTable = cfg.Table
		return &fakeWriter{}, nil
	})

	w, err := New(context.Background(), Config{Kind: "fake-new"})
	if err != nil || w == nil {
		t.Fatalf("New = %v, %v", w, err)
	}
	if gotTable != geo.Table {
		t.Fatalf("table = %q, want default %q", gotTable, geo.Table)
	}

	found := false
	for _, k := range Kinds() {
		found = found || k == "fake-new"
	}
	if !found {
		t.Fatalf("Kinds() = %v, missing fake-new", Kinds())
	}
}

func TestNew_UnknownKind(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Kind: "does-not-exist"})
	if !errors.Is(err, ErrUnknownKind) || !strings.Contains(err.Error(), "does-not-exist") {
		t.Fatalf("err = %v, want ErrUnknownKind naming the kind", err)
	}
}

func TestRegister_Override(t *testing.T) {
	t.Parallel()

	calls := 0
	Register("fake-override", func(context.Context, Config) (Writer, error) { calls++; return &fakeWriter{}, nil })
	Register("fake-override", func(context.Context, Config) (Writer, error) { calls += 10; return &fakeWriter{}, nil })

	if _, err := New(context.Background(), Config{Kind: "fake-override"}); err != nil {
		t.Fatalf("New: %v", err)
	}
	if calls != 10 {
		t.Fatalf("factory call count = %d, want 10", calls)
	}
}

func TestWriteChunk(t *testing.T) {
	t.Parallel()

	t.Run("empty_issues_no_write", func(t *testing.T) {
		w := &fakeWriter{}
		sub, stored, err := WriteChunk(context.Background(), w, nil)
		if sub != 0 || stored != 0 || err != nil || w.calls != 0 {
			t.Fatalf("got %d/%d/%v calls=%d", sub, stored, err, w.calls)
		}
	})

	t.Run("duplicates_counted_as_submitted", func(t *testing.T) {
		w := &fakeWriter{}
		recs := []geo.Record{rec("1.1.1.1"), rec("2.2.2.2"), rec("1.1.1.1")}
		sub, stored, err := WriteChunk(context.Background(), w, recs)
		if err != nil {
			t.Fatalf("WriteChunk: %v", err)
		}
		if sub != 3 || stored != 2 || w.calls != 1 {
			t.Fatalf("submitted=%d stored=%d calls=%d, want 3/2/1", sub, stored, w.calls)
		}
	})

	t.Run("existing_keys_not_stored", func(t *testing.T) {
		w := &fakeWriter{seen: map[string]bool{"1.1.1.1": true}}
		sub, stored, err := WriteChunk(context.Background(), w, []geo.Record{rec("1.1.1.1")})
		if err != nil || sub != 1 || stored != 0 {
			t.Fatalf("got %d/%d/%v, want 1/0/nil", sub, stored, err)
		}
	})

	t.Run("error_propagates", func(t *testing.T) {
		boom := errors.New("boom")
		sub, _, err := WriteChunk(context.Background(), &fakeWriter{err: boom}, []geo.Record{rec("::1")})
		if !errors.Is(err, boom) || sub != 0 {
			t.Fatalf("got sub=%d err=%v", sub, err)
		}
	})
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	sub, stored, err := WriteChunk(context.Background(), Discard{}, []geo.Record{rec("::1")})
	if err != nil || sub != 1 || stored != 0 {
		t.Fatalf("Discard: %d/%d/%v", sub, stored, err)
	}
}

func TestConnect_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var tries atomic.Int32
	Register("fake-flaky", func(context.Context, Config) (Writer, error) {
		if tries.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return &fakeWriter{}, nil
	})

	var logged int
	w, err := Connect(context.Background(), Config{Kind: "fake-flaky"},
		RetryPolicy{Attempts: 5, Delay: time.Millisecond},
		func(string, ...any) { logged++ })
	if err != nil || w == nil {
		t.Fatalf("Connect = %v, %v", w, err)
	}
	if tries.Load() != 3 || logged != 2 {
		t.Fatalf("tries=%d logged=%d, want 3/2", tries.Load(), logged)
	}
}

func TestConnect_GivesUp(t *testing.T) {
	t.Parallel()

	var tries atomic.Int32
	down := errors.New("connection refused")
	Register("fake-down", func(context.Context, Config) (Writer, error) {
		tries.Add(1)
		return nil, down
	})

	_, err := Connect(context.Background(), Config{Kind: "fake-down"},
		RetryPolicy{Attempts: 4, Delay: time.Millisecond, Exponential: true}, nil)
	if !errors.Is(err, down) || !strings.Contains(err.Error(), "after 4 attempt(s)") {
		t.Fatalf("err = %v", err)
	}
	if tries.Load() != 4 {
		t.Fatalf("tries = %d, want 4", tries.Load())
	}
}

func TestConnect_UnknownKindIsPermanent(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), Config{Kind: "never-registered"},
		RetryPolicy{Attempts: 5, Delay: time.Hour}, nil)
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestConnect_ContextCanceled(t *testing.T) {
	t.Parallel()

	Register("fake-slow", func(context.Context, Config) (Writer, error) {
		return nil, errors.New("timeout")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, Config{Kind: "fake-slow"}, RetryPolicy{Attempts: 5, Delay: time.Hour}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
