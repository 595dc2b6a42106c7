package datadog

import (
	"reflect"
	"testing"

	"geoetl/internal/metrics"
)

type call struct {
	kind  string
	name  string
	value float64
	tags  []string
}

type fakeClient struct {
	calls  []call
	closed bool
}

func (f *fakeClient) Count(name string, value int64, tags []string, _ float64) error {
	f.calls = append(f.calls, call{"count", name, float64(value), tags})
	return nil
}

func (f *fakeClient) Histogram(name string, value float64, tags []string, _ float64) error {
	f.calls = append(f.calls, call{"histogram", name, value, tags})
	return nil
}

func (f *fakeClient) Close() error { f.closed = true; return nil }

func TestNewBackend(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend(Config{}); err == nil {
		t.Fatal("want error for empty Addr")
	}
	// UDP client creation does not need a listening agent.
	b, err := NewBackend(Config{Addr: "127.0.0.1:8125", Namespace: "geoetl.", GlobalTags: []string{"env:test"}})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestBackendForwardsWithTags(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	b := &Backend{client: fc}

	b.IncCounter(metrics.RecordsTotal, 3, metrics.Labels{"kind": metrics.KindAccepted, "job": "geo_ingest"})
	b.ObserveHistogram(metrics.StepDuration, 0.25, metrics.Labels{"step": "write"})
	b.IncCounter(metrics.BatchesTotal, 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	want := []call{
		{"count", metrics.RecordsTotal, 3, []string{"job:geo_ingest", "kind:accepted"}},
		{"histogram", metrics.StepDuration, 0.25, []string{"step:write"}},
		{"count", metrics.BatchesTotal, 1, nil},
	}
	if !reflect.DeepEqual(fc.calls, want) {
		t.Fatalf("calls =\n%v\nwant\n%v", fc.calls, want)
	}
	if !fc.closed {
		t.Fatal("Flush did not close the client")
	}
}

func TestNilClientIsNoop(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	b.IncCounter("x", 1, nil)
	b.ObserveHistogram("x", 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
