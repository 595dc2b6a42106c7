// Package main wires a geolocation ingestion run end to end: config → source
// → chunk reader → validator → store. It depends only on storage-agnostic
// interfaces; backends are linked in through storage/all.
package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"geoetl/internal/config"
	"geoetl/internal/datasource"
	csvparser "geoetl/internal/parser/csv"
	"geoetl/internal/pipeline"
	"geoetl/internal/storage"
	"geoetl/internal/transformer"
	"geoetl/internal/transformer/builtin"
)

const (
	// thisMany rejection samples are kept per reason for the end-of-run log.
	thisMany = 3
)

// Function variables used to introduce test seams.
// In production these point to real implementations; tests can override them.
var (
	connectFn = storage.Connect

	newSourceFn = datasource.New
)

// runOptions are CLI switches that change how a resolved pipeline runs.
type runOptions struct {
	// DryRun reads and validates but writes nothing; no store is contacted.
	DryRun bool

	// Progress enables the per-chunk progress line.
	Progress bool
}

// run executes one ingestion described by spec and returns the aggregated
// stats. Errors before the first chunk (source, header, store connection)
// come back as *pipeline.ChunkError with Chunk 0.
//
// Row-level rejections never fail the run; they are counted per reason and
// the first thisMany samples of each reason are logged at the end.
func run(ctx context.Context, spec config.Pipeline, opts runOptions, logger *log.Logger) (pipeline.Stats, error) {
	policy, err := builtin.ParseCountryPolicy(spec.Validate.CountryPolicy)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("validate.country_policy: %w", err)
	}

	src, err := newSourceFn(spec.Source)
	if err != nil {
		return pipeline.Stats{}, startupErr(pipeline.StageReading, err)
	}
	cr, err := csvparser.Open(ctx, src, spec.Runtime.ChunkSize, csvparser.OptionsFrom(spec.Parser.Options))
	if err != nil {
		return pipeline.Stats{}, startupErr(pipeline.StageReading, err)
	}
	defer cr.Close()

	w, err := openWriter(ctx, spec, opts, logger)
	if err != nil {
		return pipeline.Stats{}, startupErr(pipeline.StageWriting, err)
	}
	defer w.Close()

	var progress pipeline.Logger
	if opts.Progress {
		progress = logger
	}

	rejects := newErrAgg(thisMany)
	d, err := pipeline.NewDriver(pipeline.Config{
		Job:       spec.Job,
		Writer:    w,
		Validator: builtin.GeoValidator{Policy: policy},
		Workers:   spec.Runtime.ValidateWorkers,
		Logger:    progress,
		Observers: []pipeline.Observer{rejects, pipeline.MetricsObserver{Job: spec.Job}},
	})
	if err != nil {
		return pipeline.Stats{}, err
	}

	stats, runErr := d.Run(ctx, cr)

	logRejectionSummary(logger, rejects)
	logGlobalSummary(logger, stats, cr.ParseErrors())
	return stats, runErr
}

// openWriter connects the configured store (with retries) and bootstraps the
// table when auto_create_table is set. Dry runs get a discarding writer.
func openWriter(ctx context.Context, spec config.Pipeline, opts runOptions, logger *log.Logger) (storage.Writer, error) {
	if opts.DryRun {
		logger.Printf("dry run: records are validated but not written")
		return storage.Discard{}, nil
	}

	w, err := connectFn(ctx,
		storage.Config{Kind: spec.Storage.Kind, DSN: spec.Storage.DB.DSN, Table: spec.Storage.DB.Table},
		storage.RetryPolicy{
			Attempts:    spec.Connect.Attempts,
			Delay:       spec.Connect.Delay(),
			Exponential: spec.Connect.Exponential,
		},
		logger.Printf,
	)
	if err != nil {
		return nil, err
	}

	if spec.Storage.DB.AutoCreateTable {
		if err := w.EnsureSchema(ctx); err != nil {
			w.Close()
			return nil, fmt.Errorf("ensure table %s: %w", spec.Storage.DB.Table, err)
		}
	}
	return w, nil
}

func startupErr(stage pipeline.Stage, err error) error {
	return &pipeline.ChunkError{Stage: stage, Chunk: 0, Err: err}
}

// logGlobalSummary prints final aggregated statistics for the run.
//
// Invariant: accepted + discarded == data rows processed. parse_errors is a
// subset of discarded (reason parse_error).
func logGlobalSummary(logger *log.Logger, s pipeline.Stats, parseErrors int) {
	logger.Printf(
		"summary: processed=%d accepted=%d discarded=%d stored=%d parse_errors=%d chunks=%d elapsed=%s",
		s.Processed(),
		s.Accepted,
		s.Discarded,
		s.Stored,
		parseErrors,
		s.Chunks,
		s.Elapsed.Truncate(time.Millisecond),
	)
	if pe := s.Reasons[builtin.ReasonParseError]; int64(parseErrors) != pe {
		logger.Printf("WARNING: parse error accounting mismatch: reader=%d discarded=%d", parseErrors, pe)
	}
}

// logRejectionSummary prints per-reason counts with the first samples.
func logRejectionSummary(logger *log.Logger, a *errAgg) {
	a.mu.Lock()
	defer a.mu.Unlock()

	reasons := make([]string, 0, len(a.buckets))
	for r := range a.buckets {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)

	for _, r := range reasons {
		reason := builtin.Reason(r)
		first := a.first[reason]
		logger.Printf("rejected %s: %d (showing first %d)", reason, a.buckets[reason], len(first))
		for i, s := range first {
			logger.Printf("  #%03d: %s", i+1, s)
		}
	}
}

// errAgg aggregates rejections per reason, keeping the first limit samples
// of each. It is a pipeline.Observer.
type errAgg struct {
	mu      sync.Mutex
	limit   int
	count   int
	first   map[builtin.Reason][]string
	buckets map[builtin.Reason]int
}

var _ pipeline.Observer = (*errAgg)(nil)

func newErrAgg(limit int) *errAgg {
	return &errAgg{
		limit:   limit,
		first:   make(map[builtin.Reason][]string),
		buckets: make(map[builtin.Reason]int),
	}
}

func (a *errAgg) add(r transformer.Rejection) {
	a.mu.Lock()
	a.buckets[r.Reason]++
	if len(a.first[r.Reason]) < a.limit {
		a.first[r.Reason] = append(a.first[r.Reason], fmt.Sprintf("line %d: ip_address=%q", r.Line, r.Value))
	}
	a.count++
	a.mu.Unlock()
}

func (a *errAgg) StepDone(pipeline.Stage, int, time.Duration, error) {}

func (a *errAgg) ChunkDone(ev pipeline.ChunkEvent) {
	for _, r := range ev.Rejected {
		a.add(r)
	}
}
