// Package pipeline drives a batch ingestion run: it pulls chunks of raw rows
// from a source, validates them and writes the accepted records to the store,
// one chunk at a time.
//
// Chunks are strictly sequential; the next chunk is not read until the
// previous one has been committed. A fatal error stops the run and is
// returned as a *ChunkError. Chunks committed before it are not rolled back.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"geoetl/internal/geo"
	"geoetl/internal/storage"
	"geoetl/internal/transformer"
)

// ChunkSource yields batches of raw rows and io.EOF once exhausted.
// *csv.ChunkReader satisfies it.
type ChunkSource interface {
	Next(ctx context.Context) ([]geo.RawRow, error)
}

// Logger is the subset of *log.Logger the driver uses.
type Logger interface {
	Printf(format string, args ...any)
}

// Config wires a Driver. Writer and Validator are required.
type Config struct {
	// Job labels log lines.
	Job string

	Writer    storage.Writer
	Validator transformer.Validator

	// Workers is the validation fan-out within a chunk; < 1 means 1.
	Workers int

	// Logger receives one progress line per chunk. Nil discards.
	Logger Logger

	Observers []Observer
}

// Driver runs the ingestion state machine. A Driver may be reused for several
// runs but not concurrently.
type Driver struct {
	cfg   Config
	log   Logger
	state atomic.Int32
}

// NewDriver validates cfg and returns an idle Driver.
func NewDriver(cfg Config) (*Driver, error) {
	if cfg.Writer == nil {
		return nil, errors.New("pipeline: writer is required")
	}
	if cfg.Validator == nil {
		return nil, errors.New("pipeline: validator is required")
	}
	cfg.Workers = max(cfg.Workers, 1)

	d := &Driver{cfg: cfg, log: cfg.Logger}
	if d.log == nil {
		d.log = log.New(io.Discard, "", 0)
	}
	return d, nil
}

// State returns the driver's current state. It is safe to call from any
// goroutine.
func (d *Driver) State() State { return State(d.state.Load()) }

func (d *Driver) setState(s State) { d.state.Store(int32(s)) }

// Run ingests src until it is exhausted, ctx is done or a fatal error occurs.
// The returned Stats cover every committed chunk, also when err != nil.
func (d *Driver) Run(ctx context.Context, src ChunkSource) (Stats, error) {
	stats := newStats()
	defer d.setState(Done)

	var start time.Time
	for chunk := 1; ; {
		d.setState(Reading)
		if err := ctx.Err(); err != nil {
			return stats, &ChunkError{Stage: StageReading, Chunk: chunk, Err: err}
		}

		t0 := time.Now()
		if start.IsZero() {
			start = t0
		}
		rows, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		d.stepDone(StageReading, chunk, t0, err)
		if err != nil {
			return stats, &ChunkError{Stage: StageReading, Chunk: chunk, Err: err}
		}
		if len(rows) == 0 {
			continue
		}

		d.setState(Validating)
		t0 = time.Now()
		res, err := transformer.ValidateChunk(ctx, rows, d.cfg.Validator, d.cfg.Workers)
		d.stepDone(StageValidating, chunk, t0, err)
		if err != nil {
			return stats, &ChunkError{Stage: StageValidating, Chunk: chunk, Err: err}
		}

		d.setState(Writing)
		t0 = time.Now()
		submitted, stored, err := storage.WriteChunk(ctx, d.cfg.Writer, res.Records)
		d.stepDone(StageWriting, chunk, t0, err)
		if err != nil {
			return stats, &ChunkError{Stage: StageWriting, Chunk: chunk, Err: fmt.Errorf("write %d records: %w", len(res.Records), err)}
		}

		stats.Accepted += int64(submitted)
		stats.Discarded += int64(len(res.Rejected))
		stats.Stored += stored
		stats.Chunks++
		for _, r := range res.Rejected {
			stats.Reasons[r.Reason]++
		}
		stats.Elapsed = time.Since(start)

		d.log.Printf("%s: chunk=%d rows=%d accepted=%d discarded=%d stored=%d total_accepted=%d total_discarded=%d",
			d.cfg.Job, chunk, len(rows), submitted, len(res.Rejected), stored, stats.Accepted, stats.Discarded)

		ev := ChunkEvent{
			Chunk:     chunk,
			Rows:      len(rows),
			Accepted:  submitted,
			Discarded: len(res.Rejected),
			Stored:    stored,
			Rejected:  res.Rejected,
		}
		for _, o := range d.cfg.Observers {
			o.ChunkDone(ev)
		}
		chunk++
	}
	return stats, nil
}

func (d *Driver) stepDone(stage Stage, chunk int, t0 time.Time, err error) {
	if len(d.cfg.Observers) == 0 {
		return
	}
	el := time.Since(t0)
	for _, o := range d.cfg.Observers {
		o.StepDone(stage, chunk, el, err)
	}
}
