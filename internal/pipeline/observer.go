package pipeline

import (
	"time"

	"geoetl/internal/metrics"
	"geoetl/internal/transformer"
)

// ChunkEvent describes one committed chunk.
type ChunkEvent struct {
	Chunk     int // 1-based
	Rows      int
	Accepted  int
	Discarded int
	Stored    int64
	Rejected  []transformer.Rejection
}

// Observer watches a run. Calls are made synchronously from the goroutine
// running the driver, so implementations must be quick.
type Observer interface {
	// StepDone reports the duration and outcome of one stage of a chunk.
	StepDone(stage Stage, chunk int, d time.Duration, err error)
	// ChunkDone is called after a chunk has been committed.
	ChunkDone(ev ChunkEvent)
}

// MetricsObserver forwards run events to the global metrics backend.
type MetricsObserver struct {
	Job string
}

var _ Observer = MetricsObserver{}

func (m MetricsObserver) StepDone(stage Stage, _ int, d time.Duration, err error) {
	metrics.RecordStep(m.Job, string(stage), err, d)
}

func (m MetricsObserver) ChunkDone(ev ChunkEvent) {
	metrics.RecordRow(m.Job, metrics.KindAccepted, int64(ev.Accepted))
	metrics.RecordRow(m.Job, metrics.KindDiscarded, int64(ev.Discarded))
	metrics.RecordRow(m.Job, metrics.KindStored, ev.Stored)
	metrics.RecordBatches(m.Job, 1)
}
