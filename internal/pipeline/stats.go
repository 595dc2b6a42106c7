package pipeline

import (
	"time"

	"geoetl/internal/geo"
	"geoetl/internal/transformer/builtin"
)

// Stats aggregates the counters of one run.
//
// Accepted counts records submitted to the store, including ones the store
// skipped because their address already existed; Stored counts rows actually
// added. Accepted + Discarded is the number of data rows processed.
type Stats struct {
	Accepted  int64
	Discarded int64
	Stored    int64
	Chunks    int
	Elapsed   time.Duration

	// Reasons breaks Discarded down by rejection reason.
	Reasons map[builtin.Reason]int64
}

func newStats() Stats {
	return Stats{Reasons: make(map[builtin.Reason]int64)}
}

// Processed returns the number of data rows the run classified.
func (s Stats) Processed() int64 { return s.Accepted + s.Discarded }

// Report returns the caller-facing run report.
func (s Stats) Report() geo.Report {
	return geo.NewReport(s.Accepted, s.Discarded, s.Elapsed)
}
