package geo

import "time"

// Report is the run summary handed back to the caller of an ingestion run.
//
// Accepted counts rows submitted for insertion (duplicates skipped by the
// store's conflict handling are still counted). Discarded counts rows the
// validator rejected. TimeElapsed is in seconds.
type Report struct {
	Accepted    int64   `json:"accepted"`
	Discarded   int64   `json:"discarded"`
	TimeElapsed float64 `json:"time_elapsed"`
}

// NewReport builds a Report from raw counters and a wall-clock duration.
func NewReport(accepted, discarded int64, elapsed time.Duration) Report {
	return Report{
		Accepted:    accepted,
		Discarded:   discarded,
		TimeElapsed: elapsed.Seconds(),
	}
}
