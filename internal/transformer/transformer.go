// Package transformer applies the row validator to a whole chunk. Validation
// is pure, so a chunk may be split across workers; results are always folded
// back in input order so the writer sees rows exactly as they appeared in the
// source.
package transformer

import (
	"context"

	"golang.org/x/sync/errgroup"

	"geoetl/internal/geo"
	"geoetl/internal/transformer/builtin"
)

// minRowsPerWorker keeps tiny chunks on the calling goroutine; spawning
// workers for a handful of rows costs more than it saves.
const minRowsPerWorker = 256

// Validator is satisfied by builtin.GeoValidator.
type Validator interface {
	Validate(row geo.RawRow) (geo.Record, builtin.Reason)
}

// Rejection describes one discarded row.
type Rejection struct {
	Line   int
	Reason builtin.Reason
	Value  string // raw ip_address, for log samples
}

// Result is the classification of one chunk.
type Result struct {
	Records  []geo.Record
	Rejected []Rejection
}

// ValidateChunk classifies every row in rows. With workers > 1 the chunk is
// partitioned into contiguous ranges validated concurrently. The only error
// is ctx cancellation; row-level failures are reported in Result.Rejected.
func ValidateChunk(ctx context.Context, rows []geo.RawRow, v Validator, workers int) (Result, error) {
	type slot struct {
		rec    geo.Record
		reason builtin.Reason
	}
	slots := make([]slot, len(rows))

	validateRange := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			slots[i].rec, slots[i].reason = v.Validate(rows[i])
		}
	}

	if n := len(rows) / minRowsPerWorker; workers > n {
		workers = n
	}
	if workers <= 1 {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		validateRange(0, len(rows))
	} else {
		g, gctx := errgroup.WithContext(ctx)
		step := (len(rows) + workers - 1) / workers
		for lo := 0; lo < len(rows); lo += step {
			lo, hi := lo, min(lo+step, len(rows))
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				validateRange(lo, hi)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Result{}, err
		}
	}

	res := Result{Records: make([]geo.Record, 0, len(rows))}
	for i, s := range slots {
		if s.reason != builtin.ReasonNone {
			res.Rejected = append(res.Rejected, Rejection{
				Line:   rows[i].Line,
				Reason: s.reason,
				Value:  rows[i].IPAddress,
			})
			continue
		}
		res.Records = append(res.Records, s.rec)
	}
	return res, nil
}
