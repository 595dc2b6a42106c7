package storage

import (
	"context"

	"geoetl/internal/geo"
)

// Discard is a Writer that persists nothing. It backs dry runs: every record
// counts as submitted, none as stored.
type Discard struct{}

var _ Writer = Discard{}

func (Discard) InsertIgnore(ctx context.Context, _ []geo.Record) (int64, error) {
	return 0, ctx.Err()
}

func (Discard) EnsureSchema(context.Context) error { return nil }

func (Discard) Close() {}
