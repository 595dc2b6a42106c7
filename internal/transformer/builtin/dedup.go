// Package builtin contains the reusable row-level stages of the ingestion
// pipeline: text normalization, the geolocation row validator and
// intra-chunk de-duplication.
//
// DeDup collapses records that share an ip_address within one chunk, keeping
// the first occurrence. The store's conflict-ignore insert already makes the
// first stored record win across chunks; collapsing inside the chunk gives
// the same winner and keeps bulk-copy backends (which stage rows in a temp
// table before a NOT EXISTS insert) from tripping the unique key.
package builtin

import (
	"github.com/zeebo/xxh3"

	"geoetl/internal/geo"
)

// DeDup implements keep-first de-duplication on Record.IPAddress.
type DeDup struct{}

// Apply returns the records with later duplicates removed, preserving input
// order, and the number of records dropped. The input slice is not modified.
func (DeDup) Apply(in []geo.Record) ([]geo.Record, int) {
	if len(in) < 2 {
		return in, 0
	}

	// Keys are bucketed by xxh3; a bucket holds indexes into out so a hash
	// collision never drops a distinct address.
	seen := make(map[uint64][]int, len(in))
	out := make([]geo.Record, 0, len(in))
	dropped := 0

	for _, r := range in {
		h := xxh3.HashString(r.IPAddress)
		dup := false
		for _, j := range seen[h] {
			if out[j].IPAddress == r.IPAddress {
				dup = true
				break
			}
		}
		if dup {
			dropped++
			continue
		}
		seen[h] = append(seen[h], len(out))
		out = append(out, r)
	}
	return out, dropped
}
