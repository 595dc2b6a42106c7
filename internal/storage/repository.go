// Package storage defines the storage-agnostic writer contract for
// geolocation records, a registry of backend factories and the per-chunk
// write helper used by the pipeline. Concrete backends (postgres, sqlite,
// mysql, mssql) register themselves in init; import storage/all to enable
// every built-in backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"geoetl/internal/geo"
	"geoetl/internal/transformer/builtin"
)

// Writer persists validated records with conflict-ignore semantics on
// ip_address: a record whose address already exists is skipped, never
// updated and never duplicated.
type Writer interface {
	// InsertIgnore writes recs in one atomic transaction and returns the
	// number of rows actually added. recs must not contain two records with
	// the same address. On error nothing from recs is persisted.
	InsertIgnore(ctx context.Context, recs []geo.Record) (int64, error)

	// EnsureSchema creates the destination table and its unique key when
	// they do not exist yet.
	EnsureSchema(ctx context.Context) error

	Close()
}

// Config selects and configures a backend.
type Config struct {
	Kind  string
	DSN   string
	Table string
}

// Factory opens a Writer for cfg. It should fail if the store is unreachable.
type Factory func(ctx context.Context, cfg Config) (Writer, error)

// ErrUnknownKind is returned by New for an unregistered backend kind.
var ErrUnknownKind = errors.New("storage: unknown kind")

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It replaces any earlier
// registration and is typically called from a backend's init.
func Register(kind string, fn Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = fn
}

// Kinds lists registered backend kinds in sorted order.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens a Writer using the factory registered for cfg.Kind. An empty
// Table defaults to geo.Table.
func New(ctx context.Context, cfg Config) (Writer, error) {
	regMu.RLock()
	fn, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnknownKind, cfg.Kind, Kinds())
	}
	if cfg.Table == "" {
		cfg.Table = geo.Table
	}
	return fn(ctx, cfg)
}

// WriteChunk persists one chunk of validated records. Records sharing an
// address are collapsed keep-first before the store call. submitted is
// len(recs), the count the pipeline reports as accepted; stored is the number
// of rows the store actually added. An empty chunk issues no write.
func WriteChunk(ctx context.Context, w Writer, recs []geo.Record) (submitted int, stored int64, err error) {
	if len(recs) == 0 {
		return 0, 0, nil
	}
	uniq, _ := builtin.DeDup{}.Apply(recs)
	stored, err = w.InsertIgnore(ctx, uniq)
	if err != nil {
		return 0, 0, err
	}
	return len(recs), stored, nil
}
