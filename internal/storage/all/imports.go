// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each concrete backend, which register
// their factories with the storage package. The following kinds become
// available:
//
//   - "postgres" (geoetl/internal/storage/postgres)
//   - "mysql"    (geoetl/internal/storage/mysql)
//   - "mssql"    (geoetl/internal/storage/mssql)
//   - "sqlite"   (geoetl/internal/storage/sqlite)
//
// Typical usage (in cmd/geoetl or a similar wiring layer):
//
//	import _ "geoetl/internal/storage/all" // enable all built-in backends
//
//	w, err := storage.Connect(ctx, storage.Config{Kind: spec.Storage.Kind, DSN: spec.Storage.DB.DSN}, policy, log.Printf)
//	if err != nil {
//	    // handle error
//	}
//	defer w.Close()
//
// A binary that supports only a subset of backends can import those backend
// packages directly instead of this one.
package all

import (
	_ "geoetl/internal/storage/mssql"
	_ "geoetl/internal/storage/mysql"
	_ "geoetl/internal/storage/postgres"
	_ "geoetl/internal/storage/sqlite"
)
