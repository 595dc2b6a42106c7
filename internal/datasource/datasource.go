// Package datasource opens the byte stream a run ingests from. Concrete
// sources live in subpackages; New picks one from the pipeline config.
package datasource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"geoetl/internal/config"
	"geoetl/internal/datasource/file"
	"geoetl/internal/datasource/httpds"
)

// defaultDownloadTimeout bounds a whole HTTP download, body included.
const defaultDownloadTimeout = 10 * time.Minute

// Source yields a fresh reader on every Open.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// New builds the Source described by cfg.
func New(cfg config.Source) (Source, error) {
	switch cfg.Kind {
	case "", "file":
		if cfg.File.Path == "" {
			return nil, fmt.Errorf("datasource: file source requires a path")
		}
		return file.NewLocal(cfg.File.Path), nil
	case "http":
		if cfg.HTTP.URL == "" {
			return nil, fmt.Errorf("datasource: http source requires a url")
		}
		hdr := http.Header{}
		for k, v := range cfg.HTTP.Headers {
			hdr.Set(k, v)
		}
		timeout := time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = defaultDownloadTimeout
		}
		client := httpds.NewClient(httpds.Config{
			Timeout:    timeout,
			MaxRetries: cfg.HTTP.MaxRetries,
		})
		return httpds.NewSource(client, cfg.HTTP.URL, hdr), nil
	default:
		return nil, fmt.Errorf("datasource: unknown kind %q", cfg.Kind)
	}
}
