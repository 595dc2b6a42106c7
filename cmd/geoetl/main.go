package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"geoetl/internal/config"
	"geoetl/internal/metrics"
	"geoetl/internal/metrics/datadog"
	"geoetl/internal/metrics/prompush"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "geoetl/internal/storage/all"
)

// cliFlags are command-line overrides layered on top of the loaded config.
type cliFlags struct {
	file           string
	chunkSize      int
	metricsBackend string
}

// main is the entry point for the geoetl binary. It loads the pipeline
// config, optionally initializes a metrics backend, runs the ingestion and
// prints the run report as JSON on stdout.
func main() {
	var (
		cfgPath  string
		fl       cliFlags
		validate bool
		dryRun   bool
	)

	flag.StringVar(&cfgPath, "config", "", "pipeline config JSON path (empty: environment and defaults only)")
	flag.StringVar(&fl.file, "file", "", "CSV file to ingest (overrides source)")
	flag.IntVar(&fl.chunkSize, "chunk-size", 0, "rows per chunk (overrides runtime.chunk_size)")
	flag.StringVar(&fl.metricsBackend, "metrics-backend", "", "metrics backend: none, pushgateway, datadog (overrides config/env)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "read and validate rows without writing to the store")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	p, err := config.Load(cfgPath, ".env")
	if err != nil {
		fatalf("load config: %v", err)
	}
	applyFlags(&p, fl)

	issues := relevantIssues(config.ValidatePipeline(p), dryRun)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}

	// If validate flag is set, only validate the configuration and exit
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	flush := setupMetrics(p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	start := time.Now()

	logger.Printf("pipeline: job=%s source=%s storage=%s table=%s chunk_size=%d workers=%d",
		p.Job, p.Source.Kind, p.Storage.Kind, p.Storage.DB.Table, p.Runtime.ChunkSize, p.Runtime.ValidateWorkers)

	stats, runErr := run(ctx, p, runOptions{DryRun: dryRun, Progress: *verbose}, logger)
	stop()
	flush()

	if err := json.NewEncoder(os.Stdout).Encode(stats.Report()); err != nil {
		log.Printf("write report: %v", err)
	}
	if runErr != nil {
		log.Fatalf("%v", runErr)
	}
	logger.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
}

// applyFlags layers non-zero CLI overrides on p.
func applyFlags(p *config.Pipeline, fl cliFlags) {
	if fl.file != "" {
		p.Source.Kind = "file"
		p.Source.File.Path = fl.file
	}
	if fl.chunkSize != 0 {
		p.Runtime.ChunkSize = fl.chunkSize
	}
	if fl.metricsBackend != "" {
		p.Metrics.Backend = fl.metricsBackend
	}
}

// relevantIssues drops storage findings for dry runs, which never touch the
// store.
func relevantIssues(issues []config.Issue, dryRun bool) []config.Issue {
	if !dryRun {
		return issues
	}
	out := issues[:0:0]
	for _, iss := range issues {
		if !strings.HasPrefix(iss.Path, "storage.") {
			out = append(out, iss)
		}
	}
	return out
}

// setupMetrics installs the configured metrics backend and returns the
// function that flushes it at shutdown. Setup failures disable metrics rather
// than the run.
func setupMetrics(p config.Pipeline, logger *log.Logger) (flush func()) {
	var (
		b   metrics.Backend
		err error
	)
	switch p.Metrics.Backend {
	case "pushgateway":
		gwURL := p.Metrics.PushgatewayURL
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err = newPromBackend(p.Job, gwURL)
		logger.Printf("metrics: url=%v, backend=%v, job_name=%v", gwURL, p.Metrics.Backend, p.Job)

	case "datadog":
		addr := p.Metrics.DatadogAddr
		if addr == "" {
			addr = "127.0.0.1:8125"
		}
		b, err = newDatadogBackend(addr, p.Job)

	case "", "none":
		logger.Printf("metrics: disabled")
		return func() {}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", p.Metrics.Backend)
		return func() {}
	}

	if err != nil {
		log.Printf("metrics: failed to init %s backend: %v; using nop", p.Metrics.Backend, err)
		return func() {}
	}
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}

// newPromBackend and newDatadogBackend avoid returning a typed nil pointer
// inside the metrics.Backend interface on error.
func newPromBackend(job, url string) (metrics.Backend, error) {
	b, err := prompush.NewBackend(job, url)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func newDatadogBackend(addr, job string) (metrics.Backend, error) {
	b, err := datadog.NewBackend(datadog.Config{
		Addr:       addr,
		Namespace:  "geoetl.",
		GlobalTags: []string{"job:" + job},
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

