// Package orchestrator runs one key scraper per search key on a bounded
// worker pool and collects exactly one outcome per key.
package orchestrator

import (
	"context"
	"net/http"
	"time"

	"imgscraper/internal/pool"
	"imgscraper/pkg/browser"
	"imgscraper/pkg/config"
	"imgscraper/pkg/download"
	errs "imgscraper/pkg/errors"
	"imgscraper/pkg/logger"
	"imgscraper/pkg/metrics"
	"imgscraper/pkg/scraper"
	"imgscraper/pkg/searchkey"
	"imgscraper/pkg/storage"
)

// Result holds the outcomes of a run, in input order
type Result struct {
	Outcomes []scraper.Outcome
	Started  time.Time
	Finished time.Time
}

// ByKey maps each key to its outcome. For duplicate keys the last one wins.
func (r *Result) ByKey() map[searchkey.Key]scraper.Outcome {
	byKey := make(map[searchkey.Key]scraper.Outcome, len(r.Outcomes))
	for _, o := range r.Outcomes {
		byKey[o.Key] = o
	}
	return byKey
}

// TotalSaved sums saved images across all outcomes
func (r *Result) TotalSaved() int {
	total := 0
	for _, o := range r.Outcomes {
		total += o.SavedCount
	}
	return total
}

// Failed returns the outcomes that ended on a per-key fatal error
func (r *Result) Failed() []scraper.Outcome {
	var failed []scraper.Outcome
	for _, o := range r.Outcomes {
		if o.Failed() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Orchestrator dispatches key scrapers
type Orchestrator struct {
	cfg        *config.Config
	launcher   browser.Launcher
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     logger.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLauncher replaces the Chrome launcher
func WithLauncher(l browser.Launcher) Option {
	return func(o *Orchestrator) { o.launcher = l }
}

// WithHTTPClient sets the HTTP client shared by every job's downloader
func WithHTTPClient(hc *http.Client) Option {
	return func(o *Orchestrator) { o.httpClient = hc }
}

// WithMetrics records run metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an orchestrator. cfg is read-only from here on.
func New(cfg *config.Config, log logger.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = logger.NewNopLogger()
	}

	o := &Orchestrator{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     log,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.launcher == nil {
		o.launcher = browser.NewChromeLauncher(browser.OptionsFromConfig(cfg.Browser), log)
	}
	return o
}

// Run scrapes every key and waits for all jobs. keys defaults to the
// configured search keys. The returned error is only ever a configuration
// error raised before any job starts; per-key failures are in the Result.
func (o *Orchestrator) Run(ctx context.Context, keys []searchkey.Key) (*Result, error) {
	if len(keys) == 0 {
		for _, k := range o.cfg.Search.Keys {
			keys = append(keys, searchkey.Key(k))
		}
	}
	if err := o.validate(keys); err != nil {
		return nil, err
	}

	result := &Result{
		Outcomes: make([]scraper.Outcome, len(keys)),
		Started:  time.Now(),
	}

	registry := storage.NewRegistry(o.cfg.Output.RootDirectory, o.cfg.Output.JPEGQuality)
	stores := scraper.RegistryStores(registry)

	workerPool := pool.NewWorkerPool(o.cfg.Workers.Count, func(ctx context.Context, key searchkey.Key) scraper.Outcome {
		return o.newKeyScraper(stores).Run(ctx, key)
	}, o.logger)
	logger.LogComponentStart(o.logger, "orchestrator", map[string]interface{}{
		"keys":    len(keys),
		"workers": workerPool.GetActiveWorkers(),
	})
	workerPool.Start(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range workerPool.Results() {
			result.Outcomes[r.Job.Index] = r.Outcome
		}
	}()

	for i, key := range keys {
		workerPool.Submit(pool.Job{Index: i, Key: key})
	}
	workerPool.Stop()
	<-done

	result.Finished = time.Now()
	logger.LogComponentStop(o.logger, "orchestrator", "all jobs finished")
	o.logger.InfoWithFields("Scrape run complete", map[string]interface{}{
		"keys":     len(keys),
		"saved":    result.TotalSaved(),
		"failed":   len(result.Failed()),
		"duration": result.Finished.Sub(result.Started),
	})

	return result, nil
}

// newKeyScraper builds a scraper with its own downloader and rate limiter
func (o *Orchestrator) newKeyScraper(stores scraper.StoreProvider) *scraper.KeyScraper {
	downloader := download.NewClient(o.cfg.Download, o.logger,
		download.WithHTTPClient(o.httpClient),
		download.WithMetrics(o.metrics),
	)

	return scraper.New(o.cfg, scraper.Dependencies{
		Launcher:   o.launcher,
		Downloader: downloader,
		Stores:     stores,
		Metrics:    o.metrics,
		Logger:     o.logger,
	})
}

// validate checks the configuration together with the keys to run
func (o *Orchestrator) validate(keys []searchkey.Key) error {
	if len(keys) == 0 {
		return errs.New(errs.ErrorTypeConfig, "no search keys given")
	}

	cfg := *o.cfg
	cfg.Search.Keys = make([]string, len(keys))
	for i, k := range keys {
		cfg.Search.Keys[i] = string(k)
	}
	if err := cfg.Validate(); err != nil {
		return errs.Wrap(errs.ErrorTypeConfig, "invalid configuration", err)
	}
	return nil
}
