// Package daemon assembles the collection pipeline and manages its
// lifecycle.
package daemon

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"nettally/internal/api"
	"nettally/internal/buffer"
	"nettally/internal/collector"
	"nettally/internal/config"
	"nettally/internal/export"
	"nettally/internal/flusher"
	"nettally/internal/model"
	"nettally/internal/reporter"
	"nettally/internal/storage"
	"nettally/internal/trace"
)

// Daemon owns every long-running component of the pipeline.
type Daemon struct {
	cfg       *config.Config
	store     *storage.Store
	collector *collector.Collector
	flusher   *flusher.Flusher
	reporter  *reporter.Reporter
	apiServer *api.Server
	archiver  model.Archiver
	publisher model.Publisher

	cancelCollect context.CancelFunc
	cancelWorkers context.CancelFunc
	wgCollect     sync.WaitGroup
	wgWorkers     sync.WaitGroup
}

// New wires the pipeline from configuration. The returned daemon owns the
// store and any optional sinks; Stop releases them.
func New(cfg *config.Config) (*Daemon, error) {
	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	conv, err := trace.NewConverter(time.Duration(cfg.RefreshSec) * time.Second)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create converter: %w", err)
	}

	d := &Daemon{cfg: cfg, store: store}

	if cfg.Archive.Enabled {
		archiver, err := storage.NewClickHouseArchiver(cfg.Archive)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create archiver: %w", err)
		}
		d.archiver = archiver
		log.Printf("ClickHouse archive enabled (%s:%d)", cfg.Archive.Host, cfg.Archive.Port)
	}

	if cfg.Export.Enabled {
		publisher, err := export.NewPublisher(cfg.Export)
		if err != nil {
			if d.archiver != nil {
				d.archiver.Close()
			}
			store.Close()
			return nil, fmt.Errorf("failed to create publisher: %w", err)
		}
		d.publisher = publisher
		log.Printf("NATS export enabled (subject %s)", cfg.Export.Subject)
	}

	buf := buffer.New()
	d.collector = collector.New(cfg, conv, buf)
	d.flusher = flusher.New(buf, store, cfg, d.archiver, d.publisher)
	d.reporter = reporter.New(store, cfg)
	if cfg.APIListenAddr != "" {
		d.apiServer = api.New(store, d.reporter, cfg.APIListenAddr)
	}

	return d, nil
}

// Start launches the collector, the workers and the API server.
func (d *Daemon) Start() {
	collectCtx, cancelCollect := context.WithCancel(context.Background())
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	d.cancelCollect = cancelCollect
	d.cancelWorkers = cancelWorkers

	d.wgCollect.Add(1)
	go func() {
		defer d.wgCollect.Done()
		d.collector.Run(collectCtx)
	}()

	d.wgWorkers.Add(2)
	go func() {
		defer d.wgWorkers.Done()
		d.flusher.Run(workerCtx)
	}()
	go func() {
		defer d.wgWorkers.Done()
		d.reporter.Run(workerCtx)
	}()

	if d.apiServer != nil {
		d.apiServer.Start()
	}

	log.Println("Daemon started.")
}

// Stop winds the pipeline down in dependency order: the collector first so
// no new increments arrive, then the flusher so the final flush drains
// everything the collector produced, then the outer surfaces and sinks.
func (d *Daemon) Stop() {
	log.Println("Daemon shutting down...")

	d.cancelCollect()
	d.wgCollect.Wait()

	d.cancelWorkers()
	d.wgWorkers.Wait()

	if d.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.apiServer.Stop(ctx); err != nil {
			log.Printf("Warning: API server shutdown: %v", err)
		}
	}

	if d.publisher != nil {
		d.publisher.Close()
	}
	if d.archiver != nil {
		if err := d.archiver.Close(); err != nil {
			log.Printf("Warning: archiver close: %v", err)
		}
	}
	if err := d.store.Close(); err != nil {
		log.Printf("Warning: store close: %v", err)
	}

	log.Println("Daemon exited.")
}
