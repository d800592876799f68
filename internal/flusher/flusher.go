package flusher

import (
	"context"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"nettally/internal/buffer"
	"nettally/internal/config"
	"nettally/internal/model"
)

// Store is the slice of the persistence layer the flusher needs.
type Store interface {
	InsertRows(rows []model.TrafficRow) error
	ExcludedSet() (map[string]struct{}, error)
	PruneBefore(cutoff time.Time) (int64, error)
}

// Flusher drains the aggregation buffer on a timer and persists the drained
// window. A batch that fails to persist is carried forward and retried on
// the next cycle; buffered data is never discarded short of a write success.
type Flusher struct {
	buf       *buffer.Buffer
	store     Store
	interval  time.Duration
	retention time.Duration
	iface     string
	hostname  string
	archiver  model.Archiver
	publisher model.Publisher

	mu           sync.Mutex
	pending      map[buffer.Key]buffer.Counts
	pendingStart time.Time
}

// New builds a flusher. archiver and publisher may be nil.
func New(buf *buffer.Buffer, store Store, cfg *config.Config, archiver model.Archiver, publisher model.Publisher) *Flusher {
	iface := "all"
	if len(cfg.Interfaces) > 0 {
		iface = strings.Join(cfg.Interfaces, ",")
	}
	hostname, _ := os.Hostname()
	return &Flusher{
		buf:       buf,
		store:     store,
		interval:  time.Duration(cfg.FlushIntervalSec) * time.Second,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		iface:     iface,
		hostname:  hostname,
		archiver:  archiver,
		publisher: publisher,
	}
}

// Run flushes on every tick and performs one final unconditional flush when
// ctx is cancelled, so a clean shutdown never drops buffered increments. The
// caller must stop the collector before cancelling ctx.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.FlushNow(context.Background())
		case <-ctx.Done():
			f.FlushNow(context.Background())
			log.Println("Flusher stopped.")
			return
		}
	}
}

// FlushNow performs one full flush cycle: swap the buffer, fold in any
// pending batch from a failed cycle, re-read the exclusion set, persist the
// kept rows atomically, hand the batch to the archiver and publisher, and
// prune retention. Only the swap touches the buffer lock; everything else
// happens on the drained copy.
func (f *Flusher) FlushNow(ctx context.Context) {
	drained, windowStart := f.buf.Swap()

	f.mu.Lock()
	if len(f.pending) > 0 {
		for k, c := range f.pending {
			cur := drained[k]
			cur.BytesSent += c.BytesSent
			cur.BytesRecv += c.BytesRecv
			drained[k] = cur
		}
		if f.pendingStart.Before(windowStart) {
			windowStart = f.pendingStart
		}
		f.pending = nil
	}
	f.mu.Unlock()

	if len(drained) == 0 {
		f.prune()
		return
	}

	// The exclusion set is re-read every cycle so operator changes apply to
	// the very next flush, including retried batches.
	excluded, err := f.store.ExcludedSet()
	if err != nil {
		log.Printf("ERROR: reading exclusion set: %v, retrying batch next cycle", err)
		f.retain(drained, windowStart)
		return
	}

	rows := make([]model.TrafficRow, 0, len(drained))
	skipped := 0
	for k, c := range drained {
		if c.BytesSent == 0 && c.BytesRecv == 0 {
			continue
		}
		if _, ok := excluded[k.Addr]; ok {
			skipped++
			continue
		}
		rows = append(rows, model.TrafficRow{
			Timestamp:  windowStart,
			Interface:  f.iface,
			AppName:    k.App,
			RemoteAddr: k.Addr,
			BytesSent:  c.BytesSent,
			BytesRecv:  c.BytesRecv,
		})
	}

	if err := f.store.InsertRows(rows); err != nil {
		log.Printf("ERROR: persisting flush batch of %d rows: %v, retrying next cycle", len(rows), err)
		f.retain(drained, windowStart)
		return
	}
	if len(rows) > 0 || skipped > 0 {
		log.Printf("Flushed %d rows (%d excluded) for window starting %s", len(rows), skipped, windowStart.Format(time.RFC3339))
	}

	if f.archiver != nil && len(rows) > 0 {
		if err := f.archiver.Archive(ctx, rows); err != nil {
			log.Printf("Warning: archiving flush batch: %v", err)
		}
	}
	if f.publisher != nil && len(rows) > 0 {
		batch := model.FlushBatch{
			Hostname:    f.hostname,
			WindowStart: windowStart,
			FlushedAt:   time.Now(),
			Rows:        rows,
		}
		if err := f.publisher.Publish(batch); err != nil {
			log.Printf("Warning: publishing flush batch: %v", err)
		}
	}

	f.prune()
}

// retain keeps a drained-but-unpersisted window for the next cycle. The
// unfiltered increments are kept so exclusions are re-applied on retry.
func (f *Flusher) retain(drained map[buffer.Key]buffer.Counts, start time.Time) {
	f.mu.Lock()
	f.pending = drained
	f.pendingStart = start
	f.mu.Unlock()
}

// prune enforces retention. Failure here is logged but never blocks flushes.
func (f *Flusher) prune() {
	if f.retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-f.retention)
	deleted, err := f.store.PruneBefore(cutoff)
	if err != nil {
		log.Printf("Warning: retention prune failed: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Pruned %d rows older than %s", deleted, cutoff.Format(time.RFC3339))
	}
}
