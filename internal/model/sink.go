package model

import "context"

// Archiver mirrors flushed traffic rows into a secondary long-term store.
type Archiver interface {
	Archive(ctx context.Context, rows []TrafficRow) error
	Close() error
}

// Publisher pushes flushed batches to external consumers.
type Publisher interface {
	Publish(batch FlushBatch) error
	Close()
}
