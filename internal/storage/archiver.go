package storage

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"nettally/internal/config"
	"nettally/internal/model"
)

const createArchiveTable = `
CREATE TABLE IF NOT EXISTS traffic_rows (
    Timestamp  DateTime,
    Hostname   String,
    Interface  String,
    AppName    String,
    RemoteAddr String,
    BytesSent  UInt64,
    BytesRecv  UInt64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (AppName, Timestamp);
`

// ClickHouseArchiver mirrors flushed rows into ClickHouse for fleet-wide
// long-term analytics. The primary SQLite store stays authoritative; archive
// failures are logged by the flusher and never fail a flush.
type ClickHouseArchiver struct {
	conn     driver.Conn
	hostname string
}

// NewClickHouseArchiver connects to ClickHouse and ensures the archive table.
func NewClickHouseArchiver(cfg config.ArchiveConfig) (*ClickHouseArchiver, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	if err := conn.Exec(context.Background(), createArchiveTable); err != nil {
		return nil, fmt.Errorf("failed to create archive table: %w", err)
	}
	log.Println("Connected to ClickHouse archive and ensured table exists.")

	hostname, _ := os.Hostname()
	return &ClickHouseArchiver{conn: conn, hostname: hostname}, nil
}

// Archive appends one flush batch to the archive table.
func (a *ClickHouseArchiver) Archive(ctx context.Context, rows []model.TrafficRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, "INSERT INTO traffic_rows")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, row := range rows {
		err = batch.Append(
			row.Timestamp,
			a.hostname,
			row.Interface,
			row.AppName,
			row.RemoteAddr,
			row.BytesSent,
			row.BytesRecv,
		)
		if err != nil {
			return fmt.Errorf("failed to append row to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	log.Printf("Archived %d rows to ClickHouse", len(rows))
	return nil
}

// Close shuts down the ClickHouse connection.
func (a *ClickHouseArchiver) Close() error {
	return a.conn.Close()
}
