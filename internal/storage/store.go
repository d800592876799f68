package storage

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"nettally/internal/model"
)

// deliveryLogKeep is how many delivery log entries survive pruning.
const deliveryLogKeep = 100

// Store is the daemon's durable state: traffic rows, exclusion entries,
// webhook settings and the delivery log, all in one SQLite database so local
// operator tooling can read while the daemon writes. WAL mode plus a busy
// timeout give the multi-reader/single-writer discipline the flusher needs.
type Store struct {
	db *gorm.DB
}

// Open creates (or opens) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(
		&model.TrafficRow{},
		&model.ExcludedIP{},
		&model.WebhookSettings{},
		&model.DeliveryEntry{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertRows persists one flush batch atomically: either every row of the
// batch lands or none do, so persisted totals stay reconcilable with what
// was drained from the buffer.
func (s *Store) InsertRows(rows []model.TrafficRow) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
}

// Report aggregates persisted traffic per application since the given time,
// ordered by total bytes descending, with each application's share of the
// period total.
func (s *Store) Report(since time.Time) ([]model.AppReport, error) {
	var reports []model.AppReport
	err := s.db.Model(&model.TrafficRow{}).
		Select("app_name AS name, SUM(bytes_sent) AS bytes_sent, SUM(bytes_recv) AS bytes_recv, SUM(bytes_sent + bytes_recv) AS bytes_total").
		Where("timestamp > ?", since).
		Group("app_name").
		Order("bytes_total DESC").
		Scan(&reports).Error
	if err != nil {
		return nil, fmt.Errorf("report query: %w", err)
	}

	var total uint64
	for _, r := range reports {
		total += r.BytesTotal
	}
	if total > 0 {
		for i := range reports {
			pct := float64(reports[i].BytesTotal) / float64(total) * 100
			reports[i].Percentage = math.Round(pct*100) / 100
		}
	}
	return reports, nil
}

// PruneBefore deletes traffic rows older than cutoff and trims the delivery
// log to its most recent entries. Returns the number of traffic rows removed.
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	res := s.db.Where("timestamp < ?", cutoff).Delete(&model.TrafficRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune traffic rows: %w", res.Error)
	}

	err := s.db.Exec(
		"DELETE FROM delivery_entries WHERE id NOT IN (SELECT id FROM delivery_entries ORDER BY timestamp DESC, id DESC LIMIT ?)",
		deliveryLogKeep,
	).Error
	if err != nil {
		return res.RowsAffected, fmt.Errorf("trim delivery log: %w", err)
	}
	return res.RowsAffected, nil
}

// ExcludedSet returns the current exclusion addresses for O(1) lookup.
// The flusher calls this once per cycle, never caching across cycles.
func (s *Store) ExcludedSet() (map[string]struct{}, error) {
	var ips []string
	if err := s.db.Model(&model.ExcludedIP{}).Pluck("ip", &ips).Error; err != nil {
		return nil, fmt.Errorf("load exclusions: %w", err)
	}
	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		set[ip] = struct{}{}
	}
	return set, nil
}

// Exclusions lists the exclusion entries with descriptions.
func (s *Store) Exclusions() ([]model.ExcludedIP, error) {
	var entries []model.ExcludedIP
	if err := s.db.Order("added_at").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	return entries, nil
}

// AddExclusion inserts or updates an exclusion entry.
func (s *Store) AddExclusion(ip, description string) error {
	entry := model.ExcludedIP{IP: ip, Description: description}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip"}},
		DoUpdates: clause.AssignmentColumns([]string{"description"}),
	}).Create(&entry).Error
}

// RemoveExclusion deletes an exclusion entry, reporting whether it existed.
func (s *Store) RemoveExclusion(ip string) (bool, error) {
	res := s.db.Delete(&model.ExcludedIP{}, "ip = ?", ip)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// WebhookSettings returns the stored delivery settings. A zero-valued
// (disabled) settings struct is returned when none have been configured.
func (s *Store) WebhookSettings() (model.WebhookSettings, error) {
	var set model.WebhookSettings
	err := s.db.First(&set, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.WebhookSettings{}, nil
	}
	if err != nil {
		return model.WebhookSettings{}, fmt.Errorf("load webhook settings: %w", err)
	}
	return set, nil
}

// SetWebhookSettings stores the delivery settings, keeping last_sent intact.
func (s *Store) SetWebhookSettings(url string, intervalMinutes int, enabled bool) error {
	set := model.WebhookSettings{
		ID:              1,
		EndpointURL:     url,
		IntervalMinutes: intervalMinutes,
		Enabled:         enabled,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"endpoint_url", "interval_minutes", "enabled"}),
	}).Create(&set).Error
}

// TouchWebhookSent records a successful delivery time.
func (s *Store) TouchWebhookSent(at time.Time) error {
	return s.db.Model(&model.WebhookSettings{}).
		Where("id = ?", 1).
		Update("last_sent", at).Error
}

// LogDelivery appends one delivery log entry.
func (s *Store) LogDelivery(outcome, detail string) error {
	if len(detail) > 500 {
		detail = detail[:500]
	}
	return s.db.Create(&model.DeliveryEntry{Outcome: outcome, Detail: detail}).Error
}

// DeliveryLog returns the most recent delivery entries, newest first.
func (s *Store) DeliveryLog(limit int) ([]model.DeliveryEntry, error) {
	var entries []model.DeliveryEntry
	err := s.db.Order("timestamp DESC, id DESC").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list delivery log: %w", err)
	}
	return entries, nil
}
