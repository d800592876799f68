package model

import "time"

// TrafficRow is one persisted accumulation for a (process, remote address)
// pair over a single window. Rows are immutable once written; only retention
// pruning removes them.
type TrafficRow struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
	Interface  string    `json:"interface"`
	AppName    string    `gorm:"index" json:"app_name"`
	RemoteAddr string    `gorm:"index" json:"remote_addr"`
	BytesSent  uint64    `json:"bytes_sent"`
	BytesRecv  uint64    `json:"bytes_recv"`
}

// ExcludedIP marks an address whose traffic is tracked in the buffer but
// deliberately never persisted.
type ExcludedIP struct {
	IP          string    `gorm:"primaryKey" json:"ip"`
	Description string    `json:"description"`
	AddedAt     time.Time `gorm:"autoCreateTime" json:"added_at"`
}

// WebhookSettings is the single-row delivery configuration for the reporter.
type WebhookSettings struct {
	ID              uint       `gorm:"primaryKey" json:"-"`
	EndpointURL     string     `json:"endpoint_url"`
	IntervalMinutes int        `json:"interval_minutes"`
	Enabled         bool       `json:"enabled"`
	LastSent        *time.Time `json:"last_sent,omitempty"`
}

// DeliveryEntry records the outcome of one webhook delivery cycle.
type DeliveryEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"index;autoCreateTime" json:"timestamp"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail"`
}
