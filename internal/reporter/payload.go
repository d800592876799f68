package reporter

import (
	"fmt"
	"time"

	"nettally/internal/model"
)

// Payload is the webhook report body.
type Payload struct {
	Version           string        `json:"version"`
	Hostname          string        `json:"hostname"`
	Timestamp         string        `json:"timestamp"`
	ReportPeriod      string        `json:"report_period"`
	ReportGeneratedAt string        `json:"report_generated_at"`
	Interfaces        []string      `json:"interfaces"`
	Summary           Summary       `json:"summary"`
	Applications      []Application `json:"applications"`
	ExcludedIPs       []ExcludedIP  `json:"excluded_ips"`
}

// Summary totals the period across all applications.
type Summary struct {
	TotalBytesSent   uint64 `json:"total_bytes_sent"`
	TotalBytesRecv   uint64 `json:"total_bytes_recv"`
	TotalBytes       uint64 `json:"total_bytes"`
	TotalFormatted   string `json:"total_formatted"`
	ApplicationCount int    `json:"application_count"`
}

// Application is one per-process entry in the report.
type Application struct {
	Name           string  `json:"name"`
	BytesSent      uint64  `json:"bytes_sent"`
	BytesRecv      uint64  `json:"bytes_recv"`
	BytesTotal     uint64  `json:"bytes_total"`
	TotalFormatted string  `json:"total_formatted"`
	Percentage     float64 `json:"percentage"`
}

// ExcludedIP mirrors the exclusion entries active when the report was built.
type ExcludedIP struct {
	IP          string `json:"ip"`
	Description string `json:"description"`
}

// BuildPayload assembles a report for the given period strictly from
// persisted rows.
func (r *Reporter) BuildPayload(period string, days float64) (*Payload, error) {
	now := r.now()
	since := now.Add(-time.Duration(days * 24 * float64(time.Hour)))

	apps, err := r.store.Report(since)
	if err != nil {
		return nil, fmt.Errorf("aggregate report: %w", err)
	}
	excluded, err := r.store.Exclusions()
	if err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}

	payload := &Payload{
		Version:           Version,
		Hostname:          r.hostname,
		Timestamp:         now.Format(time.RFC3339),
		ReportPeriod:      period,
		ReportGeneratedAt: now.Format("2006-01-02 15:04:05"),
		Interfaces:        r.interfaces,
	}

	for _, app := range apps {
		payload.Summary.TotalBytesSent += app.BytesSent
		payload.Summary.TotalBytesRecv += app.BytesRecv
		payload.Summary.TotalBytes += app.BytesTotal
	}
	payload.Summary.TotalFormatted = model.FormatBytes(payload.Summary.TotalBytes)
	payload.Summary.ApplicationCount = len(apps)

	for i, app := range apps {
		if i == maxApps {
			break
		}
		payload.Applications = append(payload.Applications, Application{
			Name:           app.Name,
			BytesSent:      app.BytesSent,
			BytesRecv:      app.BytesRecv,
			BytesTotal:     app.BytesTotal,
			TotalFormatted: model.FormatBytes(app.BytesTotal),
			Percentage:     app.Percentage,
		})
	}

	for _, e := range excluded {
		payload.ExcludedIPs = append(payload.ExcludedIPs, ExcludedIP{IP: e.IP, Description: e.Description})
	}

	return payload, nil
}
