package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"nettally/internal/config"
	"nettally/internal/model"
)

// Version identifies the payload schema.
const Version = "2.0"

const (
	checkInterval = time.Minute
	maxApps       = 50
	httpTimeout   = 30 * time.Second
)

// Store is the slice of the persistence layer the reporter needs. The
// reporter reads only persisted rows; it never touches the live buffer.
type Store interface {
	Report(since time.Time) ([]model.AppReport, error)
	Exclusions() ([]model.ExcludedIP, error)
	WebhookSettings() (model.WebhookSettings, error)
	TouchWebhookSent(at time.Time) error
	LogDelivery(outcome, detail string) error
}

// Reporter delivers periodic traffic summaries to a configured webhook
// endpoint with bounded retries. Delivery failures are logged and recorded
// but never stop the schedule.
type Reporter struct {
	store      Store
	client     *http.Client
	attempts   int
	retryDelay time.Duration
	hostname   string
	interfaces []string

	now   func() time.Time
	sleep func(time.Duration)
}

// New builds a reporter from the daemon configuration.
func New(store Store, cfg *config.Config) *Reporter {
	hostname, _ := os.Hostname()
	interfaces := cfg.Interfaces
	if len(interfaces) == 0 {
		interfaces = []string{"all"}
	}
	return &Reporter{
		store:      store,
		client:     &http.Client{Timeout: httpTimeout},
		attempts:   cfg.WebhookAttempts,
		retryDelay: time.Duration(cfg.WebhookRetryDelaySec) * time.Second,
		hostname:   hostname,
		interfaces: interfaces,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Run wakes once a minute, checks the stored settings, and sends a report
// when one is due. It returns when ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runCycle()
		case <-ctx.Done():
			log.Println("Reporter stopped.")
			return
		}
	}
}

// runCycle sends one report if the stored settings say one is due.
func (r *Reporter) runCycle() {
	set, err := r.store.WebhookSettings()
	if err != nil {
		log.Printf("Warning: reading webhook settings: %v", err)
		return
	}
	if !set.Enabled || set.EndpointURL == "" {
		return
	}
	interval := time.Duration(set.IntervalMinutes) * time.Minute
	if set.LastSent != nil && r.now().Sub(*set.LastSent) < interval {
		return
	}
	if err := r.SendReport(set.EndpointURL, set.IntervalMinutes); err != nil {
		log.Printf("ERROR: webhook delivery to %s failed: %v", set.EndpointURL, err)
	}
}

// SendReport builds a payload for the period implied by intervalMinutes and
// delivers it, retrying with doubling delays up to the configured attempt
// count. Exactly one delivery log entry is recorded per call.
func (r *Reporter) SendReport(url string, intervalMinutes int) error {
	period, days := reportPeriod(intervalMinutes)

	payload, err := r.BuildPayload(period, days)
	if err != nil {
		r.logDelivery("error", fmt.Sprintf("build payload: %v", err))
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		r.logDelivery("error", fmt.Sprintf("encode payload: %v", err))
		return err
	}

	var lastErr error
	delay := r.retryDelay
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err := r.post(url, body); err != nil {
			lastErr = err
			log.Printf("Warning: webhook attempt %d/%d failed: %v", attempt, r.attempts, err)
			if attempt < r.attempts {
				r.sleep(delay)
				delay *= 2
			}
			continue
		}

		r.logDelivery("ok", fmt.Sprintf("delivered %s report", period))
		if err := r.store.TouchWebhookSent(r.now()); err != nil {
			log.Printf("Warning: recording delivery time: %v", err)
		}
		log.Printf("Webhook report (%s) delivered to %s", period, url)
		return nil
	}

	r.logDelivery("error", fmt.Sprintf("abandoned after %d attempts: %v", r.attempts, lastErr))
	return lastErr
}

func (r *Reporter) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "nettally/"+Version)
	req.Header.Set("X-Nettally-Hostname", r.hostname)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

func (r *Reporter) logDelivery(outcome, detail string) {
	if err := r.store.LogDelivery(outcome, detail); err != nil {
		log.Printf("Warning: recording delivery log entry: %v", err)
	}
}

// reportPeriod maps a delivery interval to the summary window it covers.
func reportPeriod(intervalMinutes int) (string, float64) {
	switch {
	case intervalMinutes <= 60:
		return "hourly", 1.0 / 24
	case intervalMinutes <= 1440:
		return "daily", 1
	case intervalMinutes <= 10080:
		return "weekly", 7
	default:
		return "monthly", 30
	}
}
