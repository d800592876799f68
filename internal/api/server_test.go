package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"nettally/internal/model"
	"nettally/internal/storage"
)

type fakeSender struct {
	calls []string
	err   error
}

func (f *fakeSender) SendReport(url string, intervalMinutes int) error {
	f.calls = append(f.calls, url)
	return f.err
}

func newTestServer(t *testing.T) (*Server, *storage.Store, *fakeSender) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "traffic.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	sender := &fakeSender{}
	return New(store, sender, ":0"), store, sender
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, "GET", "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
}

func TestReportEndpoint(t *testing.T) {
	s, store, _ := newTestServer(t)

	now := time.Now()
	rows := []model.TrafficRow{
		{Timestamp: now, AppName: "firefox", RemoteAddr: "1.2.3.4", BytesSent: 800, BytesRecv: 200},
		{Timestamp: now, AppName: "curl", RemoteAddr: "5.6.7.8", BytesSent: 100, BytesRecv: 100},
	}
	if err := store.InsertRows(rows); err != nil {
		t.Fatalf("Failed to insert rows: %v", err)
	}

	rec := do(t, s, "GET", "/api/v1/report?days=7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Days         int               `json:"days"`
		Applications []model.AppReport `json:"applications"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad response JSON: %v", err)
	}
	if resp.Days != 7 {
		t.Errorf("Expected days=7, got %d", resp.Days)
	}
	if len(resp.Applications) != 2 || resp.Applications[0].Name != "firefox" {
		t.Errorf("Unexpected applications: %+v", resp.Applications)
	}

	// Out-of-range days is rejected.
	rec = do(t, s, "GET", "/api/v1/report?days=0", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for days=0, got %d", rec.Code)
	}
}

func TestExclusionLifecycle(t *testing.T) {
	s, _, _ := newTestServer(t)

	// 1. Add a valid exclusion.
	rec := do(t, s, "POST", "/api/v1/exclusions", map[string]string{
		"ip": "5.5.5.100", "description": "PLC 1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// 2. Malformed IPs are rejected.
	rec = do(t, s, "POST", "/api/v1/exclusions", map[string]string{"ip": "not-an-ip"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad IP, got %d", rec.Code)
	}

	// 3. The exclusion shows up in the list.
	rec = do(t, s, "GET", "/api/v1/exclusions", nil)
	var list []model.ExcludedIP
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("Bad list JSON: %v", err)
	}
	if len(list) != 1 || list[0].IP != "5.5.5.100" {
		t.Fatalf("Unexpected exclusion list: %+v", list)
	}

	// 4. Delete it, then a repeat delete is a 404.
	rec = do(t, s, "DELETE", "/api/v1/exclusions/5.5.5.100", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
	rec = do(t, s, "DELETE", "/api/v1/exclusions/5.5.5.100", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing exclusion, got %d", rec.Code)
	}
}

func TestWebhookSettingsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	// Enabled without a URL is rejected.
	rec := do(t, s, "PUT", "/api/v1/webhook", map[string]any{
		"enabled": true, "interval_minutes": 60,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without endpoint_url, got %d", rec.Code)
	}

	rec = do(t, s, "PUT", "/api/v1/webhook", map[string]any{
		"endpoint_url": "https://example.com/hook", "interval_minutes": 120, "enabled": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, "GET", "/api/v1/webhook", nil)
	var settings model.WebhookSettings
	if err := json.Unmarshal(rec.Body.Bytes(), &settings); err != nil {
		t.Fatalf("Bad settings JSON: %v", err)
	}
	if settings.EndpointURL != "https://example.com/hook" || settings.IntervalMinutes != 120 || !settings.Enabled {
		t.Errorf("Unexpected settings: %+v", settings)
	}
}

func TestWebhookTestEndpoint(t *testing.T) {
	s, store, sender := newTestServer(t)

	// No endpoint configured yet.
	rec := do(t, s, "POST", "/api/v1/webhook/test", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without configuration, got %d", rec.Code)
	}

	if err := store.SetWebhookSettings("https://example.com/hook", 60, true); err != nil {
		t.Fatalf("Failed to save settings: %v", err)
	}

	rec = do(t, s, "POST", "/api/v1/webhook/test", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(sender.calls) != 1 || sender.calls[0] != "https://example.com/hook" {
		t.Errorf("Unexpected sender calls: %v", sender.calls)
	}

	// A delivery failure surfaces as 502.
	sender.err = errors.New("connection refused")
	rec = do(t, s, "POST", "/api/v1/webhook/test", nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 on delivery failure, got %d", rec.Code)
	}
}

func TestWebhookLogsEndpoint(t *testing.T) {
	s, store, _ := newTestServer(t)

	for i := 0; i < 5; i++ {
		if err := store.LogDelivery("ok", "delivered"); err != nil {
			t.Fatalf("Failed to log delivery: %v", err)
		}
	}

	rec := do(t, s, "GET", "/api/v1/webhook/logs?limit=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var entries []model.DeliveryEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("Bad log JSON: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("Expected 3 entries, got %d", len(entries))
	}
}
