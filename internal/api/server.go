package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"nettally/internal/model"

	"github.com/gorilla/mux"
)

// Store is the slice of the storage layer the HTTP handlers need.
type Store interface {
	Report(since time.Time) ([]model.AppReport, error)
	Exclusions() ([]model.ExcludedIP, error)
	AddExclusion(ip, description string) error
	RemoveExclusion(ip string) (bool, error)
	WebhookSettings() (model.WebhookSettings, error)
	SetWebhookSettings(url string, intervalMinutes int, enabled bool) error
	DeliveryLog(limit int) ([]model.DeliveryEntry, error)
}

// Sender fires a one-off webhook delivery, used by the test endpoint.
type Sender interface {
	SendReport(url string, intervalMinutes int) error
}

// Server exposes the operator API over HTTP.
type Server struct {
	store  Store
	sender Sender
	srv    *http.Server
}

// New builds the server and wires up its routes.
func New(store Store, sender Sender, addr string) *Server {
	s := &Server{store: store, sender: sender}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	r.HandleFunc("/api/v1/report", s.reportHandler).Methods("GET")
	r.HandleFunc("/api/v1/exclusions", s.listExclusionsHandler).Methods("GET")
	r.HandleFunc("/api/v1/exclusions", s.addExclusionHandler).Methods("POST")
	r.HandleFunc("/api/v1/exclusions/{ip}", s.removeExclusionHandler).Methods("DELETE")
	r.HandleFunc("/api/v1/webhook", s.getWebhookHandler).Methods("GET")
	r.HandleFunc("/api/v1/webhook", s.putWebhookHandler).Methods("PUT")
	r.HandleFunc("/api/v1/webhook/logs", s.webhookLogsHandler).Methods("GET")
	r.HandleFunc("/api/v1/webhook/test", s.testWebhookHandler).Methods("POST")

	s.srv = &http.Server{Addr: addr, Handler: r}
	return s
}

// Router returns the configured handler, used by tests.
func (s *Server) Router() http.Handler {
	return s.srv.Handler
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("API server starting on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ERROR: API server failed: %v", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonBytes)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// reportHandler returns per-application totals over the last N days
// (default 1, capped at 365).
func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	days := 1
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			http.Error(w, "days must be an integer between 1 and 365", http.StatusBadRequest)
			return
		}
		days = n
	}

	since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	apps, err := s.store.Report(since)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query report: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"since":        since,
		"days":         days,
		"applications": apps,
	})
}

func (s *Server) listExclusionsHandler(w http.ResponseWriter, r *http.Request) {
	excluded, err := s.store.Exclusions()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list exclusions: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, excluded)
}

func (s *Server) addExclusionHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP          string `json:"ip"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}
	if net.ParseIP(req.IP) == nil {
		http.Error(w, fmt.Sprintf("invalid IP address: %q", req.IP), http.StatusBadRequest)
		return
	}
	if err := s.store.AddExclusion(req.IP, req.Description); err != nil {
		http.Error(w, fmt.Sprintf("failed to add exclusion: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"ip": req.IP})
}

func (s *Server) removeExclusionHandler(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]
	removed, err := s.store.RemoveExclusion(ip)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to remove exclusion: %v", err), http.StatusInternalServerError)
		return
	}
	if !removed {
		http.Error(w, fmt.Sprintf("no exclusion for %q", ip), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getWebhookHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.WebhookSettings()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load webhook settings: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) putWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EndpointURL     string `json:"endpoint_url"`
		IntervalMinutes int    `json:"interval_minutes"`
		Enabled         bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Enabled && req.EndpointURL == "" {
		http.Error(w, "endpoint_url is required when enabled", http.StatusBadRequest)
		return
	}
	if req.Enabled && req.IntervalMinutes < 1 {
		http.Error(w, "interval_minutes must be at least 1", http.StatusBadRequest)
		return
	}
	if err := s.store.SetWebhookSettings(req.EndpointURL, req.IntervalMinutes, req.Enabled); err != nil {
		http.Error(w, fmt.Sprintf("failed to save webhook settings: %v", err), http.StatusInternalServerError)
		return
	}
	settings, err := s.store.WebhookSettings()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load webhook settings: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) webhookLogsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			http.Error(w, "limit must be an integer between 1 and 100", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := s.store.DeliveryLog(limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load delivery log: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// testWebhookHandler fires an immediate delivery using the stored
// settings, independent of the schedule.
func (s *Server) testWebhookHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.WebhookSettings()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load webhook settings: %v", err), http.StatusInternalServerError)
		return
	}
	if settings.EndpointURL == "" {
		http.Error(w, "no webhook endpoint configured", http.StatusBadRequest)
		return
	}
	if err := s.sender.SendReport(settings.EndpointURL, settings.IntervalMinutes); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"status": "error", "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
