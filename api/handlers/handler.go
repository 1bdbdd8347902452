package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Aste21/Lodz-Hack/internal/models"
	"github.com/Aste21/Lodz-Hack/pkg/monitor"
)

const (
	StatusOK     = "ok"
	StatusNoData = "no_data"

	defaultNearbyLimit = 5
	maxNearbyLimit     = 50
)

// Handler handles HTTP requests
type Handler struct {
	client  monitor.Client
	version string
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(client monitor.Client, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{client: client, version: version, logger: logger}
}

// RegisterRoutes registers all routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.handleIndex).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.handleHealth).Methods("GET")
	api.HandleFunc("/vehicle_positions", h.handleLatest(models.KindVehiclePositions)).Methods("GET")
	api.HandleFunc("/vehicle_positions/nearby", h.handleNearby).Methods("GET")
	api.HandleFunc("/vehicle_positions/db", h.handleRecent(models.KindVehiclePositions)).Methods("GET")
	api.HandleFunc("/alerts", h.handleLatest(models.KindAlerts)).Methods("GET")
	api.HandleFunc("/alerts/db", h.handleRecent(models.KindAlerts)).Methods("GET")
}

// ResponseMetadata contains common response fields
type ResponseMetadata struct {
	Updated string `json:"updated,omitempty"`
}

// LatestResponse is the cached result of the most recent poll of a feed.
// Status is no_data until the first successful poll, and Data is then null.
type LatestResponse struct {
	Status          string          `json:"status"`
	Feed            models.FeedKind `json:"feed"`
	FetchedAt       string          `json:"fetched_at,omitempty"`
	HeaderTimestamp uint64          `json:"header_timestamp,omitempty"`
	EntityCount     int             `json:"entity_count"`
	Raw             []byte          `json:"raw,omitempty"`
	Data            interface{}     `json:"data"`
}

// VehiclesResponse represents a list of vehicles.
// Status is no_data until the first vehicle poll, and Data is then null.
type VehiclesResponse struct {
	Status string                   `json:"status"`
	Data   []models.VehiclePosition `json:"data"`
	ResponseMetadata
}

// RecentResponse lists stored snapshots newest first
type RecentResponse struct {
	Feed  models.FeedKind    `json:"feed"`
	Count int                `json:"count"`
	Data  []models.StoredRow `json:"data"`
}

// HealthResponse reports liveness and per-feed scheduler counters
type HealthResponse struct {
	Status  string              `json:"status"`
	Version string              `json:"version"`
	Feeds   []models.FeedStatus `json:"feeds"`
	ResponseMetadata
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"title": "Lodz-Hack GTFS-Realtime monitor",
		"endpoints": []string{
			"/api/health",
			"/api/vehicle_positions",
			"/api/vehicle_positions/nearby?lat=&lon=",
			"/api/vehicle_positions/db?limit=",
			"/api/alerts",
			"/api/alerts/db?limit=",
		},
	}
	h.writeJSON(w, response)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:           "up",
		Version:          h.version,
		Feeds:            h.client.GetStatus(),
		ResponseMetadata: h.getResponseMetadata(),
	}
	h.writeJSON(w, response)
}

func (h *Handler) handleLatest(kind models.FeedKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		latest, ok := h.client.GetLatest(kind)
		if !ok {
			h.writeJSON(w, LatestResponse{Status: StatusNoData, Feed: kind})
			return
		}

		response := LatestResponse{
			Status:          StatusOK,
			Feed:            kind,
			FetchedAt:       latest.FetchedAt.UTC().Format(time.RFC3339),
			HeaderTimestamp: latest.Message.HeaderTimestamp,
			EntityCount:     len(latest.Message.Entities),
			Raw:             latest.Raw,
		}
		switch kind {
		case models.KindVehiclePositions:
			response.Data = latest.Message.Vehicles()
		case models.KindAlerts:
			response.Data = latest.Message.Alerts()
		}
		h.writeJSON(w, response)
	}
}

func (h *Handler) handleNearby(w http.ResponseWriter, r *http.Request) {
	latStr := r.URL.Query().Get("lat")
	lonStr := r.URL.Query().Get("lon")

	if latStr == "" || lonStr == "" {
		h.writeError(w, "Missing lat/lon parameter", http.StatusBadRequest)
		return
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil || lat < -90 || lat > 90 {
		h.writeError(w, "Invalid lat parameter", http.StatusBadRequest)
		return
	}

	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil || lon < -180 || lon > 180 {
		h.writeError(w, "Invalid lon parameter", http.StatusBadRequest)
		return
	}

	limit, ok := parseLimit(r, defaultNearbyLimit)
	if !ok {
		h.writeError(w, "Invalid limit parameter", http.StatusBadRequest)
		return
	}
	if limit == 0 {
		limit = defaultNearbyLimit
	}
	if limit > maxNearbyLimit {
		limit = maxNearbyLimit
	}

	vehicles, ok := h.client.GetVehiclesByLocation(lat, lon, limit)
	if !ok {
		h.writeJSON(w, VehiclesResponse{Status: StatusNoData})
		return
	}

	response := VehiclesResponse{
		Status:           StatusOK,
		Data:             vehicles,
		ResponseMetadata: h.getResponseMetadata(),
	}
	h.writeJSON(w, response)
}

func (h *Handler) handleRecent(kind models.FeedKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(r, 0)
		if !ok {
			h.writeError(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}

		rows, err := h.client.GetRecent(r.Context(), kind, limit)
		if errors.Is(err, monitor.ErrDatabaseDisabled) {
			h.writeError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			h.logger.Error("Failed to read stored snapshots", "feed", kind.String(), "error", err)
			h.writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		h.writeJSON(w, RecentResponse{Feed: kind, Count: len(rows), Data: rows})
	}
}

// parseLimit reads the optional limit query parameter; fallback applies when absent
func parseLimit(r *http.Request, fallback int) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (h *Handler) getResponseMetadata() ResponseMetadata {
	var meta ResponseMetadata
	if updated := h.client.GetLastUpdate(); !updated.IsZero() {
		meta.Updated = updated.UTC().Format(time.RFC3339)
	}
	return meta
}

func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.writeError(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
