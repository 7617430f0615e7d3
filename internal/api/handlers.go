package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/mlat-client/internal/coordinator"
	"github.com/yegors/mlat-client/internal/stats"
	"github.com/yegors/mlat-client/pkg/logger"
)

const statusTimeout = 2 * time.Second

// StatusSource provides coordinator snapshots
type StatusSource interface {
	Status(ctx context.Context) (coordinator.Status, error)
}

// ResultSource provides stored multilateration results
type ResultSource interface {
	Recent(hex string, limit int) ([]coordinator.Result, error)
}

// Handler contains the API handlers
type Handler struct {
	status  StatusSource
	results ResultSource // nil when persistence is disabled
	stats   *stats.Stats
	logger  *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(status StatusSource, results ResultSource, st *stats.Stats, logger *logger.Logger) *Handler {
	return &Handler{
		status:  status,
		results: results,
		stats:   st,
		logger:  logger.Named("api-handler"),
	}
}

// StatusResponse is returned by GET /api/v1/status
type StatusResponse struct {
	ReceiverState string            `json:"receiver_state"`
	ServerState   string            `json:"server_state"`
	SplitSync     bool              `json:"split_sync"`
	AircraftCount int               `json:"aircraft_count"`
	Reported      int               `json:"reported"`
	Requested     int               `json:"requested"`
	Stats         map[string]uint64 `json:"stats"`
	Timestamp     time.Time         `json:"timestamp"`
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) (coordinator.Status, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()

	st, err := h.status.Status(ctx)
	if err != nil {
		if errors.Is(err, coordinator.ErrStopped) {
			http.Error(w, "Client is shutting down", http.StatusServiceUnavailable)
			return st, false
		}
		h.logger.Error("Failed to get coordinator status", logger.Error(err))
		http.Error(w, "Status unavailable", http.StatusGatewayTimeout)
		return st, false
	}
	return st, true
}

// GetStatus returns connection states, registry counts and interval statistics
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := h.snapshot(w, r)
	if !ok {
		return
	}

	resp := StatusResponse{
		ReceiverState: st.ReceiverState,
		ServerState:   st.ServerState,
		SplitSync:     st.SplitSync,
		AircraftCount: len(st.Aircraft),
		Requested:     st.Requested,
		Stats:         h.stats.Snapshot(),
		Timestamp:     time.Now().UTC(),
	}
	for _, a := range st.Aircraft {
		if a.Reported {
			resp.Reported++
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

// GetAllAircraft returns the registry snapshot. The reported and requested
// query parameters narrow the list.
func (h *Handler) GetAllAircraft(w http.ResponseWriter, r *http.Request) {
	reportedOnly, err := parseBool(r, "reported")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	requestedOnly, err := parseBool(r, "requested")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	st, ok := h.snapshot(w, r)
	if !ok {
		return
	}

	aircraft := make([]coordinator.AircraftStatus, 0, len(st.Aircraft))
	for _, a := range st.Aircraft {
		if reportedOnly && !a.Reported {
			continue
		}
		if requestedOnly && !a.Requested {
			continue
		}
		aircraft = append(aircraft, a)
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"count":     len(aircraft),
		"aircraft":  aircraft,
		"timestamp": time.Now().UTC(),
	})
}

// GetAircraftByHex returns one aircraft from the registry
func (h *Handler) GetAircraftByHex(w http.ResponseWriter, r *http.Request) {
	hex := strings.ToLower(chi.URLParam(r, "hex"))

	st, ok := h.snapshot(w, r)
	if !ok {
		return
	}

	for _, a := range st.Aircraft {
		if a.Address == hex {
			WriteJSON(w, http.StatusOK, a)
			return
		}
	}
	http.Error(w, "Aircraft not found", http.StatusNotFound)
}

// GetResults returns the newest stored results
func (h *Handler) GetResults(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		http.Error(w, "Result storage not enabled", http.StatusServiceUnavailable)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}
	hex := strings.ToLower(r.URL.Query().Get("hex"))

	results, err := h.results.Recent(hex, limit)
	if err != nil {
		h.logger.Error("Failed to query results", logger.Error(err))
		http.Error(w, "Failed to query results", http.StatusInternalServerError)
		return
	}

	type resultJSON struct {
		Hex string `json:"hex"`
		coordinator.Result
	}
	out := make([]resultJSON, len(results))
	for i, res := range results {
		out[i] = resultJSON{Hex: res.Hex(), Result: res}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"count":   len(out),
		"results": out,
	})
}

// HealthCheck reports that the process is serving
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New("invalid " + key + " parameter")
	}
	return b, nil
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
