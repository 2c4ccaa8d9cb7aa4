// Package sandbox serves a local stand-in for the optimizer's /api/optimize endpoints.
// It orders stops by nearest neighbour plus 2-opt and is meant for development and tests only.
package sandbox

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"routeopt/internal/logging"
	"routeopt/internal/model"
)

const ModelVersion = "sandbox-nn2opt-1"

// AuditEntry is one recorded decision.
type AuditEntry struct {
	TraceID    string    `json:"trace_id"`
	Action     string    `json:"action"`
	Stops      int       `json:"stops"`
	RecordedAt time.Time `json:"recorded_at"`
}

type Server struct {
	Log *zap.Logger

	unhealthy atomic.Bool
	mu        sync.Mutex
	audit     []AuditEntry
}

func New(log *zap.Logger) *Server {
	return &Server{Log: logging.OrNop(log)}
}

// SetHealthy toggles the health endpoint and makes route requests answer 503 while unhealthy.
func (s *Server) SetHealthy(ok bool) { s.unhealthy.Store(!ok) }

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/optimize/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/optimize/penalties", s.handlePenalties).Methods(http.MethodPost)
	r.HandleFunc("/api/optimize/route", s.handleRoute).Methods(http.MethodPost)
	r.HandleFunc("/api/optimize/decision", s.handleDecision).Methods(http.MethodPost)
	r.HandleFunc("/api/optimize/audit", s.handleAudit).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.unhealthy.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "model_version": ModelVersion})
}

func (s *Server) handlePenalties(w http.ResponseWriter, r *http.Request) {
	var req model.PenaltiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, model.PenaltiesResponse{EdgePenalties: Penalties(req.Locations, req.Preferences)})
}

// Penalties scales each edge by its length: short hops cost 1.0, long hops up to 1.5, more under traffic.
func Penalties(locs []model.Location, p model.OptimizationPreferences) [][]float64 {
	n := len(locs)
	traffic := 1.0
	if p.AvoidTraffic && (p.TimeOfDay == model.TimeOfDayPeak || p.TimeOfDay == model.TimeOfDayEvening) {
		traffic = 1.2
	}
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			if i == j {
				out[i][j] = 1.0
				continue
			}
			km := haversineKm(locs[i].Lat, locs[i].Lng, locs[j].Lat, locs[j].Lng)
			out[i][j] = round((1+math.Min(km/50, 1)*0.5)*traffic, 4)
		}
	}
	return out
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if s.unhealthy.Load() {
		http.Error(w, "solver unavailable", http.StatusServiceUnavailable)
		return
	}
	var req model.OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	n := len(req.Locations)
	if n < 2 {
		http.Error(w, "at least 2 locations required", http.StatusBadRequest)
		return
	}
	if req.StartIndex < 0 || req.StartIndex >= n {
		http.Error(w, "start_index out of range", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, Solve(req))
}

// Solve orders the request's locations and reports the sandbox's score and metrics.
func Solve(req model.OptimizeRequest) model.CandidateRoute {
	nodes := make([]node, len(req.Locations))
	for i, l := range req.Locations {
		nodes[i] = node{Lat: l.Lat, Lng: l.Lng}
	}
	cost := costMatrix(nodes, req.Preferences.EdgePenalties)
	order := improve2Opt(cost, nearestNeighbour(cost, req.StartIndex), 50)

	plain := costMatrix(nodes, nil)
	stops := make([]model.RouteStop, len(order))
	for i, idx := range order {
		l := req.Locations[idx]
		lat, lng := l.Lat, l.Lng
		stops[i] = model.RouteStop{ID: l.ID, Lat: &lat, Lng: &lng}
	}
	var warnings []string
	if req.Preferences.SolverTimeLimitSeconds != nil {
		warnings = append(warnings, "solver time limit of "+strconv.Itoa(*req.Preferences.SolverTimeLimitSeconds)+"s applied")
	}
	return model.CandidateRoute{
		Route:        stops,
		Score:        &model.RouteScore{ImpressionsEstimate: impressions(len(order), req.Preferences.Priority)},
		Metrics:      &model.RouteMetrics{ApproxDistanceUnits: round(pathCost(plain, order), 2), LocationsCount: len(order)},
		ModelVersion: ModelVersion,
		TraceID:      "trace-" + uuid.New().String(),
		Warnings:     warnings,
	}
}

func impressions(stops int, priority string) float64 {
	per := 150.0
	if priority == model.PriorityImpressions {
		per = 220
	}
	return float64(stops) * per
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req model.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Action != model.ActionAccept && req.Action != model.ActionReject {
		http.Error(w, "action must be accept or reject", http.StatusBadRequest)
		return
	}
	trace := req.Route.TraceID
	if trace == "" {
		trace = "trace-" + uuid.New().String()
	}
	s.mu.Lock()
	s.audit = append(s.audit, AuditEntry{TraceID: trace, Action: req.Action, Stops: len(req.Route.Route), RecordedAt: time.Now().UTC()})
	s.mu.Unlock()
	s.Log.Info("sandbox decision", zap.String("action", req.Action), zap.String("trace_id", trace))
	writeJSON(w, http.StatusOK, model.DecisionResponse{TraceID: trace})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	entries := make([]AuditEntry, 0, limit)
	for i := len(s.audit) - 1; i >= 0 && len(entries) < limit; i-- {
		entries = append(entries, s.audit[i])
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(entries), "entries": entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
