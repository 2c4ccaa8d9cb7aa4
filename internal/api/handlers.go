package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"routeopt/internal/geofence"
	"routeopt/internal/model"
	"routeopt/internal/session"
	"routeopt/internal/store"
)

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler checks the database and Redis. Optimizer availability is reported but never fails readiness.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if pg, ok := s.Store.(store.Pinger); ok {
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "database: "+err.Error(), r.URL.Path)
			return
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "redis: "+err.Error(), r.URL.Path)
			return
		}
	}
	out := map[string]any{"status": "ready"}
	if s.Optimizer != nil {
		out["optimizer"] = s.Optimizer.Status()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) OptimizerStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Optimizer.Status())
}

// OptimizerHealthCheckHandler probes the optimizer now. A healthy probe clears the sticky unavailable flag.
func (s *Server) OptimizerHealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if !requireWrite(w, r, getPrincipal(r)) {
		return
	}
	writeJSON(w, http.StatusOK, s.Optimizer.CheckHealth(r.Context()))
}

func (s *Server) OptimizeRouteHandler(w http.ResponseWriter, r *http.Request) {
	p := getPrincipal(r)
	if !requireWrite(w, r, p) {
		return
	}
	if !s.limiter.Allow(p.Tenant) {
		w.Header().Set("Retry-After", "1")
		writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "optimization requests are throttled per tenant", r.URL.Path)
		return
	}
	prefs := model.DefaultPreferences()
	req := session.StartRequest{Preferences: &prefs}
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	req.RouteID = mux.Vars(r)["routeId"]
	if err := validateStartRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
		return
	}
	sess, err := s.Sessions.Start(r.Context(), p.Tenant, req)
	if err != nil {
		writeError(w, r, err, sessionID(sess))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) SessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Get(r.Context(), getPrincipal(r).Tenant, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) SessionRetryHandler(w http.ResponseWriter, r *http.Request) {
	p := getPrincipal(r)
	if !requireWrite(w, r, p) {
		return
	}
	sess, err := s.Sessions.Retry(r.Context(), p.Tenant, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err, sessionID(sess))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) SessionResetHandler(w http.ResponseWriter, r *http.Request) {
	p := getPrincipal(r)
	if !requireWrite(w, r, p) {
		return
	}
	sess, err := s.Sessions.Reset(r.Context(), p.Tenant, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err, sessionID(sess))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type decisionBody struct {
	Action string `json:"action"`
}

func (s *Server) SessionDecisionHandler(w http.ResponseWriter, r *http.Request) {
	p := getPrincipal(r)
	if !requireWrite(w, r, p) {
		return
	}
	var body decisionBody
	if err := decodeJSON(r, &body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	sess, err := s.Sessions.Decide(r.Context(), p.Tenant, mux.Vars(r)["id"], body.Action)
	if err != nil {
		writeError(w, r, err, sessionID(sess))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) SessionSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Sessions.Snapshot(r.Context(), getPrincipal(r).Tenant, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// AuditHandler proxies the optimizer's decision audit log.
func (s *Server) AuditHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid limit", err.Error(), r.URL.Path)
		return
	}
	page, err := s.Decisions.Audit(r.Context(), limit)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// DecisionsHandler lists the tenant's locally recorded decisions, newest first.
func (s *Server) DecisionsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid limit", err.Error(), r.URL.Path)
		return
	}
	items, err := s.Decisions.History(r.Context(), getPrincipal(r).Tenant, limit)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}

type containsResult struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Inside    bool    `json:"inside"`
	ZoneIndex int     `json:"zoneIndex"`
	ZoneID    string  `json:"zoneId,omitempty"`
}

// ZonesContainsHandler tests points against a campaign's zones. Unparsable zones are skipped.
func (s *Server) ZonesContainsHandler(w http.ResponseWriter, r *http.Request) {
	p := getPrincipal(r)
	var req containsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateContainsRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid contains request", err.Error(), r.URL.Path)
		return
	}
	zones, err := s.Store.ListCampaignZones(r.Context(), p.Tenant, mux.Vars(r)["campaignId"])
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	// Parsed per zone so a hit maps back to the zone it came from.
	var all []geofence.Polygon
	var owners []string
	for _, z := range zones {
		for _, poly := range geofence.ParseGeoJSON(z.GeoJSON) {
			all = append(all, poly)
			owners = append(owners, z.ID)
		}
	}
	out := make([]containsResult, 0, len(req.Points))
	for _, pt := range req.Points {
		idx := geofence.ZoneIndex(geofence.LatLng{Latitude: pt.Lat, Longitude: pt.Lng}, all)
		res := containsResult{Lat: pt.Lat, Lng: pt.Lng, Inside: idx >= 0, ZoneIndex: idx}
		if idx >= 0 {
			res.ZoneID = owners[idx]
		}
		out = append(out, res)
	}
	writeJSON(w, http.StatusOK, map[string]any{"zones": len(all), "results": out})
}

func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	p := getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateSubscription(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		req.TenantID = p.Tenant
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	default:
		items, err := s.Store.ListSubscriptions(r.Context(), p.Tenant)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	p := getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	err := s.Store.DeleteSubscription(r.Context(), p.Tenant, mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", "subscription not found", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func sessionID(sess *session.Session) string {
	if sess == nil {
		return ""
	}
	return sess.ID
}
