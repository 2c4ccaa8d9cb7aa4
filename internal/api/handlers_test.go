package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"routeopt/internal/config"
	"routeopt/internal/decision"
	"routeopt/internal/events"
	"routeopt/internal/model"
	"routeopt/internal/optimizer"
	"routeopt/internal/payload"
	"routeopt/internal/sandbox"
	"routeopt/internal/session"
	"routeopt/internal/store"
	"routeopt/internal/webhooks"
)

const tenant = "t1"

type testEnv struct {
	srv     *Server
	h       http.Handler
	sandbox *sandbox.Server
	data    *store.Memory
	broker  *events.Memory
}

func fptr(f float64) *float64 { return &f }

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{Env: "test", RateLimit: config.RateLimitConfig{RPS: 100, Burst: 100}}
	}
	sb := sandbox.New(nil)
	upstream := httptest.NewServer(sb.Handler())
	t.Cleanup(upstream.Close)

	data := store.NewMemory()
	data.PutRoute(model.Route{ID: "r1", TenantID: tenant, CampaignID: "c1", Waypoints: []model.Waypoint{
		{ID: "A", Lat: fptr(52.0), Lng: fptr(4.0), Order: 0},
		{ID: "B", Lat: fptr(52.03), Lng: fptr(4.03), Order: 1},
		{ID: "C", Lat: fptr(52.01), Lng: fptr(4.01), Order: 2},
		{ID: "D", Lat: fptr(52.02), Lng: fptr(4.02), Order: 3},
	}})
	data.PutRoute(model.Route{ID: "tiny", TenantID: tenant, Waypoints: []model.Waypoint{{Lat: fptr(1), Lng: fptr(1)}}})
	data.PutCampaign(tenant, model.CampaignContext{ID: "c1", Name: "Spring"})
	data.PutCampaignZone(tenant, "c1", model.CampaignZone{ID: "z1", GeoJSON: `{"type":"Polygon","coordinates":[[[3.9,51.9],[4.1,51.9],[4.1,52.1],[3.9,52.1],[3.9,51.9]]]}`})

	client := optimizer.NewClient(upstream.URL, 5*time.Second, false, nil)
	broker := events.NewMemory()
	client.OnStatusChange(PublishOptimizerStatus(broker))
	pub := webhooks.NewPublisher(data, nil)
	rec := decision.NewRecorder(client, data, pub, nil)
	b := payload.NewBuilder(client, false, false, nil)
	sessions := session.NewService(session.NewMemory(time.Hour), data, b, client, rec, broker, nil)

	srv := NewServer(Deps{Config: cfg, Store: data, Sessions: sessions, Optimizer: client, Decisions: rec, Broker: broker, Pub: pub})
	return &testEnv{srv: srv, h: srv.Router(), sandbox: sb, data: data, broker: broker}
}

func (e *testEnv) do(t *testing.T, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", tenant)
	if role != "" {
		req.Header.Set("X-Role", role)
	}
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthReady(t *testing.T) {
	e := newTestEnv(t, nil)
	rr := e.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = e.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"ready"`)
}

func TestOptimizeReviewAccept(t *testing.T) {
	e := newTestEnv(t, nil)
	rr := e.do(t, http.MethodPost, "/v1/routes/r1/optimize", "", map[string]any{
		"preferences": map[string]any{"time_of_day": "peak"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sess := decode[session.Session](t, rr)
	require.Equal(t, session.StateReviewing, sess.State)
	require.Equal(t, model.TimeOfDayPeak, sess.Preferences.TimeOfDay)
	// fields missing from the body keep their defaults
	require.Equal(t, model.PriorityImpressions, sess.Preferences.Priority)
	require.NotNil(t, sess.Candidate)
	require.Len(t, sess.Candidate.Route, 4)
	require.Equal(t, "A", sess.Candidate.Route[0].ID)
	require.NotNil(t, sess.Insights)
	require.Empty(t, sess.Insights.NewRoute.AddedStops)

	rr = e.do(t, http.MethodGet, "/v1/sessions/"+sess.ID+"/snapshot", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decode[session.Snapshot](t, rr)
	require.Equal(t, session.SnapshotVersion, snap.Version)

	rr = e.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/decision", "", map[string]string{"action": "accept"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	done := decode[session.Session](t, rr)
	require.Equal(t, session.StateAccepted, done.State)
	require.NotNil(t, done.Decision)
	require.NotEmpty(t, done.Decision.TraceID)

	// a terminal session takes no further decisions
	rr = e.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/decision", "", map[string]string{"action": "reject"})
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = e.do(t, http.MethodGet, "/v1/decisions?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	hist := decode[struct {
		Count int              `json:"count"`
		Items []model.Decision `json:"items"`
	}](t, rr)
	require.Equal(t, 1, hist.Count)
	require.Equal(t, sess.ID, hist.Items[0].SessionID)

	rr = e.do(t, http.MethodGet, "/v1/audit", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[model.AuditPage](t, rr)
	require.Equal(t, 1, page.Count)
}

func TestUnavailableOptimizerProblemAndRetry(t *testing.T) {
	e := newTestEnv(t, nil)
	e.sandbox.SetHealthy(false)

	rr := e.do(t, http.MethodPost, "/v1/routes/r1/optimize", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	p := decode[Problem](t, rr)
	require.Equal(t, "urn:routeopt:service_unavailable", p.Type)
	require.Equal(t, "service_unavailable", p.Kind)
	require.NotNil(t, p.Retryable)
	require.True(t, *p.Retryable)
	require.NotEmpty(t, p.SessionID)

	rr = e.do(t, http.MethodGet, "/v1/optimizer/status", "", nil)
	require.Equal(t, optimizer.StateUnavailable, decode[optimizer.Status](t, rr).State)

	// blocked before any session is created
	rr = e.do(t, http.MethodPost, "/v1/routes/r1/optimize", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Empty(t, decode[Problem](t, rr).SessionID)

	e.sandbox.SetHealthy(true)
	rr = e.do(t, http.MethodPost, "/v1/sessions/"+p.SessionID+"/retry", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, session.StateReviewing, decode[session.Session](t, rr).State)
}

func TestHealthCheckClearsUnavailable(t *testing.T) {
	e := newTestEnv(t, nil)
	e.sandbox.SetHealthy(false)
	rr := e.do(t, http.MethodPost, "/v1/optimizer/health-check", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, optimizer.StateUnavailable, decode[optimizer.Status](t, rr).State)

	e.sandbox.SetHealthy(true)
	rr = e.do(t, http.MethodPost, "/v1/optimizer/health-check", "", nil)
	require.Equal(t, optimizer.StateAvailable, decode[optimizer.Status](t, rr).State)
}

func TestPreconditionFailedThenReset(t *testing.T) {
	e := newTestEnv(t, nil)
	rr := e.do(t, http.MethodPost, "/v1/routes/tiny/optimize", "", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	p := decode[Problem](t, rr)
	require.Equal(t, "precondition_failed", p.Kind)
	require.False(t, *p.Retryable)

	rr = e.do(t, http.MethodPost, "/v1/sessions/"+p.SessionID+"/retry", "", nil)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = e.do(t, http.MethodGet, "/v1/sessions/"+p.SessionID+"/snapshot", "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = e.do(t, http.MethodPost, "/v1/sessions/"+p.SessionID+"/reset", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, session.StateIdle, decode[session.Session](t, rr).State)

	rr = e.do(t, http.MethodPost, "/v1/routes/r1/optimize", "", map[string]any{"sessionId": p.SessionID})
	require.Equal(t, http.StatusConflict, rr.Code)
	rr = e.do(t, http.MethodGet, "/v1/sessions/"+p.SessionID, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "tiny", decode[session.Session](t, rr).RouteID)
}

func TestOptimizeValidation(t *testing.T) {
	e := newTestEnv(t, nil)
	rr := e.do(t, http.MethodPost, "/v1/routes/r1/optimize", "", map[string]any{"start_index": -1})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = e.do(t, http.MethodPost, "/v1/routes/r1/optimize", "", map[string]any{"preferences": map[string]any{"priority": "speed"}})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = e.do(t, http.MethodPost, "/v1/routes/r1/optimize", "", map[string]any{"bogus": true})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = e.do(t, http.MethodPost, "/v1/routes/missing/optimize", "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDecisionValidation(t *testing.T) {
	e := newTestEnv(t, nil)
	rr := e.do(t, http.MethodPost, "/v1/routes/r1/optimize", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	id := decode[session.Session](t, rr).ID

	rr = e.do(t, http.MethodPost, "/v1/sessions/"+id+"/decision", "", map[string]string{"action": "maybe"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = e.do(t, http.MethodPost, "/v1/sessions/unknown/decision", "", map[string]string{"action": "accept"})
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = e.do(t, http.MethodGet, "/v1/sessions/"+id, "", nil)
	require.Equal(t, session.StateReviewing, decode[session.Session](t, rr).State)
}

func TestViewerIsReadOnly(t *testing.T) {
	e := newTestEnv(t, nil)
	rr := e.do(t, http.MethodPost, "/v1/routes/r1/optimize", RoleViewer, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
	rr = e.do(t, http.MethodPost, "/v1/optimizer/health-check", RoleViewer, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
	rr = e.do(t, http.MethodGet, "/v1/optimizer/status", RoleViewer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestOptimizeIsRateLimitedPerTenant(t *testing.T) {
	e := newTestEnv(t, &config.Config{RateLimit: config.RateLimitConfig{RPS: 0.001, Burst: 1}})
	rr := e.do(t, http.MethodPost, "/v1/routes/r1/optimize", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = e.do(t, http.MethodPost, "/v1/routes/r1/optimize", "", nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestZonesContains(t *testing.T) {
	e := newTestEnv(t, nil)
	rr := e.do(t, http.MethodPost, "/v1/campaigns/c1/zones/contains", "", map[string]any{
		"points": []map[string]float64{{"lat": 52.0, "lng": 4.0}, {"lat": 10, "lng": 10}},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	out := decode[struct {
		Zones   int              `json:"zones"`
		Results []containsResult `json:"results"`
	}](t, rr)
	require.Equal(t, 1, out.Zones)
	require.True(t, out.Results[0].Inside)
	require.Equal(t, "z1", out.Results[0].ZoneID)
	require.False(t, out.Results[1].Inside)
	require.Equal(t, -1, out.Results[1].ZoneIndex)

	rr = e.do(t, http.MethodPost, "/v1/campaigns/c1/zones/contains", "", map[string]any{"points": []any{}})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubscriptionsAdminOnly(t *testing.T) {
	e := newTestEnv(t, nil)
	body := map[string]any{"url": "https://hooks.example.com/routes", "events": []string{webhooks.EventDecisionRecorded}}
	rr := e.do(t, http.MethodPost, "/v1/subscriptions", RoleOperator, body)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = e.do(t, http.MethodPost, "/v1/subscriptions", RoleAdmin, body)
	require.Equal(t, http.StatusCreated, rr.Code)
	sub := decode[model.Subscription](t, rr)
	require.Equal(t, tenant, sub.TenantID)

	rr = e.do(t, http.MethodPost, "/v1/subscriptions", RoleAdmin, map[string]any{"url": "ftp://x", "events": []string{"*"}})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(t, http.MethodGet, "/v1/subscriptions", RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), sub.ID)

	rr = e.do(t, http.MethodDelete, "/v1/subscriptions/"+sub.ID, RoleAdmin, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = e.do(t, http.MethodDelete, "/v1/subscriptions/"+sub.ID, RoleAdmin, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDecisionEnqueuesWebhook(t *testing.T) {
	e := newTestEnv(t, nil)
	_, err := e.data.CreateSubscription(context.Background(), model.SubscriptionRequest{TenantID: tenant, URL: "https://hooks.example.com", Events: []string{"*"}})
	require.NoError(t, err)
	rr := e.do(t, http.MethodPost, "/v1/routes/r1/optimize", "", nil)
	id := decode[session.Session](t, rr).ID
	rr = e.do(t, http.MethodPost, "/v1/sessions/"+id+"/decision", "", map[string]string{"action": "reject"})
	require.Equal(t, http.StatusOK, rr.Code)

	due, err := e.data.FetchDueWebhookDeliveries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, webhooks.EventDecisionRecorded, due[0].EventType)
}

func TestDocsAndMetrics(t *testing.T) {
	e := newTestEnv(t, nil)
	rr := e.do(t, http.MethodGet, "/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	doc := decode[map[string]any](t, rr)
	require.Contains(t, doc, "paths")

	rr = e.do(t, http.MethodGet, "/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = e.do(t, http.MethodGet, "/docs", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = e.do(t, http.MethodGet, "/debug/vars", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "goVersion")

	rr = e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestSessionSSEStartsWithCurrentState(t *testing.T) {
	e := newTestEnv(t, nil)
	rr := e.do(t, http.MethodPost, "/v1/routes/r1/optimize", "", nil)
	id := decode[session.Session](t, rr).ID

	ts := httptest.NewServer(e.h)
	defer ts.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/sessions/"+id+"/events/stream", nil)
	req.Header.Set("X-Tenant-Id", tenant)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	require.True(t, sc.Scan())
	require.Equal(t, "event: "+events.TypeSessionState, sc.Text())
	require.True(t, sc.Scan())
	require.True(t, strings.HasPrefix(sc.Text(), "data: "))
	require.Contains(t, sc.Text(), `"state":"reviewing"`)
}

func TestSessionWebsocketForwardsTransitions(t *testing.T) {
	e := newTestEnv(t, nil)
	rr := e.do(t, http.MethodPost, "/v1/routes/r1/optimize", "", nil)
	id := decode[session.Session](t, rr).ID

	ts := httptest.NewServer(e.h)
	defer ts.Close()
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", tenant)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/sessions/"+id+"/ws", hdr)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first events.Event
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, events.TypeSessionState, first.Type)
	require.Equal(t, "reviewing", first.Data["state"])

	rr = e.do(t, http.MethodPost, "/v1/sessions/"+id+"/decision", "", map[string]string{"action": "reject"})
	require.Equal(t, http.StatusOK, rr.Code)

	var next events.Event
	require.NoError(t, conn.ReadJSON(&next))
	require.Equal(t, "rejected", next.Data["state"])
}

func TestUnknownRouteIsProblem(t *testing.T) {
	e := newTestEnv(t, nil)
	rr := e.do(t, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "Not Found", decode[Problem](t, rr).Title)
}

func TestSessionWebsocketChecksOrigin(t *testing.T) {
	e := newTestEnv(t, &config.Config{
		Env:            "test",
		RateLimit:      config.RateLimitConfig{RPS: 100, Burst: 100},
		AllowedOrigins: []string{"https://ops.example.com"},
	})
	rr := e.do(t, http.MethodPost, "/v1/routes/r1/optimize", "", nil)
	id := decode[session.Session](t, rr).ID

	ts := httptest.NewServer(e.h)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/" + id + "/ws"

	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", tenant)
	hdr.Set("Origin", "https://evil.example.net")
	_, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	hdr.Set("Origin", "https://ops.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first events.Event
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "reviewing", first.Data["state"])
}
