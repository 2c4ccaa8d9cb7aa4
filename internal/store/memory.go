package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"routeopt/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	routes    map[string]model.Route                // tenant|routeId -> route
	campaigns map[string]model.CampaignContext      // tenant|campaignId -> campaign
	zones     map[string][]model.CampaignZone       // tenant|campaignId -> zones
	hotZones  map[string][]model.HotZone            // tenant|campaignId -> hot zones
	stops     map[string][]model.StrategicStop      // tenant|campaignId -> strategic stops
	decisions map[string][]model.Decision           // tenant -> decisions, oldest first
	subs      map[string][]model.Subscription       // tenant -> subscriptions
	// Webhooks queue state
	deliveries map[string]*memDelivery // id -> delivery state
	order      []string                // delivery ids in enqueue order
	dlq        []map[string]any        // dead-lettered deliveries
}

func NewMemory() *Memory {
	return &Memory{
		routes:     map[string]model.Route{},
		campaigns:  map[string]model.CampaignContext{},
		zones:      map[string][]model.CampaignZone{},
		hotZones:   map[string][]model.HotZone{},
		stops:      map[string][]model.StrategicStop{},
		decisions:  map[string][]model.Decision{},
		subs:       map[string][]model.Subscription{},
		deliveries: map[string]*memDelivery{},
	}
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func key(tenantID, id string) string { return tenantID + "|" + id }

// Seeding helpers for development and tests. The campaign database owns these records in production.

func (m *Memory) PutRoute(r model.Route) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[key(r.TenantID, r.ID)] = r
}

func (m *Memory) PutCampaign(tenantID string, c model.CampaignContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[key(tenantID, c.ID)] = c
}

func (m *Memory) PutCampaignZone(tenantID, campaignID string, z model.CampaignZone) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(tenantID, campaignID)
	m.zones[k] = append(m.zones[k], z)
}

func (m *Memory) PutHotZone(tenantID, campaignID string, z model.HotZone) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(tenantID, campaignID)
	m.hotZones[k] = append(m.hotZones[k], z)
}

func (m *Memory) PutStrategicStop(tenantID, campaignID string, s model.StrategicStop) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(tenantID, campaignID)
	m.stops[k] = append(m.stops[k], s)
}

func (m *Memory) GetRoute(ctx context.Context, tenantID, routeID string) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[key(tenantID, routeID)]
	if !ok {
		return model.Route{}, ErrNotFound
	}
	r.Waypoints = sortedWaypoints(r.Waypoints)
	return r, nil
}

func (m *Memory) ListCampaignRoutes(ctx context.Context, tenantID, campaignID string) ([]model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Route{}
	for _, r := range m.routes {
		if r.TenantID == tenantID && r.CampaignID == campaignID {
			r.Waypoints = sortedWaypoints(r.Waypoints)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetCampaign(ctx context.Context, tenantID, campaignID string) (model.CampaignContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[key(tenantID, campaignID)]
	if !ok {
		return model.CampaignContext{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListCampaignZones(ctx context.Context, tenantID, campaignID string) ([]model.CampaignZone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.CampaignZone{}, m.zones[key(tenantID, campaignID)]...), nil
}

func (m *Memory) ListHotZones(ctx context.Context, tenantID, campaignID string) ([]model.HotZone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.HotZone{}, m.hotZones[key(tenantID, campaignID)]...), nil
}

func (m *Memory) ListStrategicStops(ctx context.Context, tenantID, campaignID string) ([]model.StrategicStop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.StrategicStop{}, m.stops[key(tenantID, campaignID)]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// Decisions

func (m *Memory) AppendDecision(ctx context.Context, d model.Decision) (model.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.RecordedAt.IsZero() {
		d.RecordedAt = time.Now().UTC()
	}
	m.decisions[d.TenantID] = append(m.decisions[d.TenantID], d)
	return d, nil
}

// ListDecisions returns the newest decisions first.
func (m *Memory) ListDecisions(ctx context.Context, tenantID string, limit int) ([]model.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	all := m.decisions[tenantID]
	out := make([]model.Decision, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Subscriptions

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
	return s, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Subscription{}, m.subs[tenantID]...), nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.subs[tenantID]
	out := make([]model.Subscription, 0, len(arr))
	found := false
	for _, s := range arr {
		if s.ID == id {
			found = true
			continue
		}
		out = append(out, s)
	}
	if !found {
		return ErrNotFound
	}
	m.subs[tenantID] = out
	return nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[tenantID] {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

// Webhook deliveries

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending},
		NextAttemptAt:   time.Now(),
	}
	m.order = append(m.order, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.order {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	m.dlq = append(m.dlq, map[string]any{"id": id, "lastError": lastError, "responseCode": responseCode, "latencyMs": latencyMs})
	return nil
}

// DeliveryStatus reports a delivery's state and attempt count.
func (m *Memory) DeliveryStatus(id string) (string, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return "", 0, false
	}
	return d.Status, d.Attempts, true
}

func sortedWaypoints(wps []model.Waypoint) []model.Waypoint {
	out := append([]model.Waypoint(nil), wps...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
