package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"routeopt/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// MigrateDir applies every *.sql file in dir, in name order, that has not been applied yet.
func (p *Postgres) MigrateDir(dir string) error {
	ctx := context.Background()
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return err
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		name := filepath.Base(f)
		var seen string
		err := p.db.QueryRowContext(ctx, `SELECT name FROM schema_migrations WHERE name=$1`, name).Scan(&seen)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		body, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) GetRoute(ctx context.Context, tenantID, routeID string) (model.Route, error) {
	var r model.Route
	var campaignID, name sql.NullString
	row := p.db.QueryRowContext(ctx, `SELECT id::text, campaign_id::text, name FROM routes WHERE tenant_id=$1 AND id::text=$2`, tenantID, routeID)
	if err := row.Scan(&r.ID, &campaignID, &name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, ErrNotFound
		}
		return r, err
	}
	r.TenantID = tenantID
	r.CampaignID = campaignID.String
	r.Name = name.String
	wps, err := p.waypoints(ctx, tenantID, r.ID)
	if err != nil {
		return r, err
	}
	r.Waypoints = wps
	return r, nil
}

func (p *Postgres) waypoints(ctx context.Context, tenantID, routeID string) ([]model.Waypoint, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT COALESCE(id::text,''), COALESCE(name,''), lat, lng, seq FROM route_waypoints WHERE tenant_id=$1 AND route_id::text=$2 ORDER BY seq`, tenantID, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Waypoint{}
	for rows.Next() {
		var w model.Waypoint
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&w.ID, &w.Name, &lat, &lng, &w.Order); err != nil {
			return nil, err
		}
		if lat.Valid {
			w.Lat = &lat.Float64
		}
		if lng.Valid {
			w.Lng = &lng.Float64
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (p *Postgres) ListCampaignRoutes(ctx context.Context, tenantID, campaignID string) ([]model.Route, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(name,'') FROM routes WHERE tenant_id=$1 AND campaign_id::text=$2 ORDER BY id`, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	out, err := scanRouteHeaders(rows, tenantID, campaignID)
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list routes for campaign %s: %w", campaignID, err)
	}
	for i := range out {
		wps, err := p.waypoints(ctx, tenantID, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Waypoints = wps
	}
	return out, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanRouteHeaders drains rows before any waypoint query runs on the pool.
func scanRouteHeaders(rows rowScanner, tenantID, campaignID string) ([]model.Route, error) {
	var out []model.Route
	for rows.Next() {
		r := model.Route{TenantID: tenantID, CampaignID: campaignID}
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeTargetZones(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var zones []string
	if err := json.Unmarshal(raw, &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

func decodeDecisionRoute(raw []byte) (model.CandidateRoute, error) {
	var route model.CandidateRoute
	if len(raw) == 0 {
		return route, nil
	}
	err := json.Unmarshal(raw, &route)
	return route, err
}

func (p *Postgres) GetCampaign(ctx context.Context, tenantID, campaignID string) (model.CampaignContext, error) {
	var c model.CampaignContext
	var name, typ, audience, vehicle sql.NullString
	var goal sql.NullInt64
	var starts, ends sql.NullTime
	var zones []byte
	row := p.db.QueryRowContext(ctx, `SELECT id::text, name, type, target_audience, impression_goal, starts_at, ends_at, vehicle_type, target_zones FROM campaigns WHERE tenant_id=$1 AND id::text=$2`, tenantID, campaignID)
	if err := row.Scan(&c.ID, &name, &typ, &audience, &goal, &starts, &ends, &vehicle, &zones); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, ErrNotFound
		}
		return c, err
	}
	c.Name, c.Type, c.TargetAudience, c.VehicleType = name.String, typ.String, audience.String, vehicle.String
	c.ImpressionGoal = goal.Int64
	if starts.Valid {
		c.StartsAt = &starts.Time
	}
	if ends.Valid {
		c.EndsAt = &ends.Time
	}
	tz, err := decodeTargetZones(zones)
	if err != nil {
		return c, fmt.Errorf("decode target_zones for campaign %s: %w", c.ID, err)
	}
	c.TargetZones = tz
	return c, nil
}

func (p *Postgres) ListCampaignZones(ctx context.Context, tenantID, campaignID string) ([]model.CampaignZone, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(name,''), geojson::text FROM campaign_zones WHERE tenant_id=$1 AND campaign_id::text=$2 ORDER BY id`, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.CampaignZone{}
	for rows.Next() {
		var z model.CampaignZone
		if err := rows.Scan(&z.ID, &z.Name, &z.GeoJSON); err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

func (p *Postgres) ListHotZones(ctx context.Context, tenantID, campaignID string) ([]model.HotZone, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(name,''), geojson::text, bonus_percent, starts_at, ends_at FROM hot_zones WHERE tenant_id=$1 AND campaign_id::text=$2 ORDER BY id`, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.HotZone{}
	for rows.Next() {
		var z model.HotZone
		var starts, ends sql.NullTime
		if err := rows.Scan(&z.ID, &z.Name, &z.GeoJSON, &z.BonusPercent, &starts, &ends); err != nil {
			return nil, err
		}
		if starts.Valid {
			z.StartsAt = &starts.Time
		}
		if ends.Valid {
			z.EndsAt = &ends.Time
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

func (p *Postgres) ListStrategicStops(ctx context.Context, tenantID, campaignID string) ([]model.StrategicStop, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(name,''), lat, lng, seq, COALESCE(notes,'') FROM strategic_stops WHERE tenant_id=$1 AND campaign_id::text=$2 ORDER BY seq`, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.StrategicStop{}
	for rows.Next() {
		var s model.StrategicStop
		if err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lng, &s.Order, &s.Notes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Decisions

func (p *Postgres) AppendDecision(ctx context.Context, d model.Decision) (model.Decision, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.RecordedAt.IsZero() {
		d.RecordedAt = time.Now().UTC()
	}
	route, err := json.Marshal(d.Route)
	if err != nil {
		return d, err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO route_decisions (id, tenant_id, session_id, route_id, action, trace_id, route, recorded_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, d.TenantID, nullIfEmpty(d.SessionID), nullIfEmpty(d.RouteID), d.Action, nullIfEmpty(d.TraceID), route, d.RecordedAt)
	if err != nil {
		return d, err
	}
	return d, nil
}

func (p *Postgres) ListDecisions(ctx context.Context, tenantID string, limit int) ([]model.Decision, error) {
	limit = clampLimit(limit)
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(session_id,''), COALESCE(route_id,''), action, COALESCE(trace_id,''), route, recorded_at FROM route_decisions WHERE tenant_id=$1 ORDER BY recorded_at DESC, id LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Decision{}
	for rows.Next() {
		d := model.Decision{TenantID: tenantID}
		var route []byte
		if err := rows.Scan(&d.ID, &d.SessionID, &d.RouteID, &d.Action, &d.TraceID, &route, &d.RecordedAt); err != nil {
			return nil, err
		}
		r, err := decodeDecisionRoute(route)
		if err != nil {
			return nil, fmt.Errorf("decode route for decision %s: %w", d.ID, err)
		}
		d.Route = r
		out = append(out, d)
	}
	return out, rows.Err()
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	ev, _ := json.Marshal(req.Events)
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`, id, req.TenantID, req.URL, ev, nullIfEmpty(req.Secret))
	if err != nil {
		return model.Subscription{}, err
	}
	return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID string) ([]model.Subscription, error) {
	return p.querySubscriptions(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 ORDER BY id`, tenantID)
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	return p.querySubscriptions(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 AND (events @> $2::jsonb OR events @> '["*"]'::jsonb)`, tenantID, fmt.Sprintf("[%q]", eventType))
}

func (p *Postgres) querySubscriptions(ctx context.Context, q string, tenantID string, args ...any) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, q, append([]any{tenantID}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		s := model.Subscription{TenantID: tenantID}
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	dk := computeDedupKey(payload)
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`, id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		next := time.Now().Add(time.Minute)
		if nextAttemptAt != nil {
			next = *nextAttemptAt
		}
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$3`, nullIfEmpty(lastError), next, id, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO webhook_dlq (id, tenant_id, delivery_id, event_type, url, secret, payload, attempts, last_error, response_code, latency_ms)
        SELECT gen_random_uuid(), tenant_id, id, event_type, url, secret, payload, attempts, $2, $3, $4 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil {
		return err
	}
	return tx.Commit()
}

func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
