package store

import (
	"context"
	"errors"
	"time"

	"routeopt/internal/model"
)

// Store is the persistence interface used by the API server and the decision recorder.
type Store interface {
	// Campaign read side
	GetRoute(ctx context.Context, tenantID, routeID string) (model.Route, error)
	ListCampaignRoutes(ctx context.Context, tenantID, campaignID string) ([]model.Route, error)
	GetCampaign(ctx context.Context, tenantID, campaignID string) (model.CampaignContext, error)
	ListCampaignZones(ctx context.Context, tenantID, campaignID string) ([]model.CampaignZone, error)
	ListHotZones(ctx context.Context, tenantID, campaignID string) ([]model.HotZone, error)
	ListStrategicStops(ctx context.Context, tenantID, campaignID string) ([]model.StrategicStop, error)

	// Decisions (append-only)
	AppendDecision(ctx context.Context, d model.Decision) (model.Decision, error)
	ListDecisions(ctx context.Context, tenantID string, limit int) ([]model.Decision, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID string) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

// Pinger is implemented by stores backed by a remote database.
type Pinger interface {
	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

// MaxDecisionPage bounds ListDecisions.
const MaxDecisionPage = 200

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > MaxDecisionPage {
		return MaxDecisionPage
	}
	return limit
}
