package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"routeopt/internal/store"
)

// EventDecisionRecorded is emitted after an operator decision is persisted.
const EventDecisionRecorded = "route.decision.recorded"

type Publisher struct {
	Store store.Store
	Log   *zap.Logger
	now   func() time.Time
}

func NewPublisher(s store.Store, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{Store: s, Log: log, now: time.Now}
}

// Envelope is the JSON body delivered to subscribers.
type Envelope struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
	TS       string `json:"ts"`
	Data     any    `json:"data"`
}

// Emit enqueues an event for all subscriptions of the tenant and event type. It returns the number of
// deliveries enqueued; failures are logged and never reach the caller's flow.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) int {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
	if err != nil {
		p.Log.Warn("webhook subscriptions lookup", zap.String("tenant", tenantID), zap.String("event", eventType), zap.Error(err))
		return 0
	}
	if len(subs) == 0 {
		return 0
	}
	body, err := json.Marshal(Envelope{
		ID:       "evt_" + uuid.New().String(),
		Type:     eventType,
		TenantID: tenantID,
		TS:       p.now().UTC().Format(time.RFC3339),
		Data:     data,
	})
	if err != nil {
		p.Log.Error("webhook payload", zap.String("event", eventType), zap.Error(err))
		return 0
	}
	n := 0
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, tenantID, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			p.Log.Warn("webhook enqueue", zap.String("subscription", s.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n
}
