// Package decision records operator verdicts on candidate routes and reads the audit trail.
package decision

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"routeopt/internal/logging"
	"routeopt/internal/metrics"
	"routeopt/internal/model"
	"routeopt/internal/optimizer"
	"routeopt/internal/store"
	"routeopt/internal/webhooks"
)

// Sink is the optimizer side of decision recording.
type Sink interface {
	RecordDecision(ctx context.Context, action string, route model.CandidateRoute) (string, error)
	Audit(ctx context.Context, limit int) (model.AuditPage, error)
}

// DefaultAuditLimit and MaxAuditLimit bound audit reads.
const (
	DefaultAuditLimit = 20
	MaxAuditLimit     = 200
)

var ErrInvalidAction = errors.New("action must be accept or reject")

type Recorder struct {
	Remote Sink
	Store  store.Store
	Pub    *webhooks.Publisher
	Log    *zap.Logger
	now    func() time.Time
}

func NewRecorder(remote Sink, st store.Store, pub *webhooks.Publisher, log *zap.Logger) *Recorder {
	return &Recorder{Remote: remote, Store: st, Pub: pub, Log: logging.OrNop(log), now: time.Now}
}

// Entry is one decision to record.
type Entry struct {
	Tenant    string
	SessionID string
	RouteID   string
	Action    string
	Route     model.CandidateRoute
}

// Record forwards the decision to the optimizer, then appends it locally and notifies subscribers.
// A failed forward returns decision_record_failed and nothing is stored.
func (r *Recorder) Record(ctx context.Context, e Entry) (model.Decision, error) {
	if !ValidAction(e.Action) {
		return model.Decision{}, ErrInvalidAction
	}
	traceID, err := r.Remote.RecordDecision(ctx, e.Action, e.Route)
	if err != nil {
		metrics.Decisions.WithLabelValues(e.Action, "failed").Inc()
		r.Log.Warn("decision not recorded", zap.String("session", e.SessionID), zap.String("action", e.Action), zap.Error(err))
		if optimizer.KindOf(err) != optimizer.KindDecisionRecordFailed {
			err = &optimizer.Error{Kind: optimizer.KindDecisionRecordFailed, Err: err}
		}
		return model.Decision{}, err
	}
	if traceID == "" {
		traceID = e.Route.TraceID
	}
	d := model.Decision{
		TenantID:   e.Tenant,
		SessionID:  e.SessionID,
		RouteID:    e.RouteID,
		Action:     e.Action,
		TraceID:    traceID,
		Route:      e.Route,
		RecordedAt: r.now().UTC(),
	}
	if r.Store != nil {
		saved, err := r.Store.AppendDecision(ctx, d)
		if err != nil {
			// The optimizer already holds the decision; the local copy is a convenience log.
			r.Log.Error("append decision", zap.String("session", e.SessionID), zap.Error(err))
		} else {
			d = saved
		}
	}
	if r.Pub != nil {
		r.Pub.Emit(ctx, e.Tenant, webhooks.EventDecisionRecorded, d)
	}
	metrics.Decisions.WithLabelValues(e.Action, "recorded").Inc()
	r.Log.Info("decision recorded", zap.String("session", e.SessionID), zap.String("action", e.Action), zap.String("trace_id", traceID))
	return d, nil
}

// Audit reads the optimizer's most recent audit entries.
func (r *Recorder) Audit(ctx context.Context, limit int) (model.AuditPage, error) {
	return r.Remote.Audit(ctx, ClampLimit(limit))
}

// History returns the local decision log for the tenant, newest first.
func (r *Recorder) History(ctx context.Context, tenant string, limit int) ([]model.Decision, error) {
	if r.Store == nil {
		return []model.Decision{}, nil
	}
	return r.Store.ListDecisions(ctx, tenant, ClampLimit(limit))
}

func ValidAction(a string) bool { return a == model.ActionAccept || a == model.ActionReject }

func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultAuditLimit
	}
	if limit > MaxAuditLimit {
		return MaxAuditLimit
	}
	return limit
}
