package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"routeopt/internal/decision"
	"routeopt/internal/events"
	"routeopt/internal/insights"
	"routeopt/internal/logging"
	"routeopt/internal/metrics"
	"routeopt/internal/model"
	"routeopt/internal/optimizer"
	"routeopt/internal/payload"
	"routeopt/internal/store"
)

// Optimizer is the part of the optimizer client a session drives.
type Optimizer interface {
	Available() bool
	MarkAvailable()
	Submit(ctx context.Context, req model.OptimizeRequest) (model.CandidateRoute, error)
}

// Decider records operator verdicts.
type Decider interface {
	Record(ctx context.Context, e decision.Entry) (model.Decision, error)
}

type Service struct {
	Sessions  Store
	Data      store.Store
	Builder   *payload.Builder
	Optimizer Optimizer
	Decisions Decider
	Events    events.Broker
	Log       *zap.Logger

	locks *keyedMutex
	now   func() time.Time
}

func NewService(sessions Store, data store.Store, b *payload.Builder, opt Optimizer, dec Decider, ev events.Broker, log *zap.Logger) *Service {
	return &Service{
		Sessions:  sessions,
		Data:      data,
		Builder:   b,
		Optimizer: opt,
		Decisions: dec,
		Events:    ev,
		Log:       logging.OrNop(log),
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

// StartRequest starts an optimization attempt. SessionID reuses an idle (reset) session.
type StartRequest struct {
	RouteID     string                         `json:"-"`
	SessionID   string                         `json:"sessionId,omitempty"`
	CampaignID  string                         `json:"campaignId,omitempty"`
	StartIndex  int                            `json:"start_index"`
	Preferences *model.OptimizationPreferences `json:"preferences,omitempty"`
}

// Start runs one attempt through payload preparation, submission and insights. While the optimizer is
// marked unavailable it fails with service_unavailable before creating a session or calling out.
// On failure after the session exists, the failed session is returned together with the error.
func (s *Service) Start(ctx context.Context, tenant string, req StartRequest) (*Session, error) {
	if !s.Optimizer.Available() {
		return nil, optimizer.Errorf(optimizer.KindServiceUnavailable, "optimizer is unavailable, retry after it recovers")
	}

	var sess *Session
	if req.SessionID != "" {
		unlock := s.locks.Lock(req.SessionID)
		defer unlock()
		existing, err := s.get(ctx, tenant, req.SessionID)
		if err != nil {
			return nil, err
		}
		if existing.State != StateIdle {
			return existing, fmt.Errorf("%w: session is %s, not idle", ErrInvalidTransition, existing.State)
		}
		if req.RouteID != "" && req.RouteID != existing.RouteID {
			return existing, fmt.Errorf("%w: session belongs to route %s, not %s", ErrInvalidTransition, existing.RouteID, req.RouteID)
		}
		sess = existing
		if req.RouteID == "" {
			req.RouteID = sess.RouteID
		}
	}

	route, err := s.Data.GetRoute(ctx, tenant, req.RouteID)
	if err != nil {
		return nil, fmt.Errorf("load route %s: %w", req.RouteID, err)
	}
	campaignID := req.CampaignID
	if campaignID == "" {
		campaignID = route.CampaignID
	}
	octx, err := s.loadContext(ctx, tenant, campaignID, route.ID)
	if err != nil {
		return nil, err
	}

	prefs := model.DefaultPreferences()
	if req.Preferences != nil {
		prefs = *req.Preferences
	}
	now := s.now().UTC()
	if sess == nil {
		sess = &Session{ID: uuid.New().String(), Tenant: tenant, State: StateIdle, CreatedAt: now}
		unlock := s.locks.Lock(sess.ID)
		defer unlock()
	}
	sess.RouteID = route.ID
	sess.CampaignID = campaignID
	sess.StartIndex = req.StartIndex
	sess.Preferences = prefs

	if err := s.apply(ctx, sess, EventPrepare, ""); err != nil {
		return sess, err
	}
	built, err := s.Builder.Build(ctx, payload.Input{
		Waypoints:   route.Waypoints,
		StartIndex:  req.StartIndex,
		Preferences: prefs,
		Context:     octx,
	})
	if err != nil {
		return sess, s.fail(ctx, sess, err)
	}
	sess.Payload = &built
	if err := s.apply(ctx, sess, EventSubmit, ""); err != nil {
		return sess, err
	}
	return sess, s.submit(ctx, sess)
}

// Retry resubmits the stored payload of a session that failed with a retryable kind.
func (s *Service) Retry(ctx context.Context, tenant, id string) (*Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	sess, err := s.get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if _, err := Transition(sess.State, EventRetry, sess.FailureKind); err != nil {
		return sess, err
	}
	if sess.Payload == nil {
		return sess, fmt.Errorf("%w: session has no payload to resubmit", ErrInvalidTransition)
	}
	s.Optimizer.MarkAvailable()
	if err := s.apply(ctx, sess, EventRetry, sess.FailureKind); err != nil {
		return sess, err
	}
	return sess, s.submit(ctx, sess)
}

// Reset returns a failed session to idle so it can be started again.
func (s *Service) Reset(ctx context.Context, tenant, id string) (*Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	sess, err := s.get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, sess, EventReset, ""); err != nil {
		return sess, err
	}
	return sess, nil
}

// Decide records the operator's verdict. On a recording failure the session stays in reviewing.
func (s *Service) Decide(ctx context.Context, tenant, id, action string) (*Session, error) {
	if !decision.ValidAction(action) {
		return nil, decision.ErrInvalidAction
	}
	unlock := s.locks.Lock(id)
	defer unlock()
	sess, err := s.get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	ev := EventAccept
	if action == model.ActionReject {
		ev = EventReject
	}
	if _, err := Transition(sess.State, ev, ""); err != nil {
		return sess, err
	}
	if sess.Candidate == nil {
		return sess, fmt.Errorf("%w: no candidate route to decide on", ErrInvalidTransition)
	}
	d, err := s.Decisions.Record(ctx, decision.Entry{
		Tenant:    tenant,
		SessionID: sess.ID,
		RouteID:   sess.RouteID,
		Action:    action,
		Route:     *sess.Candidate,
	})
	if err != nil {
		s.publish(sess, map[string]any{"decisionError": err.Error()})
		return sess, err
	}
	sess.Decision = &d
	if err := s.apply(ctx, sess, ev, ""); err != nil {
		return sess, err
	}
	return sess, nil
}

func (s *Service) Get(ctx context.Context, tenant, id string) (*Session, error) {
	return s.get(ctx, tenant, id)
}

// Snapshot returns the review snapshot of a session that reached review.
func (s *Service) Snapshot(ctx context.Context, tenant, id string) (Snapshot, error) {
	if _, err := s.get(ctx, tenant, id); err != nil {
		return Snapshot{}, err
	}
	return s.Sessions.GetSnapshot(ctx, id)
}

func (s *Service) submit(ctx context.Context, sess *Session) error {
	cand, err := s.Optimizer.Submit(ctx, *sess.Payload)
	if err != nil {
		return s.fail(ctx, sess, err)
	}
	sess.Candidate = &cand
	sess.FailureKind, sess.FailureDetail = "", ""
	if err := s.apply(ctx, sess, EventSucceed, ""); err != nil {
		return err
	}
	sess.Insights = insights.Build(sess.Payload, &cand)
	if err := s.apply(ctx, sess, EventReview, ""); err != nil {
		return err
	}
	if err := s.Sessions.PutSnapshot(ctx, sess.ID, newSnapshot(sess, s.now())); err != nil {
		s.Log.Warn("store snapshot", zap.String("session", sess.ID), zap.Error(err))
	}
	return nil
}

// fail moves the session to failed with the classified kind of err and returns err.
func (s *Service) fail(ctx context.Context, sess *Session, err error) error {
	kind := optimizer.KindOf(err)
	if kind == "" {
		if optimizer.IsCanceled(err) {
			kind = optimizer.KindNetworkError
		} else {
			return err
		}
	}
	sess.FailureKind = kind
	sess.FailureDetail = err.Error()
	if terr := s.apply(ctx, sess, EventFail, kind); terr != nil {
		return errors.Join(err, terr)
	}
	s.Log.Info("optimization attempt failed", zap.String("session", sess.ID), zap.String("kind", string(kind)), zap.Bool("retryable", optimizer.Retryable(kind)))
	return err
}

// apply runs one transition, persists the session and publishes the new state.
func (s *Service) apply(ctx context.Context, sess *Session, ev Event, kind optimizer.Kind) error {
	next, err := Transition(sess.State, ev, kind)
	if err != nil {
		return err
	}
	sess.State = next
	sess.UpdatedAt = s.now().UTC()
	switch next {
	case StateIdle:
		sess.Payload, sess.Candidate, sess.Insights = nil, nil, nil
		sess.FailureKind, sess.FailureDetail = "", ""
	case StateSubmitting:
		sess.FailureKind, sess.FailureDetail = "", ""
	}
	if err := s.Sessions.Put(ctx, sess); err != nil {
		return fmt.Errorf("persist session %s: %w", sess.ID, err)
	}
	metrics.SessionTransitions.WithLabelValues(string(next)).Inc()
	s.Log.Debug("session transition", zap.String("session", sess.ID), zap.String("event", string(ev)), zap.String("state", string(next)))
	s.publish(sess, nil)
	return nil
}

func (s *Service) publish(sess *Session, extra map[string]any) {
	if s.Events == nil {
		return
	}
	evt := sess.StateEvent()
	for k, v := range extra {
		evt.Data[k] = v
	}
	s.Events.Publish(sess.ID, evt)
}

func (s *Service) get(ctx context.Context, tenant, id string) (*Session, error) {
	sess, err := s.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Tenant != tenant {
		return nil, ErrNotFound
	}
	return sess, nil
}

// loadContext gathers the campaign snapshot sent with the request. Missing campaign data is tolerated.
func (s *Service) loadContext(ctx context.Context, tenant, campaignID, routeID string) (model.OptimizationContext, error) {
	var octx model.OptimizationContext
	if campaignID == "" {
		return octx, nil
	}
	c, err := s.Data.GetCampaign(ctx, tenant, campaignID)
	switch {
	case err == nil:
		octx.Campaign = &c
	case errors.Is(err, store.ErrNotFound):
		s.Log.Warn("campaign not found", zap.String("campaign", campaignID))
	default:
		return octx, fmt.Errorf("load campaign: %w", err)
	}
	if octx.CampaignZones, err = s.Data.ListCampaignZones(ctx, tenant, campaignID); err != nil {
		return octx, fmt.Errorf("load campaign zones: %w", err)
	}
	if octx.HotZones, err = s.Data.ListHotZones(ctx, tenant, campaignID); err != nil {
		return octx, fmt.Errorf("load hot zones: %w", err)
	}
	if octx.StrategicStops, err = s.Data.ListStrategicStops(ctx, tenant, campaignID); err != nil {
		return octx, fmt.Errorf("load strategic stops: %w", err)
	}
	routes, err := s.Data.ListCampaignRoutes(ctx, tenant, campaignID)
	if err != nil {
		return octx, fmt.Errorf("load campaign routes: %w", err)
	}
	for _, r := range routes {
		if r.ID == routeID {
			continue
		}
		octx.ExistingRoutes = append(octx.ExistingRoutes, model.ExistingRoute{ID: r.ID, Name: r.Name, Waypoints: r.Waypoints})
	}
	return octx, nil
}
