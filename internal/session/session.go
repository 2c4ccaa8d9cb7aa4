package session

import (
	"time"

	"routeopt/internal/events"
	"routeopt/internal/model"
	"routeopt/internal/optimizer"
)

// Session is one optimization attempt for a route.
type Session struct {
	ID            string                        `json:"id"`
	Tenant        string                        `json:"tenantId"`
	RouteID       string                        `json:"routeId"`
	CampaignID    string                        `json:"campaignId,omitempty"`
	State         State                         `json:"state"`
	FailureKind   optimizer.Kind                `json:"failureKind,omitempty"`
	FailureDetail string                        `json:"failureDetail,omitempty"`
	StartIndex    int                           `json:"startIndex"`
	Preferences   model.OptimizationPreferences `json:"preferences"`
	Payload       *model.OptimizeRequest        `json:"payload,omitempty"`
	Candidate     *model.CandidateRoute         `json:"candidate,omitempty"`
	Insights      *model.Insights               `json:"insights,omitempty"`
	Decision      *model.Decision               `json:"decision,omitempty"`
	CreatedAt     time.Time                     `json:"createdAt"`
	UpdatedAt     time.Time                     `json:"updatedAt"`
}

// Retryable reports whether an operator retry is defined from the current state.
func (s *Session) Retryable() bool {
	_, err := Transition(s.State, EventRetry, s.FailureKind)
	return err == nil
}

// StateEvent is the session.state notification for the session's current state.
func (s *Session) StateEvent() events.Event {
	data := map[string]any{
		"sessionId": s.ID,
		"routeId":   s.RouteID,
		"state":     string(s.State),
		"retryable": s.Retryable(),
	}
	if s.FailureKind != "" {
		data["failureKind"] = string(s.FailureKind)
		data["failureDetail"] = s.FailureDetail
	}
	return events.Event{Type: events.TypeSessionState, Data: data}
}

// SnapshotVersion is bumped whenever the snapshot layout changes.
const SnapshotVersion = 1

// Snapshot is the minimal review state kept for cross-page continuity. It expires with the session.
type Snapshot struct {
	Version     int                        `json:"version"`
	GeneratedAt time.Time                  `json:"generatedAt"`
	Route       *model.CandidateRoute      `json:"route"`
	Insights    *model.Insights            `json:"insights"`
	Context     *model.OptimizationContext `json:"context"`
}

func newSnapshot(s *Session, now time.Time) Snapshot {
	snap := Snapshot{Version: SnapshotVersion, GeneratedAt: now.UTC(), Route: s.Candidate, Insights: s.Insights}
	if s.Payload != nil {
		c := s.Payload.Context
		snap.Context = &c
	}
	return snap
}
