package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"routeopt/internal/model"
	"routeopt/internal/session"
	"routeopt/internal/webhooks"
)

var (
	timesOfDay = map[string]struct{}{
		model.TimeOfDayPeak: {}, model.TimeOfDayMidday: {}, model.TimeOfDayEvening: {}, model.TimeOfDayWeekend: {},
	}
	priorities = map[string]struct{}{
		model.PriorityImpressions: {}, model.PriorityEfficiency: {}, model.PriorityDuration: {}, model.PriorityCoverage: {},
	}
	knownEvents = map[string]struct{}{
		webhooks.EventDecisionRecorded: {}, "*": {},
	}
)

func validateStartRequest(req *session.StartRequest) error {
	if req.StartIndex < 0 {
		return fmt.Errorf("start_index must be >= 0")
	}
	if req.Preferences == nil {
		return nil
	}
	p := req.Preferences
	if p.MaxDurationMinutes < 0 {
		return fmt.Errorf("max_duration_minutes must be >= 0")
	}
	if _, ok := timesOfDay[p.TimeOfDay]; !ok {
		return fmt.Errorf("invalid time_of_day: %s (allowed: peak,midday,evening,weekend)", p.TimeOfDay)
	}
	if _, ok := priorities[p.Priority]; !ok {
		return fmt.Errorf("invalid priority: %s (allowed: impressions,efficiency,duration,coverage)", p.Priority)
	}
	return nil
}

func validateSubscription(req *model.SubscriptionRequest) error {
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("events must not be empty")
	}
	for _, e := range req.Events {
		if _, ok := knownEvents[e]; !ok {
			return fmt.Errorf("unknown event: %s", e)
		}
	}
	return nil
}

type point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type containsRequest struct {
	Points []point `json:"points"`
}

const maxContainsPoints = 1000

func validateContainsRequest(req *containsRequest) error {
	if len(req.Points) == 0 {
		return fmt.Errorf("points must not be empty")
	}
	if len(req.Points) > maxContainsPoints {
		return fmt.Errorf("at most %d points per request", maxContainsPoints)
	}
	for i, p := range req.Points {
		if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
			return fmt.Errorf("points[%d] is out of range", i)
		}
	}
	return nil
}

// parseLimit reads ?limit=. A missing value yields 0 so callers apply their default.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	return n, nil
}
