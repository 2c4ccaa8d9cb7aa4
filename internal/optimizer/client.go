// Package optimizer talks to the external route optimization service and classifies its failures.
package optimizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"routeopt/internal/logging"
	"routeopt/internal/metrics"
	"routeopt/internal/model"
)

const (
	pathHealth    = "/api/optimize/health"
	pathPenalties = "/api/optimize/penalties"
	pathRoute     = "/api/optimize/route"
	pathDecision  = "/api/optimize/decision"
	pathAudit     = "/api/optimize/audit"

	maxBody = 4 << 20
)

// State of the optimizer as last observed.
type State string

const (
	StateUnknown     State = "unknown"
	StateAvailable   State = "available"
	StateUnavailable State = "unavailable"
)

type Status struct {
	State     State     `json:"state"`
	CheckedAt time.Time `json:"checkedAt,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Client is safe for concurrent use. The availability flag is sticky: once a 5xx (or a production
// network failure) is seen it stays unavailable until a health check succeeds or MarkAvailable is called.
type Client struct {
	BaseURL    string
	HTTP       *http.Client
	Production bool
	Log        *zap.Logger

	mu        sync.RWMutex
	status    Status
	listeners []func(Status)
}

func NewClient(baseURL string, timeout time.Duration, production bool, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTP:       &http.Client{Timeout: timeout},
		Production: production,
		Log:        logging.OrNop(log),
		status:     Status{State: StateUnknown},
	}
}

// OnStatusChange registers fn to be called after every availability change.
func (c *Client) OnStatusChange(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Available is false only while the sticky unavailable flag is set.
func (c *Client) Available() bool { return c.Status().State != StateUnavailable }

// MarkAvailable clears the sticky flag ahead of an operator retry.
func (c *Client) MarkAvailable() { c.setState(StateAvailable, "") }

func (c *Client) setState(st State, detail string) {
	c.mu.Lock()
	changed := c.status.State != st
	c.status = Status{State: st, CheckedAt: time.Now().UTC(), Detail: detail}
	snap := c.status
	fns := append([]func(Status){}, c.listeners...)
	c.mu.Unlock()

	if st == StateUnavailable {
		metrics.OptimizerAvailable.Set(0)
	} else {
		metrics.OptimizerAvailable.Set(1)
	}
	if !changed {
		return
	}
	c.Log.Info("optimizer availability changed", zap.String("state", string(st)), zap.String("detail", detail))
	for _, fn := range fns {
		fn(snap)
	}
}

// CheckHealth probes GET /api/optimize/health. Anything but 200 means unavailable.
func (c *Client) CheckHealth(ctx context.Context) Status {
	status, _, err := c.do(ctx, http.MethodGet, pathHealth, nil)
	switch {
	case err != nil:
		c.observe("health", "network_error")
		c.setState(StateUnavailable, err.Error())
	case status != http.StatusOK:
		c.observe("health", "unavailable")
		c.setState(StateUnavailable, "health returned "+strconv.Itoa(status))
	default:
		c.observe("health", "ok")
		c.setState(StateAvailable, "")
	}
	return c.Status()
}

// Submit posts the optimization request and returns the candidate route or a classified *Error.
func (c *Client) Submit(ctx context.Context, req model.OptimizeRequest) (model.CandidateRoute, error) {
	var out model.CandidateRoute
	status, body, err := c.do(ctx, http.MethodPost, pathRoute, req)
	if err != nil {
		return out, c.networkFailure("route", err)
	}
	if cerr := classifyStatus(status, body); cerr != nil {
		if cerr.Kind == KindServiceUnavailable {
			c.setState(StateUnavailable, cerr.Error())
		}
		c.observe("route", string(cerr.Kind))
		return out, cerr
	}
	out, err = decodeCandidate(body)
	if err != nil {
		c.Log.Warn("optimizer returned unexpected payload", zap.Error(err), zap.Int("bytes", len(body)))
		c.observe("route", string(KindMalformedResponse))
		return model.CandidateRoute{}, err
	}
	c.observe("route", "ok")
	c.setState(StateAvailable, "")
	return out, nil
}

// Penalties asks the optimizer for a server-computed edge penalty matrix.
func (c *Client) Penalties(ctx context.Context, locations []model.Location, prefs model.OptimizationPreferences) ([][]float64, error) {
	prefs.EdgePenalties = nil
	status, body, err := c.do(ctx, http.MethodPost, pathPenalties, model.PenaltiesRequest{Locations: locations, Preferences: prefs})
	if err != nil {
		c.observe("penalties", string(KindNetworkError))
		return nil, &Error{Kind: KindNetworkError, Err: err}
	}
	if cerr := classifyStatus(status, body); cerr != nil {
		c.observe("penalties", string(cerr.Kind))
		return nil, cerr
	}
	var resp model.PenaltiesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.observe("penalties", string(KindMalformedResponse))
		return nil, &Error{Kind: KindMalformedResponse, Status: status, Err: err}
	}
	c.observe("penalties", "ok")
	return resp.EdgePenalties, nil
}

// RecordDecision forwards an accept/reject verdict. Any failure is reported as decision_record_failed.
func (c *Client) RecordDecision(ctx context.Context, action string, route model.CandidateRoute) (string, error) {
	status, body, err := c.do(ctx, http.MethodPost, pathDecision, model.DecisionRequest{Action: action, Route: route})
	if err != nil {
		c.observe("decision", string(KindDecisionRecordFailed))
		return "", &Error{Kind: KindDecisionRecordFailed, Err: err}
	}
	if status < 200 || status >= 300 {
		c.observe("decision", string(KindDecisionRecordFailed))
		return "", &Error{Kind: KindDecisionRecordFailed, Status: status, Detail: truncate(body)}
	}
	var resp model.DecisionResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			c.Log.Warn("decision reply not JSON", zap.Error(err))
		}
	}
	c.observe("decision", "ok")
	return resp.TraceID, nil
}

// Audit reads the optimizer's most recent audit entries.
func (c *Client) Audit(ctx context.Context, limit int) (model.AuditPage, error) {
	var page model.AuditPage
	status, body, err := c.do(ctx, http.MethodGet, pathAudit+"?limit="+strconv.Itoa(limit), nil)
	if err != nil {
		c.observe("audit", string(KindNetworkError))
		return page, &Error{Kind: KindNetworkError, Err: err}
	}
	if cerr := classifyStatus(status, body); cerr != nil {
		c.observe("audit", string(cerr.Kind))
		return page, cerr
	}
	if err := json.Unmarshal(body, &page); err != nil {
		c.observe("audit", string(KindMalformedResponse))
		return page, &Error{Kind: KindMalformedResponse, Status: status, Err: err}
	}
	if page.Entries == nil {
		page.Entries = []json.RawMessage{}
	}
	c.observe("audit", "ok")
	return page, nil
}

// networkFailure maps transport errors. In production they fail closed as service_unavailable.
func (c *Client) networkFailure(endpoint string, err error) error {
	if c.Production {
		c.Log.Warn("optimizer unreachable", zap.String("endpoint", endpoint), zap.Error(err))
		c.setState(StateUnavailable, "network failure")
		c.observe(endpoint, string(KindServiceUnavailable))
		return &Error{Kind: KindServiceUnavailable, Detail: "optimizer unreachable, try again later", Err: err}
	}
	c.Log.Warn("optimizer request failed", zap.String("endpoint", endpoint), zap.Bool("canceled", IsCanceled(err)), zap.Error(err))
	c.observe(endpoint, string(KindNetworkError))
	return &Error{Kind: KindNetworkError, Err: err}
}

func (c *Client) observe(endpoint, outcome string) {
	metrics.OptimizerCalls.WithLabelValues(endpoint, outcome).Inc()
}

func (c *Client) do(ctx context.Context, method, path string, in any) (int, []byte, error) {
	var rdr io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("encode %s: %w", path, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	endpoint := strings.TrimPrefix(strings.SplitN(path, "?", 2)[0], "/api/optimize/")
	start := time.Now()
	resp, err := c.HTTP.Do(req)
	metrics.OptimizerLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// classifyStatus returns nil for 2xx.
func classifyStatus(status int, body []byte) *Error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500:
		return &Error{Kind: KindServiceUnavailable, Status: status, Detail: truncate(body)}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Status: status, Detail: "optimizer is rate limiting requests"}
	default:
		return &Error{Kind: KindBadRequest, Status: status, Detail: string(body)}
	}
}

func decodeCandidate(body []byte) (model.CandidateRoute, error) {
	var out model.CandidateRoute
	var probe struct {
		Route json.RawMessage `json:"route"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return out, &Error{Kind: KindMalformedResponse, Status: http.StatusOK, Detail: "response is not a JSON object", Err: err}
	}
	if !isJSONArray(probe.Route) {
		return out, &Error{Kind: KindMalformedResponse, Status: http.StatusOK, Detail: "route is not an array"}
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return model.CandidateRoute{}, &Error{Kind: KindMalformedResponse, Status: http.StatusOK, Detail: "route has invalid entries", Err: err}
	}
	if out.Route == nil {
		out.Route = []model.RouteStop{}
	}
	return out, nil
}

func isJSONArray(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '['
}

func truncate(b []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// IsCanceled reports whether err stems from the caller abandoning the request.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
