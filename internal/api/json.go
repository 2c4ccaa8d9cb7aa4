package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"routeopt/internal/decision"
	"routeopt/internal/optimizer"
	"routeopt/internal/session"
	"routeopt/internal/store"
)

// Problem represents an RFC7807 problem details response body.
// Kind, Retryable and SessionID are extension members for classified optimizer failures.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Retryable *bool  `json:"retryable,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeProblemBody(w, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

func writeProblemBody(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

var kindStatus = map[optimizer.Kind]int{
	optimizer.KindPreconditionFailed:   http.StatusUnprocessableEntity,
	optimizer.KindServiceUnavailable:   http.StatusServiceUnavailable,
	optimizer.KindRateLimited:          http.StatusTooManyRequests,
	optimizer.KindBadRequest:           http.StatusBadGateway,
	optimizer.KindNetworkError:         http.StatusGatewayTimeout,
	optimizer.KindMalformedResponse:    http.StatusBadGateway,
	optimizer.KindDecisionRecordFailed: http.StatusBadGateway,
}

var kindTitle = map[optimizer.Kind]string{
	optimizer.KindPreconditionFailed:   "Route Not Ready For Optimization",
	optimizer.KindServiceUnavailable:   "Optimizer Unavailable",
	optimizer.KindRateLimited:          "Optimizer Rate Limited",
	optimizer.KindBadRequest:           "Optimizer Rejected Request",
	optimizer.KindNetworkError:         "Optimizer Unreachable",
	optimizer.KindMalformedResponse:    "Optimizer Returned Malformed Response",
	optimizer.KindDecisionRecordFailed: "Decision Not Recorded",
}

// writeError maps domain errors to problem responses. sessionID is echoed when the failure belongs to a session.
func writeError(w http.ResponseWriter, r *http.Request, err error, sessionID string) {
	if kind := optimizer.KindOf(err); kind != "" {
		status, ok := kindStatus[kind]
		if !ok {
			status = http.StatusBadGateway
		}
		retryable := optimizer.Retryable(kind)
		writeProblemBody(w, Problem{
			Type:      "urn:routeopt:" + string(kind),
			Title:     kindTitle[kind],
			Status:    status,
			Detail:    err.Error(),
			Instance:  r.URL.Path,
			Kind:      string(kind),
			Retryable: &retryable,
			SessionID: sessionID,
		})
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, session.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
	case errors.Is(err, session.ErrNoSnapshot):
		writeProblem(w, http.StatusNotFound, "No Snapshot", "session has not reached review", r.URL.Path)
	case errors.Is(err, session.ErrInvalidTransition):
		writeProblemBody(w, Problem{
			Type:      "about:blank",
			Title:     "Conflict",
			Status:    http.StatusConflict,
			Detail:    err.Error(),
			Instance:  r.URL.Path,
			SessionID: sessionID,
		})
	case errors.Is(err, decision.ErrInvalidAction):
		writeProblem(w, http.StatusBadRequest, "Invalid action", err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), r.URL.Path)
	}
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
