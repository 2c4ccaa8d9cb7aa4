package optimizer

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure classes the dashboard branches on.
type Kind string

const (
	KindPreconditionFailed   Kind = "precondition_failed"
	KindServiceUnavailable   Kind = "service_unavailable"
	KindRateLimited          Kind = "rate_limited"
	KindBadRequest           Kind = "bad_request"
	KindNetworkError         Kind = "network_error"
	KindMalformedResponse    Kind = "malformed_response"
	KindDecisionRecordFailed Kind = "decision_record_failed"
)

// Error is a classified failure. Status is the upstream HTTP status when there was one.
type Error struct {
	Kind   Kind
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error with a formatted detail.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the classification of err, or "" if err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether an operator retry is defined for the kind.
func Retryable(k Kind) bool {
	return k == KindServiceUnavailable || k == KindRateLimited
}
