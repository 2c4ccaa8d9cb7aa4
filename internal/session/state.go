// Package session tracks one optimization attempt from payload preparation to the operator's verdict.
package session

import (
	"errors"
	"fmt"

	"routeopt/internal/optimizer"
)

type State string

const (
	StateIdle             State = "idle"
	StatePreparingPayload State = "preparing_payload"
	StateSubmitting       State = "submitting"
	StateSucceeded        State = "succeeded"
	StateReviewing        State = "reviewing"
	StateAccepted         State = "accepted"
	StateRejected         State = "rejected"
	StateFailed           State = "failed"
)

// Terminal states accept no further events.
func (s State) Terminal() bool { return s == StateAccepted || s == StateRejected }

type Event string

const (
	EventPrepare Event = "prepare"
	EventSubmit  Event = "submit"
	EventSucceed Event = "succeed"
	EventFail    Event = "fail"
	EventReview  Event = "review"
	EventAccept  Event = "accept"
	EventReject  Event = "reject"
	EventRetry   Event = "retry"
	EventReset   Event = "reset"
)

var ErrInvalidTransition = errors.New("invalid session transition")

// Transition is the only place session states change. kind is the failure kind for EventFail and the
// recorded failure kind of the session for EventRetry; other events ignore it.
func Transition(from State, ev Event, kind optimizer.Kind) (State, error) {
	switch {
	case from == StateIdle && ev == EventPrepare:
		return StatePreparingPayload, nil
	case from == StatePreparingPayload && ev == EventSubmit:
		return StateSubmitting, nil
	case from == StatePreparingPayload && ev == EventFail && kind == optimizer.KindPreconditionFailed:
		return StateFailed, nil
	case from == StateSubmitting && ev == EventSucceed:
		return StateSucceeded, nil
	case from == StateSubmitting && ev == EventFail && kind != "":
		return StateFailed, nil
	case from == StateSucceeded && ev == EventReview:
		return StateReviewing, nil
	case from == StateReviewing && ev == EventAccept:
		return StateAccepted, nil
	case from == StateReviewing && ev == EventReject:
		return StateRejected, nil
	case from == StateFailed && ev == EventRetry && optimizer.Retryable(kind):
		return StateSubmitting, nil
	case from == StateFailed && ev == EventReset:
		return StateIdle, nil
	}
	if kind != "" {
		return from, fmt.Errorf("%w: %s on %s(%s)", ErrInvalidTransition, ev, from, kind)
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
}
