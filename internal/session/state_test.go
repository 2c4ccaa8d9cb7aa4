package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"routeopt/internal/optimizer"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
		kind optimizer.Kind
		want State
		ok   bool
	}{
		{StateIdle, EventPrepare, "", StatePreparingPayload, true},
		{StatePreparingPayload, EventSubmit, "", StateSubmitting, true},
		{StatePreparingPayload, EventFail, optimizer.KindPreconditionFailed, StateFailed, true},
		{StatePreparingPayload, EventFail, optimizer.KindBadRequest, StatePreparingPayload, false},
		{StateSubmitting, EventSucceed, "", StateSucceeded, true},
		{StateSubmitting, EventFail, optimizer.KindMalformedResponse, StateFailed, true},
		{StateSubmitting, EventFail, "", StateSubmitting, false},
		{StateSucceeded, EventReview, "", StateReviewing, true},
		{StateReviewing, EventAccept, "", StateAccepted, true},
		{StateReviewing, EventReject, "", StateRejected, true},
		{StateFailed, EventRetry, optimizer.KindServiceUnavailable, StateSubmitting, true},
		{StateFailed, EventRetry, optimizer.KindRateLimited, StateSubmitting, true},
		{StateFailed, EventRetry, optimizer.KindMalformedResponse, StateFailed, false},
		{StateFailed, EventRetry, optimizer.KindNetworkError, StateFailed, false},
		{StateFailed, EventRetry, optimizer.KindPreconditionFailed, StateFailed, false},
		{StateFailed, EventReset, "", StateIdle, true},
		{StateIdle, EventSubmit, "", StateIdle, false},
		{StateSucceeded, EventAccept, "", StateSucceeded, false},
		{StateAccepted, EventReset, "", StateAccepted, false},
		{StateRejected, EventAccept, "", StateRejected, false},
	}
	for _, c := range cases {
		got, err := Transition(c.from, c.ev, c.kind)
		if c.ok {
			require.NoError(t, err, "%s --%s-->", c.from, c.ev)
		} else {
			require.ErrorIs(t, err, ErrInvalidTransition, "%s --%s(%s)-->", c.from, c.ev, c.kind)
		}
		require.Equal(t, c.want, got, "%s --%s-->", c.from, c.ev)
	}
}

func TestTerminal(t *testing.T) {
	require.True(t, StateAccepted.Terminal())
	require.True(t, StateRejected.Terminal())
	require.False(t, StateFailed.Terminal())
}
