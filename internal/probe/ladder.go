/*
PURPOSE:
  The three-tier timeout ladder shared by every probe: overall, first byte, first event.

REQUIREMENTS:
  User-specified:
  - Each budget cancels with its own cause so the outcome names the budget that fired.

  Implementation-discovered:
  - A timer that fires after its milestone must not cancel; atomic flags guard that.

ARCHITECTURE INTEGRATION:
  - Called by: internal/probe (HTTPProbe, SDKProbe)

IMPLEMENTATION RULES:
  - Timer callbacks only cancel. They never block.
  - release() on every exit path.
*/

package probe

import (
	"context"
	"net/http/httptrace"
	"sync/atomic"
	"time"
)

// AbortReason is the cancellation cause set by one of the three budget timers.
type AbortReason struct {
	Tag string
}

func (r *AbortReason) Error() string {
	return "probe aborted: " + r.Tag
}

var (
	// ErrRequestTimeout is set when the overall budget is exhausted.
	ErrRequestTimeout = &AbortReason{Tag: "request_timeout"}
	// ErrFirstByteTimeout is set when no response headers arrived in time.
	ErrFirstByteTimeout = &AbortReason{Tag: "first_byte_timeout"}
	// ErrFirstEventTimeout is set when no SSE event was decoded in time.
	ErrFirstEventTimeout = &AbortReason{Tag: "first_event_timeout"}
)

// Budgets are the three time limits of one probe. A zero FirstByte or FirstEvent disables that
// rung of the ladder.
type Budgets struct {
	Request    time.Duration
	FirstByte  time.Duration
	FirstEvent time.Duration
}

// ladder races the three budgets against one cancellable context.
// Whichever timer fires first decides the cause; later cancels are no-ops.
type ladder struct {
	cancel     context.CancelCauseFunc
	overall    *time.Timer
	firstByte  *time.Timer
	firstEvent *time.Timer

	gotHeaders atomic.Bool
	gotEvent   atomic.Bool

	onHeaders func()
}

// armLadder derives the probe context and starts the timers. The first-event timer is only armed
// for streaming probes. onHeaders, if set, runs once when response headers are first observed.
func armLadder(parent context.Context, b Budgets, streaming bool, onHeaders func()) (context.Context, *ladder) {
	ctx, cancel := context.WithCancelCause(parent)
	l := &ladder{cancel: cancel, onHeaders: onHeaders}

	if b.Request > 0 {
		l.overall = time.AfterFunc(b.Request, func() { cancel(ErrRequestTimeout) })
	}
	if b.FirstByte > 0 {
		l.firstByte = time.AfterFunc(b.FirstByte, func() {
			if !l.gotHeaders.Load() {
				cancel(ErrFirstByteTimeout)
			}
		})
	}
	if streaming && b.FirstEvent > 0 {
		l.firstEvent = time.AfterFunc(b.FirstEvent, func() {
			if !l.gotEvent.Load() {
				cancel(ErrFirstEventTimeout)
			}
		})
	}

	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: l.headersArrived,
	}
	return httptrace.WithClientTrace(ctx, trace), l
}

// headersArrived disarms the first-byte timer. Safe to call repeatedly and concurrently.
func (l *ladder) headersArrived() {
	if !l.gotHeaders.CompareAndSwap(false, true) {
		return
	}
	stopTimer(l.firstByte)
	if l.onHeaders != nil {
		l.onHeaders()
	}
}

// eventArrived disarms the first-event timer.
func (l *ladder) eventArrived() {
	if l.gotEvent.CompareAndSwap(false, true) {
		stopTimer(l.firstEvent)
	}
}

// release stops every timer and cancels the context. Call on every exit path.
func (l *ladder) release() {
	stopTimer(l.overall)
	stopTimer(l.firstByte)
	stopTimer(l.firstEvent)
	l.cancel(context.Canceled)
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
