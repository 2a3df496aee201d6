/*
PURPOSE:
  Stopwatch for one probe: start, first byte, first event, stop.

REQUIREMENTS:
  User-specified:
  - Marks take effect once. A snapshot is frozen.

  Implementation-discovered:
  - Marks arrive from httptrace callbacks on transport goroutines.
*/

// Package timing provides the per-probe stopwatch.
package timing

import (
	"sync"
	"time"

	"github.com/daryltucker/stream-probe/internal/model"
)

// Timer records start, time-to-first-byte, time-to-first-event and stop.
// Marks may arrive from transport goroutines, so all methods are safe for concurrent use.
type Timer struct {
	mu         sync.Mutex
	now        func() time.Time
	start      time.Time
	end        time.Time
	ttfb       *time.Duration
	firstEvent *time.Duration
	stopped    bool
}

// Start returns a running Timer.
func Start() *Timer {
	return StartWithClock(time.Now)
}

// StartWithClock returns a running Timer that reads time from now.
func StartWithClock(now func() time.Time) *Timer {
	return &Timer{now: now, start: now()}
}

// MarkTTFB records time-to-first-byte. Only the first call takes effect.
func (t *Timer) MarkTTFB() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markTTFBLocked(t.now())
}

func (t *Timer) markTTFBLocked(at time.Time) {
	if t.stopped || t.ttfb != nil {
		return
	}
	d := at.Sub(t.start)
	t.ttfb = &d
}

// MarkFirstEvent records time-to-first-event. Only the first call takes effect.
// If TTFB was never marked it is marked at the same instant, so ttfb <= firstEvent holds.
func (t *Timer) MarkFirstEvent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.firstEvent != nil {
		return
	}
	at := t.now()
	t.markTTFBLocked(at)
	d := at.Sub(t.start)
	t.firstEvent = &d
}

// Stop fixes the end time. Calls after the first are no-ops.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	if t.stopped {
		return
	}
	t.end = t.now()
	t.stopped = true
}

// Snapshot returns the frozen timings. Taking a snapshot stops the timer,
// so repeated snapshots are identical.
func (t *Timer) Snapshot() model.ProbeTimings {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()

	total := t.end.Sub(t.start)
	if total < 0 {
		total = 0
	}
	timings := model.ProbeTimings{
		StartMs: t.start.UnixMilli(),
		EndMs:   t.start.UnixMilli() + total.Milliseconds(),
		TotalMs: total.Milliseconds(),
	}
	if t.ttfb != nil {
		ms := clamp(*t.ttfb, total).Milliseconds()
		timings.TTFBMs = &ms
	}
	if t.firstEvent != nil {
		ms := clamp(*t.firstEvent, total).Milliseconds()
		timings.FirstEventMs = &ms
	}
	return timings
}

func clamp(d, max time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > max {
		return max
	}
	return d
}
