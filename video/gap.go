package video

import (
	"time"

	"github.com/opd-ai/remoteview/seqnum"
)

// GapUpdateAction is the state transition taken by GapReport.Update.
type GapUpdateAction int

const (
	// GapUpdateNone means the update changed nothing.
	GapUpdateNone GapUpdateAction = iota
	// GapUpdateSetPending means a new pending range was started.
	GapUpdateSetPending
	// GapUpdateFlushPrevious means the previous range was returned for
	// emission and a new range replaced it.
	GapUpdateFlushPrevious
	// GapUpdateExtendPending means the pending range's end grew in place.
	GapUpdateExtendPending
)

// GapReport coalesces consecutive missing-frame-range detections into one
// outbound report instead of one per detection. At most one range is
// pending at a time; emission timing is the caller's policy (see
// ShouldEmit).
//
// The state is mutated only from the packet-receive call path and is not
// safe for concurrent access.
type GapReport struct {
	pending  bool
	start    seqnum.Num16
	end      seqnum.Num16
	deadline time.Time
}

// Update feeds one detected gap [expectedStart, gapEnd] into the state
// machine. When the returned action is GapUpdateFlushPrevious, the caller
// must emit the returned previous range before anything else.
func (g *GapReport) Update(expectedStart, gapEnd seqnum.Num16, now time.Time, hold time.Duration) (action GapUpdateAction, prevStart, prevEnd seqnum.Num16) {
	if !g.pending {
		g.pending = true
		g.start = expectedStart
		g.end = gapEnd
		g.deadline = now.Add(hold)
		return GapUpdateSetPending, 0, 0
	}

	if g.start != expectedStart {
		prevStart, prevEnd = g.start, g.end
		g.start = expectedStart
		g.end = gapEnd
		g.deadline = now.Add(hold)
		return GapUpdateFlushPrevious, prevStart, prevEnd
	}

	if gapEnd.Gt(g.end) {
		g.end = gapEnd
		return GapUpdateExtendPending, 0, 0
	}

	return GapUpdateNone, 0, 0
}

// Pending reports whether a range is waiting to be emitted.
func (g *GapReport) Pending() bool {
	return g.pending
}

// Range returns the pending range. Only meaningful while Pending.
func (g *GapReport) Range() (start, end seqnum.Num16) {
	return g.start, g.end
}

// Span returns the number of frames the pending range covers.
func (g *GapReport) Span() uint16 {
	return uint16(g.end-g.start) + 1
}

// ShouldEmit decides whether the pending range is due: immediately when
// forced, once the hold deadline passed, or once the range spans at least
// forceSpan frames. Holding small fresh gaps lets transient reordering
// resolve without a wire message; the force span bounds staleness for
// genuinely large loss.
func (g *GapReport) ShouldEmit(now time.Time, forceSpan uint16, force bool) bool {
	if !g.pending {
		return false
	}
	if force {
		return true
	}
	return !now.Before(g.deadline) || g.Span() >= forceSpan
}

// Clear discards the pending range after emission.
func (g *GapReport) Clear() {
	g.pending = false
}
