package video

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/remoteview/seqnum"
	"github.com/opd-ai/remoteview/transport"
)

// Gap report emission defaults, chosen so small transient reordering
// resolves locally while genuinely large gaps reach the wire promptly.
const (
	DefaultGapReportHold      = 12 * time.Millisecond
	DefaultGapReportForceSpan = 6
)

// ReceiverConfig wires the collaborators of a Receiver. Assembler,
// Bitstream and Notifier are required; the rest have working defaults.
type ReceiverConfig struct {
	// Assembler collects and finalizes the units of each frame.
	Assembler FrameAssembler

	// Bitstream inspects assembled frames for decode dependencies.
	Bitstream BitstreamInspector

	// Notifier receives failure reports for the connection layer.
	Notifier ConnectionNotifier

	// Consumer receives decodable frames. Optional; without it frames
	// are assembled and accounted but not delivered.
	Consumer SampleConsumer

	// PacketStats, when set, receives per-frame unit delivery counters.
	PacketStats *transport.PacketStats

	// Clock supplies monotonic time. Defaults to the system clock.
	Clock TimeProvider

	// GapReportHold is how long a detected gap is held for coalescing
	// before it is reported. Defaults to DefaultGapReportHold.
	GapReportHold time.Duration

	// GapReportForceSpan is the range width that forces immediate
	// reporting. Defaults to DefaultGapReportForceSpan.
	GapReportForceSpan uint16
}

// Receiver reconstructs the frame stream from incoming video units. It
// owns the per-frame lifecycle: none, building, flush pending, delivered
// or abandoned. One Receiver serves one stream; concurrent streams
// instantiate one Receiver each.
//
// All methods must be called from the single goroutine owning the
// network receive path.
type Receiver struct {
	assembler   FrameAssembler
	bitstream   BitstreamInspector
	notifier    ConnectionNotifier
	consumer    SampleConsumer
	packetStats *transport.PacketStats
	clock       TimeProvider

	gapHold      time.Duration
	gapForceSpan uint16

	profiles   []Profile
	profileCur int

	// frame indices are the 16-bit wraparound space widened so -1 can
	// mean "none yet"
	frameIndexCur          int32
	frameIndexPrev         int32
	frameIndexPrevComplete int32

	framesLost int
	refs       *ReferenceWindow

	gap              GapReport
	lastCorruptStart seqnum.Num16
	lastCorruptEnd   seqnum.Num16
	corruptReported  bool

	frameFirstUnitAt time.Time
	seenLastUnit     bool

	stage stageStats
}

// NewReceiver creates a frame receiver from cfg.
func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	if cfg.Assembler == nil {
		return nil, errors.New("receiver requires a frame assembler")
	}
	if cfg.Bitstream == nil {
		return nil, errors.New("receiver requires a bitstream inspector")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("receiver requires a connection notifier")
	}
	if cfg.Clock == nil {
		cfg.Clock = DefaultTimeProvider{}
	}
	if cfg.GapReportHold <= 0 {
		cfg.GapReportHold = DefaultGapReportHold
	}
	if cfg.GapReportForceSpan == 0 {
		cfg.GapReportForceSpan = DefaultGapReportForceSpan
	}

	r := &Receiver{
		assembler:              cfg.Assembler,
		bitstream:              cfg.Bitstream,
		notifier:               cfg.Notifier,
		consumer:               cfg.Consumer,
		packetStats:            cfg.PacketStats,
		clock:                  cfg.Clock,
		gapHold:                cfg.GapReportHold,
		gapForceSpan:           cfg.GapReportForceSpan,
		profileCur:             -1,
		frameIndexCur:          -1,
		frameIndexPrev:         -1,
		frameIndexPrevComplete: 0,
		refs:                   NewReferenceWindow(),
	}

	logrus.WithFields(logrus.Fields{
		"function":       "NewReceiver",
		"gap_hold":       r.gapHold,
		"gap_force_span": r.gapForceSpan,
	}).Info("Created video receiver")

	return r, nil
}

// SetProfiles announces the adaptive quality tiers of the stream. It may
// be called once, before or after units start arriving.
func (r *Receiver) SetProfiles(profiles []Profile) error {
	if len(r.profiles) > 0 {
		return ErrProfilesAlreadySet
	}
	if len(profiles) == 0 {
		return ErrNoProfiles
	}

	r.profiles = make([]Profile, len(profiles))
	copy(r.profiles, profiles)

	for i, profile := range r.profiles {
		logrus.WithFields(logrus.Fields{
			"function":    "Receiver.SetProfiles",
			"profile":     i,
			"width":       profile.Width,
			"height":      profile.Height,
			"header_size": len(profile.Header),
		}).Info("Video profile announced")
	}
	return nil
}

// FramesLost returns the number of frames lost since the last successful
// delivery.
func (r *Receiver) FramesLost() int {
	return r.framesLost
}

// CurrentFrameIndex returns the index of the frame being built, or -1.
func (r *Receiver) CurrentFrameIndex() int32 {
	return r.frameIndexCur
}

// HandleUnit processes one incoming video unit. Stale and duplicate
// input is absorbed silently; an error reports caller-visible misuse
// such as a unit naming an unannounced stream profile.
func (r *Receiver) HandleUnit(u *transport.VideoUnit) error {
	now := r.clock.Now()
	r.emitGapReport(now, false)

	frameIndex := u.FrameIndex

	// old frame?
	if r.frameIndexCur >= 0 && frameIndex.Lt(seqnum.Num16(r.frameIndexCur)) {
		logrus.WithFields(logrus.Fields{
			"function":    "Receiver.HandleUnit",
			"frame_index": frameIndex,
			"frame_cur":   r.frameIndexCur,
		}).Warn("Received unit for old frame")
		return nil
	}

	// adaptive stream profile switch
	if r.profileCur < 0 || r.profileCur != int(u.AdaptiveStreamIndex) {
		if err := r.switchProfile(u.AdaptiveStreamIndex); err != nil {
			return err
		}
	}

	// next frame?
	if r.frameIndexCur < 0 || frameIndex.Gt(seqnum.Num16(r.frameIndexCur)) {
		if err := r.beginFrame(frameIndex, u, now); err != nil {
			return err
		}
	}

	if err := r.assembler.PutUnit(u); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Receiver.HandleUnit",
			"frame_index": frameIndex,
			"unit_index":  u.UnitIndex,
			"error":       err.Error(),
		}).Warn("Assembler rejected unit")
	}
	if u.IsLastSourceUnit() {
		r.seenLastUnit = true
	}

	// if we are currently building up a frame, flush only when enough
	// units are present; the positional last-unit marker alone would
	// finalize before usable error-correction data arrived
	if r.frameIndexCur != r.frameIndexPrev {
		if r.assembler.FlushPossible() {
			_ = r.flushFrame()
		} else if r.seenLastUnit && logrus.IsLevelEnabled(logrus.TraceLevel) {
			logrus.WithFields(logrus.Fields{
				"function":    "Receiver.HandleUnit",
				"frame_index": frameIndex,
			}).Trace("Last unit marker seen, waiting for remaining units")
		}
	}
	return nil
}

// switchProfile activates the announced profile and emits its decoder
// configuration as an out-of-band zero-loss sample.
func (r *Receiver) switchProfile(index uint8) error {
	if int(index) >= len(r.profiles) {
		logrus.WithFields(logrus.Fields{
			"function":     "Receiver.switchProfile",
			"stream_index": index,
			"profiles":     len(r.profiles),
		}).Error("Unit has invalid adaptive stream index")
		return fmt.Errorf("%w: %d of %d profiles", ErrInvalidStreamIndex, index, len(r.profiles))
	}

	r.profileCur = int(index)
	profile := r.profiles[r.profileCur]
	logrus.WithFields(logrus.Fields{
		"function": "Receiver.switchProfile",
		"profile":  r.profileCur,
		"width":    profile.Width,
		"height":   profile.Height,
	}).Info("Switched adaptive stream profile")

	if r.consumer != nil {
		r.consumer(profile.Header, 0, false)
	}
	if err := r.bitstream.ParseHeader(profile.Header); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.switchProfile",
			"profile":  r.profileCur,
			"error":    err.Error(),
		}).Error("Failed to parse video header")
	}
	return nil
}

// beginFrame closes out the previous frame and starts assembly of the
// frame at frameIndex.
func (r *Receiver) beginFrame(frameIndex seqnum.Num16, u *transport.VideoUnit, now time.Time) error {
	// last frame never finalized? force-flush it rather than lose it silently
	if r.frameIndexCur >= 0 && r.frameIndexPrev != r.frameIndexCur {
		_ = r.flushFrame()
	}

	expected := seqnum.Num16(r.frameIndexPrevComplete).Add(1)
	bootstrap := frameIndex == 1 && r.frameIndexCur < 0
	if frameIndex.Gt(expected) && !bootstrap {
		gapEnd := frameIndex.Sub(1)
		action, prevStart, prevEnd := r.gap.Update(expected, gapEnd, now, r.gapHold)
		if action == GapUpdateFlushPrevious {
			r.reportCorruptRange(prevStart, prevEnd, "superseded")
		}
		// a gap that is quickly refilled never reaches the wire
		r.emitGapReport(now, false)
	}

	r.frameIndexCur = int32(frameIndex)
	r.seenLastUnit = false
	r.frameFirstUnitAt = now
	if err := r.assembler.AllocFrame(u); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Receiver.beginFrame",
			"frame_index": frameIndex,
			"error":       err.Error(),
		}).Error("Failed to begin frame assembly")
		return fmt.Errorf("begin frame %d: %w", frameIndex, err)
	}
	return nil
}

// emitGapReport reports the pending gap range once its hold policy says
// it is due.
func (r *Receiver) emitGapReport(now time.Time, force bool) {
	if !r.gap.ShouldEmit(now, r.gapForceSpan, force) {
		return
	}
	start, end := r.gap.Range()
	reason := "held"
	if force {
		reason = "forced"
	}
	r.reportCorruptRange(start, end, reason)
	r.gap.Clear()
}

// reportCorruptRange notifies the connection layer about the missing or
// corrupt frame range [start, end], suppressing repeats of a range that
// was already reported.
func (r *Receiver) reportCorruptRange(start, end seqnum.Num16, reason string) {
	if r.corruptReported && r.lastCorruptStart == start && r.lastCorruptEnd.Ge(end) {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Receiver.reportCorruptRange",
		"start":    start,
		"end":      end,
		"reason":   reason,
	}).Warn("Detected missing or corrupt frames")

	r.notifier.ReportCorruptFrames(start, end)
	r.lastCorruptStart = start
	r.lastCorruptEnd = end
	r.corruptReported = true
}

// flushFrame asks the assembler to finalize the current frame, performs
// reference dependency recovery and hands the frame to the consumer.
func (r *Receiver) flushFrame() error {
	flushStart := r.clock.Now()
	var assemble time.Duration
	if !r.frameFirstUnitAt.IsZero() && flushStart.After(r.frameFirstUnitAt) {
		assemble = flushStart.Sub(r.frameFirstUnitAt)
	}

	if r.packetStats != nil {
		r.assembler.ReportPacketStats(r.packetStats)
	}

	result, frame := r.assembler.Flush()
	if result == FlushResultFailed || result == FlushResultFECFailed {
		r.stage.addDrop()
		if result == FlushResultFECFailed {
			r.notifier.ReportFECFailure()
			expected := seqnum.Num16(r.frameIndexPrevComplete).Add(1)
			cur := seqnum.Num16(r.frameIndexCur)
			r.reportCorruptRange(expected, cur, "fec_failed")
			r.framesLost += int(uint16(cur-expected)) + 1
			r.frameIndexPrev = r.frameIndexCur
		}
		logrus.WithFields(logrus.Fields{
			"function":    "Receiver.flushFrame",
			"frame_index": r.frameIndexCur,
			"result":      result.String(),
		}).Warn("Failed to complete frame")
		return fmt.Errorf("%w: frame %d (%s)", ErrFlushFailed, r.frameIndexCur, result)
	}

	succ := true
	recovered := false

	if slice, ok := r.bitstream.Slice(frame); ok && slice.Type == SliceTypeP && slice.ReferenceFrame != ReferenceNone {
		succ, recovered = r.recoverReference(frame, slice)
	}

	if succ && r.consumer != nil {
		submitStart := r.clock.Now()
		accepted := r.consumer(frame, r.framesLost, recovered)
		submitEnd := r.clock.Now()
		r.framesLost = 0
		if !accepted {
			succ = false
			logrus.WithFields(logrus.Fields{
				"function":    "Receiver.flushFrame",
				"frame_index": r.frameIndexCur,
			}).Warn("Sample consumer did not accept frame")
		}
		if submitEnd.After(submitStart) {
			r.stage.addSubmit(submitEnd.Sub(submitStart))
		}
	}

	r.frameIndexPrev = r.frameIndexCur
	r.frameFirstUnitAt = time.Time{}
	r.seenLastUnit = false

	if succ {
		r.refs.Add(r.frameIndexCur)
		r.frameIndexPrevComplete = r.frameIndexCur
		r.stage.addFrame(assemble)
		if logrus.IsLevelEnabled(logrus.TraceLevel) {
			logrus.WithFields(logrus.Fields{
				"function":    "Receiver.flushFrame",
				"frame_index": r.frameIndexCur,
				"recovered":   recovered,
			}).Trace("Registered reference frame")
		}
	}

	r.stage.roll(r.clock.Now())
	return nil
}

// recoverReference checks a dependent frame's reference against the
// window and attempts exactly one substitution: the nearest available
// ancestor beyond the requested depth. Without a substitute the frame is
// undeliverable.
func (r *Receiver) recoverReference(frame []byte, slice Slice) (succ, recovered bool) {
	cur := seqnum.Num16(r.frameIndexCur)
	refIndex := cur.Sub(uint16(slice.ReferenceFrame) + 1)
	if r.refs.Contains(int32(refIndex)) {
		return true, false
	}

	for depth := uint16(slice.ReferenceFrame) + 1; depth < ReferenceWindowSize; depth++ {
		candidate := cur.Sub(depth + 1)
		if !r.refs.Contains(int32(candidate)) {
			continue
		}
		if r.bitstream.SetReferenceFrame(frame, uint8(depth)) {
			logrus.WithFields(logrus.Fields{
				"function":    "Receiver.recoverReference",
				"frame_index": cur,
				"missing_ref": refIndex,
				"new_ref":     candidate,
			}).Warn("Missing reference frame, substituted nearest ancestor")
			return true, true
		}
		break
	}

	r.framesLost++
	r.notifier.ReportMissingReference()
	logrus.WithFields(logrus.Fields{
		"function":    "Receiver.recoverReference",
		"frame_index": cur,
		"missing_ref": refIndex,
	}).Warn("Missing reference frame, no substitute available")
	return false, false
}
