package video

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/remoteview/reorder"
	"github.com/opd-ai/remoteview/seqnum"
	"github.com/opd-ai/remoteview/transport"
)

// UnitAssembler is a FrameAssembler without an erasure decoder: it
// re-sequences the source units of one frame at a time through a reorder
// queue and concatenates their payloads. Frames whose source units all
// arrive assemble successfully; frames that would need parity
// reconstruction are reported as FEC failures.
//
// Deployments with a real FEC engine substitute their own FrameAssembler;
// the Receiver only depends on the contract.
type UnitAssembler struct {
	queue      *reorder.Queue[*transport.VideoUnit]
	frameIndex seqnum.Num16
	unitsTotal uint16 // source units expected
	unitsFEC   uint16
	srcSeen    uint16
	fecSeen    uint16
	active     bool
	duplicates uint64
}

// NewUnitAssembler returns an assembler with no frame in progress.
func NewUnitAssembler() *UnitAssembler {
	return &UnitAssembler{}
}

// sizeExpFor returns the smallest capacity exponent spanning n slots.
func sizeExpFor(n uint32) uint {
	exp := uint(1)
	for uint32(1)<<exp < n {
		exp++
	}
	return exp
}

// AllocFrame starts assembly of the frame unit belongs to. A frame still
// in progress is abandoned; its units go through the queue's drop path so
// nothing leaks silently.
func (a *UnitAssembler) AllocFrame(unit *transport.VideoUnit) error {
	if unit == nil {
		return fmt.Errorf("alloc frame: nil unit")
	}
	if unit.UnitsInFrameTotal == 0 {
		return fmt.Errorf("alloc frame %d: %w", unit.FrameIndex, transport.ErrUnitEmptyFrame)
	}

	if a.active {
		logrus.WithFields(logrus.Fields{
			"function":    "UnitAssembler.AllocFrame",
			"frame_index": a.frameIndex,
			"src_seen":    a.srcSeen,
			"src_total":   a.unitsTotal,
		}).Debug("Abandoning unfinished frame")
		a.queue.Close()
	}

	total := uint32(unit.UnitsInFrameTotal) + uint32(unit.UnitsInFrameFEC)
	queue, err := reorder.New[*transport.VideoUnit](sizeExpFor(total), 0, reorder.Ops32())
	if err != nil {
		return fmt.Errorf("alloc frame %d: %w", unit.FrameIndex, err)
	}
	queue.SetDropCallback(func(seq uint64, _ *transport.VideoUnit) {
		a.duplicates++
		if logrus.IsLevelEnabled(logrus.TraceLevel) {
			logrus.WithFields(logrus.Fields{
				"function":    "UnitAssembler.dropUnit",
				"frame_index": a.frameIndex,
				"unit_index":  seq,
			}).Trace("Dropped duplicate or surplus unit")
		}
	})

	a.queue = queue
	a.frameIndex = unit.FrameIndex
	a.unitsTotal = unit.UnitsInFrameTotal
	a.unitsFEC = unit.UnitsInFrameFEC
	a.srcSeen = 0
	a.fecSeen = 0
	a.active = true
	return nil
}

// PutUnit stores one unit of the current frame.
func (a *UnitAssembler) PutUnit(unit *transport.VideoUnit) error {
	if !a.active {
		return ErrNoFrameActive
	}
	if unit.FrameIndex != a.frameIndex {
		return fmt.Errorf("put unit: frame %d does not match building frame %d",
			unit.FrameIndex, a.frameIndex)
	}

	_, _, occupied := a.queue.Peek(uint64(unit.UnitIndex))
	a.queue.Push(uint64(unit.UnitIndex), unit)
	if !occupied {
		// count only first arrivals; duplicates went to the drop callback
		if unit.UnitIndex < a.unitsTotal {
			a.srcSeen++
		} else {
			a.fecSeen++
		}
	}
	return nil
}

// FlushPossible reports whether every source unit of the current frame is
// present. This assembler cannot reconstruct from parity, so the
// positional last-unit marker alone never makes a frame flushable.
func (a *UnitAssembler) FlushPossible() bool {
	return a.active && a.srcSeen == a.unitsTotal
}

// Flush finalizes the current frame. With all source units present the
// payloads are concatenated in order; otherwise the frame is abandoned as
// FlushResultFECFailed when parity data existed (reconstruction would
// have been the FEC engine's job) or FlushResultFailed when it did not.
func (a *UnitAssembler) Flush() (FlushResult, []byte) {
	if !a.active {
		return FlushResultFailed, nil
	}
	defer func() {
		a.queue.Close()
		a.active = false
	}()

	if a.srcSeen != a.unitsTotal {
		if a.fecSeen > 0 || a.unitsFEC > 0 {
			return FlushResultFECFailed, nil
		}
		return FlushResultFailed, nil
	}

	size := 0
	for i := uint16(0); i < a.unitsTotal; i++ {
		_, unit, ok := a.queue.Peek(uint64(i))
		if !ok {
			// srcSeen said complete; a gap here is a bookkeeping bug
			logrus.WithFields(logrus.Fields{
				"function":    "UnitAssembler.Flush",
				"frame_index": a.frameIndex,
				"unit_index":  i,
			}).Error("Unit missing despite complete source count")
			return FlushResultFailed, nil
		}
		size += len(unit.Payload)
	}

	frame := make([]byte, 0, size)
	for i := uint16(0); i < a.unitsTotal; i++ {
		_, unit, ok := a.queue.Pull()
		if !ok {
			return FlushResultFailed, nil
		}
		frame = append(frame, unit.Payload...)
	}
	return FlushResultSuccess, frame
}

// ReportPacketStats pushes the current frame's unit delivery counters.
func (a *UnitAssembler) ReportPacketStats(stats *transport.PacketStats) {
	if stats == nil || !a.active {
		return
	}
	received := uint64(a.srcSeen) + uint64(a.fecSeen)
	var lost uint64
	if a.srcSeen < a.unitsTotal {
		lost = uint64(a.unitsTotal - a.srcSeen)
	}
	stats.PushGeneration(received, lost)
}

// Duplicates returns how many duplicate or surplus units were discarded
// since the assembler was created.
func (a *UnitAssembler) Duplicates() uint64 {
	return a.duplicates
}

// Close abandons any frame in progress and releases its units.
func (a *UnitAssembler) Close() {
	if a.active {
		a.queue.Close()
		a.active = false
	}
}
