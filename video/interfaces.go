package video

import (
	"time"

	"github.com/opd-ai/remoteview/seqnum"
	"github.com/opd-ai/remoteview/transport"
)

// FlushResult is the outcome of asking a FrameAssembler to finalize the
// frame it is building.
type FlushResult int

const (
	// FlushResultSuccess means the frame assembled from source units alone.
	FlushResultSuccess FlushResult = iota
	// FlushResultFECSuccess means parity units were needed to reconstruct
	// the frame, but it is complete.
	FlushResultFECSuccess
	// FlushResultFECFailed means error correction ran and could not
	// reconstruct the frame. The frame is permanently lost.
	FlushResultFECFailed
	// FlushResultFailed means assembly failed before error correction was
	// applicable, e.g. source units missing and no parity available.
	FlushResultFailed
)

// String returns the result name for logging.
func (r FlushResult) String() string {
	switch r {
	case FlushResultSuccess:
		return "success"
	case FlushResultFECSuccess:
		return "fec_success"
	case FlushResultFECFailed:
		return "fec_failed"
	case FlushResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FrameAssembler collects the units of one frame at a time and finalizes
// them into frame bytes, applying error correction if it is capable of it.
// The Receiver drives it strictly in alloc, put-unit, flush order.
type FrameAssembler interface {
	// AllocFrame starts assembly of the frame the unit belongs to,
	// abandoning any frame still in progress.
	AllocFrame(unit *transport.VideoUnit) error

	// PutUnit stores one unit of the current frame.
	PutUnit(unit *transport.VideoUnit) error

	// FlushPossible reports whether enough units (source plus parity) are
	// present for Flush to have a chance of succeeding. The positional
	// last-unit marker alone is not sufficient.
	FlushPossible() bool

	// Flush finalizes the current frame and returns its bytes. Ownership
	// of the returned slice passes to the caller.
	Flush() (FlushResult, []byte)

	// ReportPacketStats pushes the unit delivery counters accumulated
	// since the last report into stats.
	ReportPacketStats(stats *transport.PacketStats)
}

// SliceType classifies a frame by its decode dependency.
type SliceType int

const (
	// SliceTypeUnknown means the inspector could not classify the frame.
	SliceTypeUnknown SliceType = iota
	// SliceTypeI is an independently decodable frame.
	SliceTypeI
	// SliceTypeP depends on a prior reference frame.
	SliceTypeP
)

// ReferenceNone marks a P slice that does not encode an explicit
// reference depth.
const ReferenceNone = 0xFF

// Slice describes the decode dependency of an assembled frame.
type Slice struct {
	Type SliceType
	// ReferenceFrame is the reference depth: the referenced frame is
	// ReferenceFrame+1 frames before this one. ReferenceNone if absent.
	ReferenceFrame uint8
}

// BitstreamInspector parses just enough of the compressed bitstream to
// drive reference-frame recovery. Implementations are codec-specific and
// live outside this core.
type BitstreamInspector interface {
	// ParseHeader consumes the out-of-band decoder configuration emitted
	// on profile switches.
	ParseHeader(header []byte) error

	// Slice extracts the dependency description of an assembled frame.
	Slice(frame []byte) (Slice, bool)

	// SetReferenceFrame rewrites the frame's reference depth in place.
	SetReferenceFrame(frame []byte, ref uint8) bool
}

// SampleConsumer receives decodable frames. framesLost counts frames lost
// since the last successful delivery and recovered marks frames whose
// reference was substituted. A false return tells the receiver the frame
// was not processed; it is then accounted like an assembly failure.
type SampleConsumer func(frame []byte, framesLost int, recovered bool) bool

// ConnectionNotifier carries reassembly failure reports to the connection
// layer, which owns retransmission and backoff policy. Calls are made
// inline on the receive path and must not block.
type ConnectionNotifier interface {
	ReportCorruptFrames(start, end seqnum.Num16)
	ReportFECFailure()
	ReportMissingReference()
}

// TimeProvider abstracts the monotonic clock so tests can inject time.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }
