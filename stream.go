package remoteview

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/remoteview/seqnum"
	"github.com/opd-ai/remoteview/transport"
	"github.com/opd-ai/remoteview/video"
)

// ErrStreamClosed indicates input arriving after Close.
var ErrStreamClosed = errors.New("stream is closed")

// StreamConfig configures one video stream session.
type StreamConfig struct {
	// Profiles are the adaptive quality tiers announced by the sender.
	Profiles []video.Profile

	// Consumer receives decodable frames and profile headers.
	Consumer video.SampleConsumer

	// Bitstream inspects assembled frames for reference recovery. When
	// nil, frames are delivered without dependency checking.
	Bitstream video.BitstreamInspector

	// Assembler overrides the frame assembler, typically to plug in an
	// erasure decoder. Defaults to the concatenating unit assembler.
	Assembler video.FrameAssembler

	// SendFeedback transmits RTCP feedback to the sender. When nil, loss
	// reports are logged and discarded.
	SendFeedback transport.SendFunc

	// SenderSSRC and MediaSSRC identify the RTCP feedback endpoints.
	SenderSSRC uint32
	MediaSSRC  uint32

	// Clock overrides the monotonic clock, mainly for tests.
	Clock video.TimeProvider

	// GapReportHold and GapReportForceSpan tune gap report coalescing.
	// Zero values select the receiver defaults.
	GapReportHold      time.Duration
	GapReportForceSpan uint16
}

// Stream is one remote screen session: the glue between the RTP socket
// owned by the caller and the frame reassembly core. Packets go in via
// HandleRTP, frames come out through the configured consumer and loss
// reports leave through the feedback sender.
//
// A Stream is driven from the single goroutine reading the socket.
type Stream struct {
	id       uuid.UUID
	receiver *video.Receiver
	stats    transport.PacketStats
	closed   bool
}

// nopBitstream delivers every frame as independently decodable.
type nopBitstream struct{}

func (nopBitstream) ParseHeader([]byte) error             { return nil }
func (nopBitstream) Slice([]byte) (video.Slice, bool)     { return video.Slice{}, false }
func (nopBitstream) SetReferenceFrame([]byte, uint8) bool { return false }

// nopNotifier drops loss reports when no feedback path is configured.
type nopNotifier struct{}

func (nopNotifier) ReportCorruptFrames(start, end seqnum.Num16) {
	logrus.WithFields(logrus.Fields{
		"function": "nopNotifier.ReportCorruptFrames",
		"start":    start,
		"end":      end,
	}).Debug("No feedback path, dropping corrupt frame report")
}

func (nopNotifier) ReportFECFailure() {}

func (nopNotifier) ReportMissingReference() {}

// NewStream creates a stream session from cfg.
func NewStream(cfg StreamConfig) (*Stream, error) {
	if len(cfg.Profiles) == 0 {
		return nil, video.ErrNoProfiles
	}

	var notifier video.ConnectionNotifier
	if cfg.SendFeedback != nil {
		sender, err := transport.NewFeedbackSender(cfg.SenderSSRC, cfg.MediaSSRC, cfg.SendFeedback)
		if err != nil {
			return nil, fmt.Errorf("create feedback sender: %w", err)
		}
		notifier = sender
	} else {
		notifier = nopNotifier{}
	}

	assembler := cfg.Assembler
	if assembler == nil {
		assembler = video.NewUnitAssembler()
	}
	bitstream := cfg.Bitstream
	if bitstream == nil {
		bitstream = nopBitstream{}
	}

	s := &Stream{id: uuid.New()}

	receiver, err := video.NewReceiver(video.ReceiverConfig{
		Assembler:          assembler,
		Bitstream:          bitstream,
		Notifier:           notifier,
		Consumer:           cfg.Consumer,
		PacketStats:        &s.stats,
		Clock:              cfg.Clock,
		GapReportHold:      cfg.GapReportHold,
		GapReportForceSpan: cfg.GapReportForceSpan,
	})
	if err != nil {
		return nil, fmt.Errorf("create receiver: %w", err)
	}
	if err := receiver.SetProfiles(cfg.Profiles); err != nil {
		return nil, fmt.Errorf("set profiles: %w", err)
	}
	s.receiver = receiver

	logrus.WithFields(logrus.Fields{
		"function":  "NewStream",
		"stream_id": s.id,
		"profiles":  len(cfg.Profiles),
	}).Info("Created video stream session")

	return s, nil
}

// ID returns the session identifier.
func (s *Stream) ID() uuid.UUID {
	return s.id
}

// HandleRTP feeds one raw RTP packet into the reassembly pipeline.
// Undecodable packets are counted and reported as an error; the stream
// keeps running.
func (s *Stream) HandleRTP(data []byte) error {
	if s.closed {
		return ErrStreamClosed
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return fmt.Errorf("unmarshal RTP packet: %w", err)
	}

	unit, err := transport.ParseUnit(&pkt)
	if err != nil {
		return fmt.Errorf("parse unit from RTP seq %d: %w", pkt.SequenceNumber, err)
	}

	return s.receiver.HandleUnit(unit)
}

// HandleUnit feeds an already parsed video unit into the pipeline, for
// callers that do their own depacketization.
func (s *Stream) HandleUnit(u *transport.VideoUnit) error {
	if s.closed {
		return ErrStreamClosed
	}
	return s.receiver.HandleUnit(u)
}

// PacketStats returns the unit delivery counters of the current
// generation.
func (s *Stream) PacketStats() (received, lost uint64) {
	return s.stats.Snapshot()
}

// ResetPacketStats zeroes the counters and starts a new generation,
// typically after the caller reported them upstream.
func (s *Stream) ResetPacketStats() {
	s.stats.Reset()
}

// FramesLost returns the frames lost since the last delivered frame.
func (s *Stream) FramesLost() int {
	return s.receiver.FramesLost()
}

// Close stops the stream. Further input is rejected.
func (s *Stream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	logrus.WithFields(logrus.Fields{
		"function":  "Stream.Close",
		"stream_id": s.id,
	}).Info("Closed video stream session")
}
