package transport

import (
	"errors"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/remoteview/seqnum"
)

// SendFunc transmits one marshalled RTCP compound packet. It is supplied
// by the owner of the network connection; the reassembly core never
// touches sockets itself.
type SendFunc func(data []byte) error

// maxNackSpan bounds how many frame indices one corrupt-range report may
// cover. Wider ranges mean the stream is beyond per-frame repair and the
// picture loss indication path takes over anyway.
const maxNackSpan = 512

// FeedbackSender turns reassembly failure notifications into RTCP
// feedback packets. It implements the receiver's connection notifier
// contract: corrupt frame ranges become transport-layer NACKs and
// unrecoverable decode states become picture loss indications.
type FeedbackSender struct {
	senderSSRC uint32
	mediaSSRC  uint32
	send       SendFunc
}

// NewFeedbackSender creates a feedback sender reporting against the given
// media SSRC through send.
func NewFeedbackSender(senderSSRC, mediaSSRC uint32, send SendFunc) (*FeedbackSender, error) {
	if send == nil {
		return nil, errors.New("feedback sender requires a send function")
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewFeedbackSender",
		"sender_ssrc": senderSSRC,
		"media_ssrc":  mediaSSRC,
	}).Debug("Created feedback sender")

	return &FeedbackSender{
		senderSSRC: senderSSRC,
		mediaSSRC:  mediaSSRC,
		send:       send,
	}, nil
}

// ReportCorruptFrames sends a transport-layer NACK covering the inclusive
// frame index range [start, end].
func (f *FeedbackSender) ReportCorruptFrames(start, end seqnum.Num16) {
	span := uint16(end-start) + 1
	if span > maxNackSpan {
		logrus.WithFields(logrus.Fields{
			"function": "FeedbackSender.ReportCorruptFrames",
			"start":    start,
			"end":      end,
			"span":     span,
		}).Warn("Corrupt frame range too wide for NACK, truncating")
		span = maxNackSpan
	}

	nack := &rtcp.TransportLayerNack{
		SenderSSRC: f.senderSSRC,
		MediaSSRC:  f.mediaSSRC,
		Nacks:      nackPairs(uint16(start), span),
	}
	f.write([]rtcp.Packet{nack}, "corrupt frame NACK")
}

// ReportFECFailure signals that forward error correction could not
// reconstruct a frame; the sender should refresh the picture.
func (f *FeedbackSender) ReportFECFailure() {
	f.writePictureLoss("fec_failure")
}

// ReportMissingReference signals a frame that referenced an ancestor no
// longer available for prediction.
func (f *FeedbackSender) ReportMissingReference() {
	f.writePictureLoss("missing_reference")
}

func (f *FeedbackSender) writePictureLoss(reason string) {
	pli := &rtcp.PictureLossIndication{
		SenderSSRC: f.senderSSRC,
		MediaSSRC:  f.mediaSSRC,
	}
	f.write([]rtcp.Packet{pli}, reason)
}

func (f *FeedbackSender) write(pkts []rtcp.Packet, what string) {
	data, err := rtcp.Marshal(pkts)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "FeedbackSender.write",
			"what":     what,
			"error":    err.Error(),
		}).Error("Failed to marshal RTCP feedback")
		return
	}
	if err := f.send(data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "FeedbackSender.write",
			"what":     what,
			"error":    err.Error(),
		}).Warn("Failed to send RTCP feedback")
	}
}

// nackPairs packs span consecutive sequence numbers starting at start
// into NACK pairs of one packet id plus a 16-bit lost-packet bitmask.
func nackPairs(start uint16, span uint16) []rtcp.NackPair {
	pairs := make([]rtcp.NackPair, 0, (span+16)/17)
	for span > 0 {
		pair := rtcp.NackPair{PacketID: start}
		n := span - 1
		if n > 16 {
			n = 16
		}
		for i := uint16(1); i <= n; i++ {
			pair.LostPackets |= 1 << (i - 1)
		}
		pairs = append(pairs, pair)
		start += n + 1
		span -= n + 1
	}
	return pairs
}
