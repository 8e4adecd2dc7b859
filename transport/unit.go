package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/remoteview/seqnum"
)

// Unit descriptor layout, prepended to every RTP payload:
//
//	offset 0    flags (bit 0: keyframe)
//	offset 1-2  frame index, big endian
//	offset 3-4  unit index within the frame
//	offset 5-6  source units in frame
//	offset 7-8  parity (FEC) units in frame
//	offset 9    adaptive stream index
const unitDescriptorSize = 10

const unitFlagKeyFrame = 0x01

// VideoPayloadType is the dynamic RTP payload type carrying video units.
const VideoPayloadType = 98

// Wire validation errors.
var (
	// ErrUnitTooShort indicates an RTP payload smaller than the unit descriptor.
	ErrUnitTooShort = errors.New("unit payload too short")

	// ErrUnitIndexRange indicates a unit index outside the frame's unit count.
	ErrUnitIndexRange = errors.New("unit index out of range")

	// ErrUnitEmptyFrame indicates a frame descriptor announcing zero source units.
	ErrUnitEmptyFrame = errors.New("frame announces zero source units")

	// ErrUnitPayloadType indicates an RTP packet with an unexpected payload type.
	ErrUnitPayloadType = errors.New("unexpected RTP payload type")
)

// VideoUnit is one network unit of a video frame as carried by the
// transport. Sequence spaces: FrameIndex lives in the 16-bit wraparound
// space, UnitIndex restarts at zero for every frame.
type VideoUnit struct {
	FrameIndex          seqnum.Num16
	UnitIndex           uint16
	UnitsInFrameTotal   uint16 // source units
	UnitsInFrameFEC     uint16 // additional parity units
	AdaptiveStreamIndex uint8
	KeyFrame            bool
	Payload             []byte
}

// IsLastSourceUnit reports whether this unit carries the positional
// last-unit marker of the frame's source data.
func (u *VideoUnit) IsLastSourceUnit() bool {
	return u.UnitsInFrameTotal > 0 && u.UnitIndex == u.UnitsInFrameTotal-1
}

// unitCount returns the total number of units in the frame, parity included.
func (u *VideoUnit) unitCount() uint16 {
	return u.UnitsInFrameTotal + u.UnitsInFrameFEC
}

// ParseUnit extracts a video unit from an RTP packet.
func ParseUnit(pkt *rtp.Packet) (*VideoUnit, error) {
	if pkt.PayloadType != VideoPayloadType {
		return nil, fmt.Errorf("%w: %d", ErrUnitPayloadType, pkt.PayloadType)
	}
	if len(pkt.Payload) < unitDescriptorSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrUnitTooShort, len(pkt.Payload))
	}

	u := &VideoUnit{
		FrameIndex:          seqnum.Num16(binary.BigEndian.Uint16(pkt.Payload[1:3])),
		UnitIndex:           binary.BigEndian.Uint16(pkt.Payload[3:5]),
		UnitsInFrameTotal:   binary.BigEndian.Uint16(pkt.Payload[5:7]),
		UnitsInFrameFEC:     binary.BigEndian.Uint16(pkt.Payload[7:9]),
		AdaptiveStreamIndex: pkt.Payload[9],
		KeyFrame:            pkt.Payload[0]&unitFlagKeyFrame != 0,
		Payload:             pkt.Payload[unitDescriptorSize:],
	}

	if u.UnitsInFrameTotal == 0 {
		return nil, ErrUnitEmptyFrame
	}
	if u.UnitIndex >= u.unitCount() {
		return nil, fmt.Errorf("%w: unit %d of %d", ErrUnitIndexRange, u.UnitIndex, u.unitCount())
	}

	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.WithFields(logrus.Fields{
			"function":     "transport.ParseUnit",
			"frame_index":  u.FrameIndex,
			"unit_index":   u.UnitIndex,
			"units_total":  u.UnitsInFrameTotal,
			"units_fec":    u.UnitsInFrameFEC,
			"stream_index": u.AdaptiveStreamIndex,
			"payload_size": len(u.Payload),
		}).Trace("Parsed video unit")
	}

	return u, nil
}

// Packet wraps the unit in an RTP packet for transmission. The RTP marker
// bit is set on the last source unit of the frame.
func (u *VideoUnit) Packet(sequenceNumber uint16, timestamp, ssrc uint32) (*rtp.Packet, error) {
	if u.UnitsInFrameTotal == 0 {
		return nil, ErrUnitEmptyFrame
	}
	if u.UnitIndex >= u.unitCount() {
		return nil, fmt.Errorf("%w: unit %d of %d", ErrUnitIndexRange, u.UnitIndex, u.unitCount())
	}

	payload := make([]byte, unitDescriptorSize+len(u.Payload))
	if u.KeyFrame {
		payload[0] |= unitFlagKeyFrame
	}
	binary.BigEndian.PutUint16(payload[1:3], uint16(u.FrameIndex))
	binary.BigEndian.PutUint16(payload[3:5], u.UnitIndex)
	binary.BigEndian.PutUint16(payload[5:7], u.UnitsInFrameTotal)
	binary.BigEndian.PutUint16(payload[7:9], u.UnitsInFrameFEC)
	payload[9] = u.AdaptiveStreamIndex
	copy(payload[unitDescriptorSize:], u.Payload)

	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         u.IsLastSourceUnit(),
			PayloadType:    VideoPayloadType,
			SequenceNumber: sequenceNumber,
			Timestamp:      timestamp,
			SSRC:           ssrc,
		},
		Payload: payload,
	}, nil
}
