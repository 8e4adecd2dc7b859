package video

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/remoteview/seqnum"
	"github.com/opd-ai/remoteview/transport"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time {
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type corruptRange struct {
	start, end seqnum.Num16
}

type fakeNotifier struct {
	corrupt     []corruptRange
	fecFailures int
	missingRefs int
}

func (n *fakeNotifier) ReportCorruptFrames(start, end seqnum.Num16) {
	n.corrupt = append(n.corrupt, corruptRange{start, end})
}

func (n *fakeNotifier) ReportFECFailure() {
	n.fecFailures++
}

func (n *fakeNotifier) ReportMissingReference() {
	n.missingRefs++
}

type fakeBitstream struct {
	headers     [][]byte
	slices      map[byte]Slice
	setRefOK    bool
	setRefCalls []uint8
}

func (b *fakeBitstream) ParseHeader(header []byte) error {
	b.headers = append(b.headers, header)
	return nil
}

func (b *fakeBitstream) Slice(frame []byte) (Slice, bool) {
	if len(frame) == 0 {
		return Slice{}, false
	}
	s, ok := b.slices[frame[0]]
	return s, ok
}

func (b *fakeBitstream) SetReferenceFrame(frame []byte, ref uint8) bool {
	b.setRefCalls = append(b.setRefCalls, ref)
	return b.setRefOK
}

type sampleRecord struct {
	frame      []byte
	framesLost int
	recovered  bool
}

type receiverHarness struct {
	receiver  *Receiver
	clock     *stepClock
	notifier  *fakeNotifier
	bitstream *fakeBitstream
	samples   []sampleRecord
	reject    map[string]bool
}

var testHeader = []byte{0xAA, 0xBB}

func newReceiverHarness(t *testing.T, profiles ...Profile) *receiverHarness {
	t.Helper()

	h := &receiverHarness{
		clock:     &stepClock{now: time.Unix(1000, 0)},
		notifier:  &fakeNotifier{},
		bitstream: &fakeBitstream{slices: make(map[byte]Slice), setRefOK: true},
		reject:    make(map[string]bool),
	}

	receiver, err := NewReceiver(ReceiverConfig{
		Assembler: NewUnitAssembler(),
		Bitstream: h.bitstream,
		Notifier:  h.notifier,
		Consumer: func(frame []byte, framesLost int, recovered bool) bool {
			h.samples = append(h.samples, sampleRecord{frame, framesLost, recovered})
			return !h.reject[string(frame)]
		},
		Clock: h.clock,
	})
	require.NoError(t, err)

	if len(profiles) == 0 {
		profiles = []Profile{{Width: 960, Height: 544, Header: testHeader}}
	}
	require.NoError(t, receiver.SetProfiles(profiles))

	h.receiver = receiver
	return h
}

// sendFrame delivers a complete single-unit frame.
func (h *receiverHarness) sendFrame(t *testing.T, index seqnum.Num16, payload string) {
	t.Helper()
	require.NoError(t, h.receiver.HandleUnit(makeUnit(index, 0, 1, 0, payload)))
}

// frames returns the delivered samples without the out-of-band headers.
func (h *receiverHarness) frames() []sampleRecord {
	var out []sampleRecord
	for _, s := range h.samples {
		if string(s.frame) == string(testHeader) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func TestNewReceiverValidation(t *testing.T) {
	base := ReceiverConfig{
		Assembler: NewUnitAssembler(),
		Bitstream: &fakeBitstream{},
		Notifier:  &fakeNotifier{},
	}

	tests := []struct {
		name   string
		mutate func(cfg *ReceiverConfig)
	}{
		{"missing assembler", func(cfg *ReceiverConfig) { cfg.Assembler = nil }},
		{"missing bitstream", func(cfg *ReceiverConfig) { cfg.Bitstream = nil }},
		{"missing notifier", func(cfg *ReceiverConfig) { cfg.Notifier = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := NewReceiver(cfg)
			assert.Error(t, err)
		})
	}

	t.Run("complete config", func(t *testing.T) {
		r, err := NewReceiver(base)
		require.NoError(t, err)
		assert.NotNil(t, r)
		assert.Equal(t, int32(-1), r.CurrentFrameIndex())
	})
}

func TestReceiverSetProfiles(t *testing.T) {
	r, err := NewReceiver(ReceiverConfig{
		Assembler: NewUnitAssembler(),
		Bitstream: &fakeBitstream{},
		Notifier:  &fakeNotifier{},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, r.SetProfiles(nil), ErrNoProfiles)
	require.NoError(t, r.SetProfiles([]Profile{{Width: 960, Height: 544}}))
	assert.ErrorIs(t, r.SetProfiles([]Profile{{Width: 1280, Height: 720}}), ErrProfilesAlreadySet)
}

func TestReceiverDeliversFramesInOrder(t *testing.T) {
	h := newReceiverHarness(t)

	h.sendFrame(t, 1, "one")
	h.sendFrame(t, 2, "two")

	// the profile header precedes the first frame
	require.Len(t, h.samples, 3)
	assert.Equal(t, testHeader, h.samples[0].frame)
	assert.Equal(t, [][]byte{testHeader}, h.bitstream.headers)

	frames := h.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, []byte("one"), frames[0].frame)
	assert.Equal(t, []byte("two"), frames[1].frame)
	assert.Zero(t, frames[0].framesLost)
	assert.Zero(t, frames[1].framesLost)
	assert.Empty(t, h.notifier.corrupt)
}

func TestReceiverAssemblesMultiUnitFrame(t *testing.T) {
	h := newReceiverHarness(t)

	require.NoError(t, h.receiver.HandleUnit(makeUnit(1, 1, 3, 0, "bb")))
	require.NoError(t, h.receiver.HandleUnit(makeUnit(1, 0, 3, 0, "aa")))
	assert.Empty(t, h.frames())
	require.NoError(t, h.receiver.HandleUnit(makeUnit(1, 2, 3, 0, "cc")))

	frames := h.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("aabbcc"), frames[0].frame)
}

func TestReceiverIgnoresOldFrameUnit(t *testing.T) {
	h := newReceiverHarness(t)

	h.sendFrame(t, 1, "one")
	h.sendFrame(t, 2, "two")
	require.NoError(t, h.receiver.HandleUnit(makeUnit(1, 0, 1, 0, "stale")))

	assert.Len(t, h.frames(), 2)
}

func TestReceiverInvalidStreamIndex(t *testing.T) {
	h := newReceiverHarness(t)

	unit := makeUnit(1, 0, 1, 0, "one")
	unit.AdaptiveStreamIndex = 5
	assert.ErrorIs(t, h.receiver.HandleUnit(unit), ErrInvalidStreamIndex)
	assert.Empty(t, h.frames())
}

func TestReceiverProfileSwitch(t *testing.T) {
	headerHi := []byte{0xAA, 0xBB}
	headerLo := []byte{0xCC, 0xDD}
	h := newReceiverHarness(t,
		Profile{Width: 1920, Height: 1080, Header: headerHi},
		Profile{Width: 960, Height: 544, Header: headerLo},
	)

	h.sendFrame(t, 1, "one")
	unit := makeUnit(2, 0, 1, 0, "two")
	unit.AdaptiveStreamIndex = 1
	require.NoError(t, h.receiver.HandleUnit(unit))

	require.Len(t, h.samples, 4)
	assert.Equal(t, headerHi, h.samples[0].frame)
	assert.Equal(t, []byte("one"), h.samples[1].frame)
	assert.Equal(t, headerLo, h.samples[2].frame)
	assert.Equal(t, []byte("two"), h.samples[3].frame)
	assert.Equal(t, [][]byte{headerHi, headerLo}, h.bitstream.headers)
}

func TestReceiverFirstFrameIsNotAGap(t *testing.T) {
	h := newReceiverHarness(t)

	h.sendFrame(t, 1, "one")
	h.clock.Advance(time.Second)
	h.sendFrame(t, 2, "two")

	assert.Empty(t, h.notifier.corrupt)
}

func TestReceiverGapHeldThenReported(t *testing.T) {
	h := newReceiverHarness(t)

	h.sendFrame(t, 1, "one")
	h.sendFrame(t, 2, "two")
	h.sendFrame(t, 4, "four")

	// small fresh gap is held for coalescing
	assert.Empty(t, h.notifier.corrupt)

	h.clock.Advance(DefaultGapReportHold)
	h.sendFrame(t, 5, "five")

	require.Len(t, h.notifier.corrupt, 1)
	assert.Equal(t, corruptRange{3, 3}, h.notifier.corrupt[0])
	assert.Len(t, h.frames(), 4)
}

func TestReceiverWideGapReportedImmediately(t *testing.T) {
	h := newReceiverHarness(t)

	h.sendFrame(t, 1, "one")
	h.sendFrame(t, 10, "ten")

	require.Len(t, h.notifier.corrupt, 1)
	assert.Equal(t, corruptRange{2, 9}, h.notifier.corrupt[0])
}

func TestReceiverStartMidStreamReportsLeadingGap(t *testing.T) {
	h := newReceiverHarness(t)

	h.sendFrame(t, 3, "three")
	assert.Empty(t, h.notifier.corrupt)

	h.clock.Advance(DefaultGapReportHold)
	h.sendFrame(t, 4, "four")

	require.Len(t, h.notifier.corrupt, 1)
	assert.Equal(t, corruptRange{1, 2}, h.notifier.corrupt[0])
}

func TestReceiverGapExtendsWhileHeld(t *testing.T) {
	h := newReceiverHarness(t)

	h.sendFrame(t, 1, "one")

	// frame 3 stays incomplete, so the expected index stays put and the
	// next detection extends the pending range instead of flushing it
	require.NoError(t, h.receiver.HandleUnit(makeUnit(3, 0, 2, 0, "aa")))
	h.sendFrame(t, 5, "five")
	assert.Empty(t, h.notifier.corrupt)

	h.clock.Advance(DefaultGapReportHold)
	h.sendFrame(t, 6, "six")

	require.Len(t, h.notifier.corrupt, 1)
	assert.Equal(t, corruptRange{2, 4}, h.notifier.corrupt[0])
}

func TestReceiverDisjointGapsFlushPrevious(t *testing.T) {
	h := newReceiverHarness(t)

	h.sendFrame(t, 1, "one")
	h.sendFrame(t, 3, "three")
	assert.Empty(t, h.notifier.corrupt)

	// frame 3 completed, so the next gap starts elsewhere and the held
	// range must go out before it is replaced
	h.sendFrame(t, 5, "five")
	require.Len(t, h.notifier.corrupt, 1)
	assert.Equal(t, corruptRange{2, 2}, h.notifier.corrupt[0])

	h.clock.Advance(DefaultGapReportHold)
	h.sendFrame(t, 6, "six")
	require.Len(t, h.notifier.corrupt, 2)
	assert.Equal(t, corruptRange{4, 4}, h.notifier.corrupt[1])
}

func TestReceiverFECFailureOnForcedFlush(t *testing.T) {
	h := newReceiverHarness(t)

	h.sendFrame(t, 1, "one")

	// frame 2 misses a source unit but carries parity
	require.NoError(t, h.receiver.HandleUnit(makeUnit(2, 0, 2, 1, "aa")))
	require.NoError(t, h.receiver.HandleUnit(makeUnit(2, 2, 2, 1, "pp")))
	assert.Zero(t, h.notifier.fecFailures)

	h.sendFrame(t, 3, "three")

	assert.Equal(t, 1, h.notifier.fecFailures)
	require.NotEmpty(t, h.notifier.corrupt)
	assert.Equal(t, corruptRange{2, 2}, h.notifier.corrupt[0])

	frames := h.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, []byte("three"), frames[1].frame)
	assert.Equal(t, 1, frames[1].framesLost)
	assert.Zero(t, h.receiver.FramesLost())
}

func TestReceiverReferenceRecovery(t *testing.T) {
	h := newReceiverHarness(t)
	h.bitstream.slices['P'] = Slice{Type: SliceTypeP, ReferenceFrame: 0}

	for i := seqnum.Num16(1); i <= 5; i++ {
		h.sendFrame(t, i, "i")
	}

	// frame 7 references frame 6, which was never delivered; frame 5 is
	// the nearest available ancestor at depth 1
	h.sendFrame(t, 7, "P7")

	frames := h.frames()
	require.Len(t, frames, 6)
	assert.Equal(t, []byte("P7"), frames[5].frame)
	assert.True(t, frames[5].recovered)
	assert.Equal(t, []uint8{1}, h.bitstream.setRefCalls)
	assert.Zero(t, h.notifier.missingRefs)
}

func TestReceiverMissingReferenceUnrecoverable(t *testing.T) {
	h := newReceiverHarness(t)
	h.bitstream.slices['P'] = Slice{Type: SliceTypeP, ReferenceFrame: 0}
	h.bitstream.setRefOK = false

	for i := seqnum.Num16(1); i <= 5; i++ {
		h.sendFrame(t, i, "i")
	}
	h.sendFrame(t, 7, "P7")

	frames := h.frames()
	require.Len(t, frames, 5)
	assert.Equal(t, 1, h.notifier.missingRefs)
	assert.Equal(t, 1, h.receiver.FramesLost())

	h.sendFrame(t, 8, "i8")
	frames = h.frames()
	require.Len(t, frames, 6)
	assert.Equal(t, 1, frames[5].framesLost)
	assert.Zero(t, h.receiver.FramesLost())
}

func TestReceiverIntactReferenceNotRewritten(t *testing.T) {
	h := newReceiverHarness(t)
	h.bitstream.slices['P'] = Slice{Type: SliceTypeP, ReferenceFrame: 0}

	h.sendFrame(t, 1, "i")
	h.sendFrame(t, 2, "P2")

	frames := h.frames()
	require.Len(t, frames, 2)
	assert.False(t, frames[1].recovered)
	assert.Empty(t, h.bitstream.setRefCalls)
}

func TestReceiverConsumerRejection(t *testing.T) {
	h := newReceiverHarness(t)
	h.reject["two"] = true

	h.sendFrame(t, 1, "one")
	h.sendFrame(t, 2, "two")
	h.sendFrame(t, 3, "three")

	h.clock.Advance(DefaultGapReportHold)
	h.sendFrame(t, 4, "four")

	// the rejected frame counts as undelivered and is reported upstream
	require.Len(t, h.notifier.corrupt, 1)
	assert.Equal(t, corruptRange{2, 2}, h.notifier.corrupt[0])
}

func TestReceiverCorruptRangeDeduplication(t *testing.T) {
	h := newReceiverHarness(t)
	r := h.receiver

	r.reportCorruptRange(3, 5, "test")
	r.reportCorruptRange(3, 5, "test")
	r.reportCorruptRange(3, 4, "test")
	require.Len(t, h.notifier.corrupt, 1)

	r.reportCorruptRange(3, 6, "test")
	require.Len(t, h.notifier.corrupt, 2)
	assert.Equal(t, corruptRange{3, 6}, h.notifier.corrupt[1])

	r.reportCorruptRange(4, 4, "test")
	require.Len(t, h.notifier.corrupt, 3)
}

func TestReceiverPacketStats(t *testing.T) {
	var stats transport.PacketStats
	clock := &stepClock{now: time.Unix(1000, 0)}
	notifier := &fakeNotifier{}
	r, err := NewReceiver(ReceiverConfig{
		Assembler:   NewUnitAssembler(),
		Bitstream:   &fakeBitstream{},
		Notifier:    notifier,
		PacketStats: &stats,
		Clock:       clock,
	})
	require.NoError(t, err)
	require.NoError(t, r.SetProfiles([]Profile{{Width: 960, Height: 544}}))

	require.NoError(t, r.HandleUnit(makeUnit(1, 0, 2, 0, "aa")))
	require.NoError(t, r.HandleUnit(makeUnit(1, 1, 2, 0, "bb")))
	require.NoError(t, r.HandleUnit(makeUnit(2, 0, 1, 0, "cc")))

	received, lost := stats.Snapshot()
	assert.Equal(t, uint64(3), received)
	assert.Zero(t, lost)
}
