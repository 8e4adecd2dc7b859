package reorder

import (
	"errors"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/remoteview/seqnum"
)

// ErrInvalidSizeExp indicates the requested capacity exponent is outside
// the supported range.
var ErrInvalidSizeExp = errors.New("invalid reorder queue size exponent")

// maxSizeExp bounds queue storage to 2^24 slots so a corrupted stream
// header cannot make the constructor allocate unbounded memory.
const maxSizeExp = 24

const hintInvalid = math.MaxUint64

// DropStrategy selects how Push behaves when an arrival lies so far ahead
// of the window that growing to reach it would exceed the capacity.
type DropStrategy int

const (
	// DropStrategyEnd rejects the incoming payload. This is the default.
	DropStrategyEnd DropStrategy = iota
	// DropStrategyBegin evicts slots from the front of the window,
	// oldest first, until the incoming sequence number fits.
	DropStrategyBegin
)

// SeqOps bundles the wraparound operators for one sequence number space.
// The queue carries sequence numbers as uint64 internally; the operators
// reduce them to the width of the underlying space.
type SeqOps struct {
	Gt  func(a, b uint64) bool
	Lt  func(a, b uint64) bool
	Add func(a, b uint64) uint64
}

// Ops16 returns operators for the 16-bit sequence space.
func Ops16() SeqOps {
	return SeqOps{
		Gt:  func(a, b uint64) bool { return seqnum.Num16(a).Gt(seqnum.Num16(b)) },
		Lt:  func(a, b uint64) bool { return seqnum.Num16(a).Lt(seqnum.Num16(b)) },
		Add: func(a, b uint64) uint64 { return uint64(uint16(a) + uint16(b)) },
	}
}

// Ops32 returns operators for the 32-bit sequence space.
func Ops32() SeqOps {
	return SeqOps{
		Gt:  func(a, b uint64) bool { return seqnum.Num32(a).Gt(seqnum.Num32(b)) },
		Lt:  func(a, b uint64) bool { return seqnum.Num32(a).Lt(seqnum.Num32(b)) },
		Add: func(a, b uint64) uint64 { return uint64(uint32(a) + uint32(b)) },
	}
}

// DropFunc receives every payload the queue gives up on: duplicates, stale
// arrivals, evictions, forced drops and slots still occupied at Close.
// Ownership of the payload passes to the callback.
type DropFunc[T any] func(seq uint64, payload T)

type entry[T any] struct {
	set     bool
	payload T
}

// Queue is a fixed-capacity sliding-window reorder queue over payloads of
// type T. The zero value is not usable; construct with New, New16 or New32.
type Queue[T any] struct {
	sizeExp  uint
	begin    uint64
	count    uint64
	ops      SeqOps
	strategy DropStrategy
	dropFn   DropFunc[T]
	hint     uint64
	slots    []entry[T]
}

// New creates a queue with 2^sizeExp slots whose window starts at start.
// The operators define the sequence space the queue orders by.
func New[T any](sizeExp uint, start uint64, ops SeqOps) (*Queue[T], error) {
	if sizeExp == 0 || sizeExp > maxSizeExp {
		return nil, ErrInvalidSizeExp
	}
	if ops.Gt == nil || ops.Lt == nil || ops.Add == nil {
		return nil, errors.New("reorder queue requires Gt, Lt and Add operators")
	}

	q := &Queue[T]{
		sizeExp:  sizeExp,
		begin:    start,
		ops:      ops,
		strategy: DropStrategyEnd,
		hint:     hintInvalid,
		slots:    make([]entry[T], 1<<sizeExp),
	}

	logrus.WithFields(logrus.Fields{
		"function":  "reorder.New",
		"size_exp":  sizeExp,
		"start_seq": start,
	}).Debug("Created reorder queue")

	return q, nil
}

// New16 creates a queue ordered by the 16-bit sequence space.
func New16[T any](sizeExp uint, start seqnum.Num16) (*Queue[T], error) {
	return New[T](sizeExp, uint64(start), Ops16())
}

// New32 creates a queue ordered by the 32-bit sequence space.
func New32[T any](sizeExp uint, start seqnum.Num32) (*Queue[T], error) {
	return New[T](sizeExp, uint64(start), Ops32())
}

// SetDropStrategy selects the overflow policy applied by Push.
func (q *Queue[T]) SetDropStrategy(s DropStrategy) {
	q.strategy = s
}

// SetDropCallback registers the callback receiving dropped payloads.
func (q *Queue[T]) SetDropCallback(fn DropFunc[T]) {
	q.dropFn = fn
}

// Count returns the number of logical slots currently spanned by the
// window, including gaps.
func (q *Queue[T]) Count() uint64 {
	return q.count
}

// Begin returns the sequence number at the front of the window.
func (q *Queue[T]) Begin() uint64 {
	return q.begin
}

// Capacity returns the fixed number of slots.
func (q *Queue[T]) Capacity() uint64 {
	return 1 << q.sizeExp
}

func (q *Queue[T]) idx(seq uint64) uint64 {
	return seq & (q.Capacity() - 1)
}

func (q *Queue[T]) ge(a, b uint64) bool {
	return a == b || q.ops.Gt(a, b)
}

func (q *Queue[T]) drop(seq uint64, payload T) {
	if q.dropFn != nil {
		q.dropFn(seq, payload)
	}
}

// offsetForSeq returns the window offset of seq, or hintInvalid if seq is
// not spanned by the window.
func (q *Queue[T]) offsetForSeq(seq uint64) uint64 {
	cur := q.begin
	for i := uint64(0); i < q.count; i++ {
		if cur == seq {
			return i
		}
		cur = q.ops.Add(cur, 1)
	}
	return hintInvalid
}

// pullHintBack moves the first-set hint to the offset of seq if seq
// precedes the currently hinted slot. The hint is a lower bound on the
// first occupied offset and must never move past it.
func (q *Queue[T]) pullHintBack(seq uint64) {
	if q.hint == hintInvalid {
		q.hint = q.offsetForSeq(seq)
		return
	}
	hinted := q.ops.Add(q.begin, q.hint)
	if q.ops.Lt(seq, hinted) {
		q.hint = q.offsetForSeq(seq)
	}
}

// shiftHintDown adjusts the hint after the front slot left the window.
func (q *Queue[T]) shiftHintDown() {
	if q.count == 0 {
		q.hint = hintInvalid
		return
	}
	if q.hint != hintInvalid {
		if q.hint == 0 {
			q.hint = hintInvalid
		} else {
			q.hint--
		}
	}
}

// Push inserts payload at seq. Arrivals behind the window, duplicates of
// occupied slots and overflow rejections are routed to the drop callback;
// the queue never takes ownership of a payload it cannot store.
func (q *Queue[T]) Push(seq uint64, payload T) {
	end := q.ops.Add(q.begin, q.count)

	if q.ge(seq, q.begin) && q.ops.Lt(seq, end) {
		slot := &q.slots[q.idx(seq)]
		if slot.set {
			// received twice
			q.drop(seq, payload)
			return
		}
		slot.payload = payload
		slot.set = true
		q.pullHintBack(seq)
		return
	}

	if q.ops.Lt(seq, q.begin) {
		q.drop(seq, payload)
		return
	}

	// seq is at or beyond the window end; the window has to grow.
	freeElems := q.Capacity() - q.count
	totalEnd := q.ops.Add(end, freeElems)
	newEnd := q.ops.Add(seq, 1)
	if q.ops.Lt(totalEnd, newEnd) {
		if q.strategy == DropStrategyEnd {
			q.drop(seq, payload)
			return
		}

		// evict from the front until empty or enough space
		for q.count > 0 && q.ops.Lt(totalEnd, newEnd) {
			slot := &q.slots[q.idx(q.begin)]
			if slot.set {
				q.drop(q.begin, slot.payload)
				slot.set = false
				var zero T
				slot.payload = zero
			}
			q.begin = q.ops.Add(q.begin, 1)
			q.count--
			q.shiftHintDown()
			freeElems = q.Capacity() - q.count
			totalEnd = q.ops.Add(end, freeElems)
		}

		// empty, jump directly to seq
		if q.count == 0 {
			q.begin = seq
		}
	}

	// span intermediate slots as explicit gaps up to newEnd
	end = q.ops.Add(q.begin, q.count)
	for q.ops.Lt(end, newEnd) {
		q.count++
		slot := &q.slots[q.idx(end)]
		slot.set = false
		var zero T
		slot.payload = zero
		end = q.ops.Add(q.begin, q.count)
	}

	slot := &q.slots[q.idx(seq)]
	slot.set = true
	slot.payload = payload
	q.pullHintBack(seq)
}

// Pull extracts the front slot. It fails when the window is empty or the
// front slot is a gap; gaps are never skipped implicitly.
func (q *Queue[T]) Pull() (uint64, T, bool) {
	var zero T
	if q.count == 0 {
		return 0, zero, false
	}

	slot := &q.slots[q.idx(q.begin)]
	if !slot.set {
		return 0, zero, false
	}

	seq := q.begin
	payload := slot.payload
	slot.set = false
	slot.payload = zero
	q.begin = q.ops.Add(q.begin, 1)
	q.count--
	q.shiftHintDown()
	return seq, payload, true
}

// Peek returns the slot at the given window offset without mutating the
// queue. It fails for out-of-range offsets and gaps.
func (q *Queue[T]) Peek(offset uint64) (uint64, T, bool) {
	var zero T
	if offset >= q.count {
		return 0, zero, false
	}

	seq := q.ops.Add(q.begin, offset)
	slot := &q.slots[q.idx(seq)]
	if !slot.set {
		return 0, zero, false
	}
	return seq, slot.payload, true
}

// FindFirstSet scans forward from the hinted offset for the first occupied
// slot, letting a consumer look past a stalled gap without discarding it.
// The hint is updated to the found offset.
func (q *Queue[T]) FindFirstSet() (offset uint64, seq uint64, payload T, ok bool) {
	start := uint64(0)
	if q.hint != hintInvalid && q.hint < q.count {
		start = q.hint
	}

	for i := start; i < q.count; i++ {
		s := q.ops.Add(q.begin, i)
		slot := &q.slots[q.idx(s)]
		if !slot.set {
			continue
		}
		q.hint = i
		return i, s, slot.payload, true
	}

	var zero T
	return 0, 0, zero, false
}

// Drop force-clears the slot at the given window offset, handing any
// occupant to the drop callback. Clearing the logical tail trims trailing
// gaps so the count shrinks to the true tail.
func (q *Queue[T]) Drop(offset uint64) {
	if offset >= q.count {
		return
	}

	seq := q.ops.Add(q.begin, offset)
	slot := &q.slots[q.idx(seq)]
	if !slot.set {
		return
	}

	q.drop(seq, slot.payload)
	slot.set = false
	var zero T
	slot.payload = zero

	if offset == q.count-1 {
		for !slot.set {
			q.count--
			if q.count == 0 {
				break
			}
			seq = q.ops.Add(q.begin, q.count-1)
			slot = &q.slots[q.idx(seq)]
		}
	}
	if q.count == 0 {
		q.hint = hintInvalid
	} else if q.hint != hintInvalid && q.hint == offset {
		q.hint = hintInvalid
	}
}

// SkipGap unconditionally removes the front slot, whether gap or occupied.
// This is the mechanism for forcing progress when the head of the window
// is permanently unrecoverable. An occupant goes to the drop callback.
func (q *Queue[T]) SkipGap() {
	if q.count == 0 {
		return
	}

	slot := &q.slots[q.idx(q.begin)]
	if slot.set {
		q.drop(q.begin, slot.payload)
		slot.set = false
		var zero T
		slot.payload = zero
	}

	q.begin = q.ops.Add(q.begin, 1)
	q.count--
	q.shiftHintDown()
}

// Close hands every still-occupied slot to the drop callback and releases
// the backing storage. No payload is ever silently leaked.
func (q *Queue[T]) Close() {
	for i := uint64(0); i < q.count; i++ {
		seq := q.ops.Add(q.begin, i)
		slot := &q.slots[q.idx(seq)]
		if slot.set {
			q.drop(seq, slot.payload)
			slot.set = false
		}
	}
	q.count = 0
	q.hint = hintInvalid
	q.slots = nil
}
