package video

// ReferenceWindowSize is the fixed depth of the reference frame history.
// Encoders in this protocol never reference further back than this.
const ReferenceWindowSize = 16

const noFrame = -1

// ReferenceWindow is the bounded history of recently delivered frame
// indices available as prediction ancestors: a fixed-capacity deque with
// push-front-evict-oldest semantics and a membership query.
type ReferenceWindow struct {
	frames [ReferenceWindowSize]int32
}

// NewReferenceWindow returns an empty reference window.
func NewReferenceWindow() *ReferenceWindow {
	w := &ReferenceWindow{}
	w.Reset()
	return w
}

// Reset empties the window.
func (w *ReferenceWindow) Reset() {
	for i := range w.frames {
		w.frames[i] = noFrame
	}
}

// Add records frame as the most recent reference, evicting the oldest
// entry once the window is full. While the window is still filling, new
// frames occupy the deepest free slot so that depth-based lookups of a
// young stream stay within the populated region.
func (w *ReferenceWindow) Add(frame int32) {
	if w.frames[0] != noFrame {
		copy(w.frames[1:], w.frames[:ReferenceWindowSize-1])
		w.frames[0] = frame
		return
	}
	for i := ReferenceWindowSize - 1; i >= 0; i-- {
		if w.frames[i] == noFrame {
			w.frames[i] = frame
			return
		}
	}
}

// Contains reports whether frame is present anywhere in the window.
func (w *ReferenceWindow) Contains(frame int32) bool {
	for _, f := range w.frames {
		if f == frame {
			return true
		}
	}
	return false
}
