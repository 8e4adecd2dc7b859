package video

// Profile describes one adaptive quality tier of the stream: its output
// resolution and the out-of-band decoder configuration emitted when the
// stream switches to it.
type Profile struct {
	Width  uint32
	Height uint32
	// Header is the codec-specific decoder configuration for this tier.
	// It is delivered to the sample consumer as a zero-loss sample before
	// any frame of the tier.
	Header []byte
}
