// Package video implements the packet-to-frame reassembly core of the
// streaming client: it turns possibly out-of-order, possibly lost video
// units into complete frames, reports unrecoverable gaps upstream and
// recovers from missing decode dependencies where the bitstream allows it.
//
// The central type is [Receiver], which orchestrates the per-frame
// lifecycle: unit classification, delegation to a [FrameAssembler], gap
// detection through a coalescing report state machine, reference-frame
// dependency recovery via a [BitstreamInspector], and delivery of
// decodable frames to a [SampleConsumer].
//
// Everything in this package is built for single-goroutine use on the
// network receive path. No type carries internal synchronization;
// concurrent access is undefined behavior by contract, not merely
// untested. Time is injected through [TimeProvider] so every
// time-dependent decision is deterministic under test.
package video
