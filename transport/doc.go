// Package transport defines the wire carrier for video units and the
// RTCP feedback channel of the streaming session.
//
// Video units travel as RTP packets (pion/rtp) whose payload starts with a
// fixed unit descriptor: frame index, unit index, source and parity unit
// counts and the adaptive stream index. The RTP marker bit mirrors the
// last source unit of a frame.
//
// Reassembly feedback flows the other way as RTCP: corrupt frame ranges
// become transport-layer NACKs and unrecoverable decode states become
// picture loss indications (pion/rtcp).
package transport
