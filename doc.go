// Package remoteview implements the receive-side frame reassembly core
// of a real-time remote screen streaming client.
//
// Incoming RTP packets carry video units: slices of a frame plus
// optional forward-error-correction parity. The Stream type parses
// units, hands them to a video.Receiver that reassembles frames across
// packet loss and reordering, and reports unrecoverable loss back to
// the sender as RTCP feedback.
//
// The building blocks are usable on their own: package reorder holds a
// generic fixed-capacity reorder queue over wraparound sequence
// numbers, package seqnum the sequence arithmetic, package video the
// frame receiver and gap report coalescing, and package transport the
// unit wire format and RTCP feedback path.
package remoteview
