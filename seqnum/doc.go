// Package seqnum implements wraparound-aware sequence number arithmetic
// for the 16-bit and 32-bit counter spaces used by the streaming protocol.
//
// Ordering is defined by shortest modular distance: a is greater than b
// when the forward distance from b to a lies strictly within the first
// half of the counter's range. The resulting order is only locally
// consistent; callers must never compare two sequence numbers that are
// half the range or more apart.
package seqnum
