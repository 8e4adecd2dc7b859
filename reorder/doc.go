// Package reorder provides a fixed-capacity sliding-window queue that
// re-sequences out-of-order arrivals keyed by wraparound sequence numbers.
//
// The queue owns a circular array of 2^sizeExp slots addressed by sequence
// number modulo capacity. Arrivals ahead of the window grow it, leaving the
// newly spanned slots as explicit gaps; arrivals behind the window or into
// an occupied slot are handed to the drop callback. How the queue behaves
// when growth would exceed its capacity is selected by a DropStrategy.
//
// Queues are designed for single-goroutine use on a receive path and
// contain no internal synchronization; concurrent access is undefined
// behavior by contract.
package reorder
