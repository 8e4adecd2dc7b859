package transport

import "github.com/sirupsen/logrus"

// PacketStats accumulates per-generation unit delivery counters reported
// by the frame assembler at every frame boundary. A generation is the
// span between two Reset calls, typically one congestion-control epoch.
//
// PacketStats is mutated on the packet-receive path only and carries no
// internal synchronization.
type PacketStats struct {
	generation uint64
	received   uint64
	lost       uint64
}

// PushGeneration adds one frame's worth of received and lost unit counts.
func (s *PacketStats) PushGeneration(received, lost uint64) {
	s.received += received
	s.lost += lost

	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.WithFields(logrus.Fields{
			"function":   "PacketStats.PushGeneration",
			"generation": s.generation,
			"received":   s.received,
			"lost":       s.lost,
		}).Trace("Pushed packet stats generation")
	}
}

// Snapshot returns the counters accumulated in the current generation.
func (s *PacketStats) Snapshot() (received, lost uint64) {
	return s.received, s.lost
}

// Generation returns the current generation number.
func (s *PacketStats) Generation() uint64 {
	return s.generation
}

// Reset zeroes the counters and advances the generation. The consumer of
// the stats calls this after each report it sends upstream.
func (s *PacketStats) Reset() {
	s.generation++
	s.received = 0
	s.lost = 0
}
