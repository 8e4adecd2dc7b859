package video

import (
	"time"

	"github.com/sirupsen/logrus"
)

// stageWindow is the rolling interval of the pipeline stage counters.
const stageWindow = time.Second

// stageStats aggregates per-frame pipeline timings over one-second
// windows: frames flushed, frames dropped and mean assemble and submit
// latencies. Purely observational; it never influences reassembly.
type stageStats struct {
	windowStart   time.Time
	assembleTotal time.Duration
	submitTotal   time.Duration
	frames        uint32
	drops         uint32
}

func (s *stageStats) addFrame(assemble time.Duration) {
	s.frames++
	s.assembleTotal += assemble
}

func (s *stageStats) addSubmit(submit time.Duration) {
	s.submitTotal += submit
}

func (s *stageStats) addDrop() {
	s.drops++
}

// roll logs and resets the window once a full interval elapsed.
func (s *stageStats) roll(now time.Time) {
	if s.windowStart.IsZero() {
		s.windowStart = now
	}
	if now.Sub(s.windowStart) < stageWindow {
		return
	}

	var avgAssemble, avgSubmit time.Duration
	if s.frames > 0 {
		avgAssemble = s.assembleTotal / time.Duration(s.frames)
		avgSubmit = s.submitTotal / time.Duration(s.frames)
	}
	logrus.WithFields(logrus.Fields{
		"function":        "stageStats.roll",
		"frames":          s.frames,
		"drops":           s.drops,
		"avg_assemble_ms": avgAssemble.Milliseconds(),
		"avg_submit_ms":   avgSubmit.Milliseconds(),
	}).Debug("Video pipeline stage window")

	s.windowStart = now
	s.assembleTotal = 0
	s.submitTotal = 0
	s.frames = 0
	s.drops = 0
}
