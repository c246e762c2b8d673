package cinema

import (
	"log/slog"
	"time"
)

// DrawStats are the counters of the last Stage.Draw.
type DrawStats struct {
	Nodes     int
	DrawCalls int
	Duration  time.Duration
	Graded    bool
}

const debugMaxChildCount = 1000

// SetDebug logs every frame's DrawStats, and oversized groups, to logger at
// debug level. Nil turns it off.
func (s *Stage) SetDebug(logger *slog.Logger) {
	s.mu.Lock()
	s.debug = logger
	s.mu.Unlock()
}

// Stats returns the counters of the last frame.
func (s *Stage) Stats() DrawStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Stage) debugLog(stats DrawStats) {
	if s.debug == nil {
		return
	}
	s.debug.Debug("frame",
		"component", "stage",
		"nodes", stats.Nodes,
		"draw_calls", stats.DrawCalls,
		"duration", stats.Duration,
		"graded", stats.Graded,
	)
}

func (s *Stage) debugCheckChildCount(n *Node) {
	if s.debug == nil || len(n.children) <= debugMaxChildCount {
		return
	}
	s.debug.Warn("oversized group",
		"component", "stage",
		"node", n.Name,
		"children", len(n.children),
		"threshold", debugMaxChildCount,
	)
}
