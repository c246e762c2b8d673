package cinema

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/hajimehoshi/ebiten/v2"
)

func TestStageStatsCountDraws(t *testing.T) {
	s := NewStage(Rect{Width: 64, Height: 64})
	s.Tokens().AddChild(NewRect("a", 8, 8, ColorWhite))
	hidden := NewRect("b", 8, 8, ColorWhite)
	hidden.Visible = false
	s.Tokens().AddChild(hidden)

	screen := ebiten.NewImage(64, 64)
	s.Draw(screen)

	st := s.Stats()
	if st.DrawCalls != 1 {
		t.Errorf("draw calls = %d, want 1", st.DrawCalls)
	}
	if st.Nodes < 3 {
		t.Errorf("nodes = %d, want at least root, primary and the rect", st.Nodes)
	}
	if st.Graded {
		t.Error("ungraded frame reported as graded")
	}
}

func TestStageDebugLogsFrames(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s := NewStage(Rect{Width: 32, Height: 32})
	screen := ebiten.NewImage(32, 32)
	s.Draw(screen)
	if buf.Len() != 0 {
		t.Fatalf("logged without debug: %s", buf.String())
	}

	s.SetDebug(logger)
	s.Draw(screen)
	if !strings.Contains(buf.String(), "component=stage") || !strings.Contains(buf.String(), "draw_calls=") {
		t.Errorf("debug output = %q", buf.String())
	}

	s.SetDebug(nil)
	buf.Reset()
	s.Draw(screen)
	if buf.Len() != 0 {
		t.Errorf("logged after SetDebug(nil): %s", buf.String())
	}
}

func TestStageDebugWarnsOversizedGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	s := NewStage(Rect{Width: 32, Height: 32})
	for i := 0; i <= debugMaxChildCount; i++ {
		s.Tokens().AddChild(NewContainer("c"))
	}
	s.SetDebug(logger)
	s.Draw(ebiten.NewImage(32, 32))
	if !strings.Contains(buf.String(), "oversized group") || !strings.Contains(buf.String(), "node=tokens") {
		t.Errorf("warning output = %q", buf.String())
	}
}
