package cinema

import (
	"context"
	"errors"
	"testing"
	"time"
)

type staticScene struct {
	id   string
	dims SceneDimensions
	bg   string
}

func (s staticScene) ID() string                  { return s.id }
func (s staticScene) Dimensions() SceneDimensions { return s.dims }
func (s staticScene) BackgroundSrc() string       { return s.bg }

func wideScene() staticScene {
	return staticScene{id: "s", dims: SceneDimensions{
		Width: 2000, Height: 1000,
		SceneRect: Rect{Width: 2000, Height: 1000},
	}}
}

func TestFramerTargetCoversScene(t *testing.T) {
	stage := NewStage(Rect{Width: 1000, Height: 1000})
	f := NewFramer(stage, wideScene(), 0)

	v := f.Target()
	// max(1000/2000, 1000/1000) = 1
	if v.Scale != 1 || v.PivotX != 1000 || v.PivotY != 500 {
		t.Errorf("Target = %+v, want {1000 500 1}", v)
	}
}

func TestFramerTargetClampsZoom(t *testing.T) {
	stage := NewStage(Rect{Width: 1000, Height: 1000})
	scene := staticScene{dims: SceneDimensions{SceneRect: Rect{Width: 100, Height: 100}}}
	f := NewFramer(stage, scene, 0)

	if v := f.Target(); v.Scale != DefaultMaxZoom {
		t.Errorf("Scale = %v, want clamped to %v", v.Scale, DefaultMaxZoom)
	}
}

func TestFramerSaveRestoreExactlyOnce(t *testing.T) {
	ctx := context.Background()
	stage := NewStage(Rect{Width: 1000, Height: 1000})
	f := NewFramer(stage, wideScene(), 0)
	stage.Camera().SnapTo(123.5, -40.25, 0.75)

	f.SaveView()
	if err := f.FrameToFit(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := f.RestoreView(ctx, true); err != nil {
		t.Fatal(err)
	}
	want := CameraView{PivotX: 123.5, PivotY: -40.25, Scale: 0.75}
	if got := stage.Camera().View(); got != want {
		t.Errorf("restored view = %+v, want %+v", got, want)
	}

	stage.Camera().SnapTo(1, 2, 3)
	if err := f.RestoreView(ctx, true); err != nil {
		t.Fatal(err)
	}
	if got := stage.Camera().View(); got != (CameraView{PivotX: 1, PivotY: 2, Scale: 3}) {
		t.Errorf("second restore moved the camera to %+v", got)
	}
}

func TestFramerSecondSaveOverwrites(t *testing.T) {
	stage := NewStage(Rect{Width: 1000, Height: 1000})
	f := NewFramer(stage, wideScene(), 0)

	stage.Camera().SnapTo(1, 1, 1)
	f.SaveView()
	stage.Camera().SnapTo(2, 2, 2)
	f.SaveView()

	if v, ok := f.Saved(); !ok || v.PivotX != 2 {
		t.Errorf("Saved = (%+v, %v), want the second view", v, ok)
	}
}

func TestFramerPanWaitsForCompletion(t *testing.T) {
	stage := NewStage(Rect{Width: 1000, Height: 1000})
	f := NewFramer(stage, wideScene(), 100*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- f.FrameToFit(context.Background(), false) }()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatal(err)
			}
			if v := stage.Camera().View(); !approxEqual(v.PivotX, 1000, 0.01) {
				t.Errorf("PivotX = %v, want 1000", v.PivotX)
			}
			return
		case <-deadline:
			t.Fatal("pan never completed")
		default:
			stage.Update(1.0 / 60)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestFramerPanCancelled(t *testing.T) {
	stage := NewStage(Rect{Width: 1000, Height: 1000})
	f := NewFramer(stage, wideScene(), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.FrameToFit(ctx, false); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
