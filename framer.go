package cinema

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/tanema/gween/ease"
)

// Framer pans the camera to fit the scene and keeps the one-slot snapshot
// of the battle view.
type Framer struct {
	stage    *Stage
	scene    SceneDocument
	duration time.Duration
	ease     ease.TweenFunc

	mu    sync.Mutex
	saved *CameraView
}

// NewFramer creates a framer animating pans over d.
func NewFramer(stage *Stage, scene SceneDocument, d time.Duration) *Framer {
	return &Framer{stage: stage, scene: scene, duration: d, ease: ease.InOutCubic}
}

// Target returns the view that covers the scene rectangle with the viewport,
// zoom clamped to the camera's limits, centered on the scene.
func (f *Framer) Target() CameraView {
	rect := f.scene.Dimensions().SceneRect
	center := rect.Center()
	var view CameraView
	f.stage.Do(func() {
		cam := f.stage.Camera()
		scale := cam.Zoom
		if rect.Width > 0 && rect.Height > 0 {
			scale = math.Max(cam.Viewport.Width/rect.Width, cam.Viewport.Height/rect.Height)
		}
		view = CameraView{PivotX: center.X, PivotY: center.Y, Scale: cam.ClampZoom(scale)}
	})
	return view
}

// FrameToFit moves the camera to Target. It snaps when initial is true and
// otherwise waits for the pan to finish or ctx to end.
func (f *Framer) FrameToFit(ctx context.Context, initial bool) error {
	return f.moveTo(ctx, f.Target(), initial)
}

// SaveView captures the current camera view, replacing any unconsumed one.
func (f *Framer) SaveView() {
	var v CameraView
	f.stage.Do(func() { v = f.stage.Camera().View() })
	f.mu.Lock()
	f.saved = &v
	f.mu.Unlock()
}

// Saved returns the captured view, if any.
func (f *Framer) Saved() (CameraView, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		return CameraView{}, false
	}
	return *f.saved, true
}

// RestoreView moves the camera back to the captured view and clears it. With
// no captured view it does nothing.
func (f *Framer) RestoreView(ctx context.Context, initial bool) error {
	f.mu.Lock()
	saved := f.saved
	f.saved = nil
	f.mu.Unlock()
	if saved == nil {
		return nil
	}
	return f.moveTo(ctx, *saved, initial)
}

func (f *Framer) clear() {
	f.mu.Lock()
	f.saved = nil
	f.mu.Unlock()
}

func (f *Framer) moveTo(ctx context.Context, v CameraView, snap bool) error {
	var done <-chan struct{}
	f.stage.Do(func() {
		cam := f.stage.Camera()
		if snap {
			cam.SnapTo(v.PivotX, v.PivotY, v.Scale)
			return
		}
		done = cam.PanTo(v.PivotX, v.PivotY, v.Scale, f.duration, f.ease)
	})
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
