package cinema

import (
	"math"
	"time"

	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// Default zoom limits, used when a camera is created without explicit ones.
const (
	DefaultMinZoom = 0.1
	DefaultMaxZoom = 3.0
)

// panAnim holds the active pan tweens for camera X, Y and Zoom.
type panAnim struct {
	tweenX    *gween.Tween
	tweenY    *gween.Tween
	tweenZoom *gween.Tween
	doneX     bool
	doneY     bool
	doneZoom  bool
	done      chan struct{}
}

func (p *panAnim) finish() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

// CameraView is the {pivot, scale} triple that fully describes what the
// viewer sees.
type CameraView struct {
	PivotX float64
	PivotY float64
	Scale  float64
}

// Camera controls the view into the stage: the world-space pivot it centers
// on, zoom, and the screen-space viewport.
type Camera struct {
	// X and Y are the world-space pivot the camera centers on.
	X, Y float64
	// Zoom is the scale factor (1.0 = no zoom, >1 = zoom in, <1 = zoom out).
	Zoom float64
	// MinZoom and MaxZoom bound the zoom the host allows.
	MinZoom, MaxZoom float64
	// Viewport is the screen-space rectangle this camera renders into.
	Viewport Rect

	view    affine
	invView affine
	dirty   bool

	pan *panAnim
}

// NewCamera creates a Camera with default zoom limits and the given viewport.
func NewCamera(viewport Rect) *Camera {
	return &Camera{
		Zoom:     1.0,
		MinZoom:  DefaultMinZoom,
		MaxZoom:  DefaultMaxZoom,
		Viewport: viewport,
		dirty:    true,
	}
}

// View returns the camera's current pivot and scale.
func (c *Camera) View() CameraView {
	return CameraView{PivotX: c.X, PivotY: c.Y, Scale: c.Zoom}
}

// ClampZoom restricts z to [MinZoom, MaxZoom].
func (c *Camera) ClampZoom(z float64) float64 {
	return math.Max(c.MinZoom, math.Min(c.MaxZoom, z))
}

// SnapTo moves the camera instantly, cancelling any pan in flight.
func (c *Camera) SnapTo(x, y, zoom float64) {
	if c.pan != nil {
		c.pan.finish()
		c.pan = nil
	}
	c.X, c.Y, c.Zoom = x, y, zoom
	c.dirty = true
}

// PanTo animates the camera to the given pivot and zoom over d. The returned
// channel is closed when the pan completes or is superseded. A non-positive
// duration snaps.
func (c *Camera) PanTo(x, y, zoom float64, d time.Duration, easeFn ease.TweenFunc) <-chan struct{} {
	if d <= 0 {
		c.SnapTo(x, y, zoom)
		done := make(chan struct{})
		close(done)
		return done
	}
	if c.pan != nil {
		c.pan.finish()
	}
	sec := float32(d.Seconds())
	c.pan = &panAnim{
		tweenX:    gween.New(float32(c.X), float32(x), sec, easeFn),
		tweenY:    gween.New(float32(c.Y), float32(y), sec, easeFn),
		tweenZoom: gween.New(float32(c.Zoom), float32(zoom), sec, easeFn),
		done:      make(chan struct{}),
	}
	return c.pan.done
}

// Panning reports whether a pan is in flight.
func (c *Camera) Panning() bool {
	return c.pan != nil
}

// update advances the pan animation. Called from Stage.Update.
func (c *Camera) update(dt float32) {
	p := c.pan
	if p == nil {
		return
	}
	if !p.doneX {
		val, done := p.tweenX.Update(dt)
		c.X = float64(val)
		p.doneX = done
	}
	if !p.doneY {
		val, done := p.tweenY.Update(dt)
		c.Y = float64(val)
		p.doneY = done
	}
	if !p.doneZoom {
		val, done := p.tweenZoom.Update(dt)
		c.Zoom = float64(val)
		p.doneZoom = done
	}
	c.dirty = true
	if p.doneX && p.doneY && p.doneZoom {
		c.pan = nil
		p.finish()
	}
}

// viewAffine returns the cached stage-to-screen matrix: the pivot (X, Y) is
// scaled by Zoom onto the viewport center.
func (c *Camera) viewAffine() affine {
	if !c.dirty {
		return c.view
	}
	c.dirty = false
	center := c.Viewport.Center()
	z := c.Zoom
	c.view = affine{z, 0, 0, z, center.X - z*c.X, center.Y - z*c.Y}
	c.invView = c.view.inverse()
	return c.view
}

// WorldToScreen converts world coordinates to screen coordinates.
func (c *Camera) WorldToScreen(wx, wy float64) (sx, sy float64) {
	return c.viewAffine().apply(wx, wy)
}

// ScreenToWorld converts screen coordinates to world coordinates.
func (c *Camera) ScreenToWorld(sx, sy float64) (wx, wy float64) {
	c.viewAffine()
	return c.invView.apply(sx, sy)
}

// VisibleBounds returns the world-space rectangle the viewport currently shows.
func (c *Camera) VisibleBounds() Rect {
	c.viewAffine()
	x0, y0 := c.invView.apply(c.Viewport.X, c.Viewport.Y)
	x1, y1 := c.invView.apply(c.Viewport.X+c.Viewport.Width, c.Viewport.Y+c.Viewport.Height)
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// SetViewport resizes the viewport (window resize).
func (c *Camera) SetViewport(vp Rect) {
	c.Viewport = vp
	c.dirty = true
}

// MarkDirty forces a recomputation of the view matrix.
func (c *Camera) MarkDirty() {
	c.dirty = true
}
