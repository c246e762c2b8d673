package cinema

import (
	"image/color"
	"math"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
)

// lightLayerTag marks the light layer's sprite so the stage draws it with
// multiply blending.
var lightLayerTag = &struct{ name string }{"light-layer"}

var blendMultiply = ebiten.Blend{
	BlendFactorSourceRGB:        ebiten.BlendFactorDestinationColor,
	BlendFactorSourceAlpha:      ebiten.BlendFactorDestinationAlpha,
	BlendFactorDestinationRGB:   ebiten.BlendFactorOneMinusSourceAlpha,
	BlendFactorDestinationAlpha: ebiten.BlendFactorOneMinusSourceAlpha,
	BlendOperationRGB:           ebiten.BlendOperationAdd,
	BlendOperationAlpha:         ebiten.BlendOperationAdd,
}

// Illumination is the scene's ambient-light state as the vision override sees
// it. The global light flag lifts the fog-of-war restriction entirely.
type Illumination interface {
	GlobalLight() bool
	SetGlobalLight(enabled bool)
	// Refresh re-derives vision and lighting from the current state.
	Refresh()
}

// Light is a token's vision source inside a LightLayer.
type Light struct {
	// X and Y are the light's position in scene coordinates.
	X, Y float64
	// Radius controls the drawn size (diameter = Radius*2 pixels).
	Radius float64
	// Intensity controls light brightness in the range [0, 1].
	Intensity float64
	// Enabled determines whether this light is drawn.
	Enabled bool
	// Target, if set, makes the light follow this node's pivot point each redraw.
	Target *Node
}

// LightLayer darkens the scene everywhere except around its lights. It
// renders into an offscreen texture filled with ambient darkness and erases
// feathered circles at each light; the texture is displayed as a sprite with
// multiply blending. With the global light on, no darkness is drawn at all.
// Its state methods are safe to call from any goroutine.
type LightLayer struct {
	mu           sync.Mutex
	w, h         int
	img          *ebiten.Image
	node         *Node
	lights       []*Light
	ambientAlpha float64
	globalLight  bool
	dirty        bool
	circleCache  map[int]*ebiten.Image
	imgOp        ebiten.DrawImageOptions
}

// NewLightLayer creates a light layer covering a w by h scene.
// ambientAlpha controls the base darkness (0 = none, 1 = fully opaque black).
func NewLightLayer(w, h int, ambientAlpha float64) *LightLayer {
	node := NewSprite("light_layer", nil)
	node.UserData = lightLayerTag
	return &LightLayer{
		w:            w,
		h:            h,
		node:         node,
		ambientAlpha: ambientAlpha,
		dirty:        true,
	}
}

// Node returns the sprite node that displays the light layer.
func (ll *LightLayer) Node() *Node {
	return ll.node
}

// GlobalLight reports whether ambient light is forced on.
func (ll *LightLayer) GlobalLight() bool {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	return ll.globalLight
}

// SetGlobalLight turns ambient light on or off.
func (ll *LightLayer) SetGlobalLight(enabled bool) {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	ll.globalLight = enabled
	ll.dirty = true
}

// Refresh schedules a redraw on the next frame.
func (ll *LightLayer) Refresh() {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	ll.dirty = true
}

// AddLight adds a light to the layer.
func (ll *LightLayer) AddLight(l *Light) {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	ll.lights = append(ll.lights, l)
	ll.dirty = true
}

// RemoveLight removes a light from the layer.
func (ll *LightLayer) RemoveLight(l *Light) {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	for i, existing := range ll.lights {
		if existing == l {
			ll.lights = append(ll.lights[:i], ll.lights[i+1:]...)
			ll.dirty = true
			return
		}
	}
}

// Lights returns a copy of the current light list.
func (ll *LightLayer) Lights() []*Light {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	return append([]*Light(nil), ll.lights...)
}

// AmbientAlpha returns the base darkness level.
func (ll *LightLayer) AmbientAlpha() float64 {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	return ll.ambientAlpha
}

// SetAmbientAlpha sets the base darkness level.
func (ll *LightLayer) SetAmbientAlpha(a float64) {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	ll.ambientAlpha = a
	ll.dirty = true
}

// redrawIfDirty redraws when state changed or any light follows a node.
// Called from Stage.Draw with the stage locked.
func (ll *LightLayer) redrawIfDirty() {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	following := false
	for _, l := range ll.lights {
		if l.Target != nil {
			following = true
			break
		}
	}
	if !ll.dirty && !following {
		return
	}
	ll.dirty = false
	ll.redraw()
}

func (ll *LightLayer) redraw() {
	if ll.globalLight {
		ll.node.Visible = false
		return
	}
	ll.node.Visible = true
	if ll.img == nil {
		ll.img = ebiten.NewImage(ll.w, ll.h)
		ll.node.Image = ll.img
	}

	for _, l := range ll.lights {
		if l.Target == nil || l.Target.IsDisposed() {
			continue
		}
		l.X, l.Y = l.Target.WorldPosition()
	}

	target := ll.img
	target.Clear()
	a := clamp01(ll.ambientAlpha)
	target.Fill(color.NRGBA{A: uint8(a * 255)})

	op := &ll.imgOp
	for _, l := range ll.lights {
		if !l.Enabled || l.Radius <= 0 {
			continue
		}
		circle := ll.getCircle(l.Radius)
		sz := float64(circle.Bounds().Dx())
		d := l.Radius * 2
		op.GeoM.Reset()
		op.GeoM.Scale(d/sz, d/sz)
		op.GeoM.Translate(l.X-d/2, l.Y-d/2)
		i := float32(clamp01(l.Intensity))
		op.ColorScale.Reset()
		op.ColorScale.Scale(i, i, i, i)
		op.Blend = ebiten.BlendDestinationOut
		target.DrawImage(circle, op)
	}
}

// getCircle returns a cached circle texture for the given radius, quantized
// to the nearest integer.
func (ll *LightLayer) getCircle(radius float64) *ebiten.Image {
	key := int(math.Ceil(radius))
	if key < 1 {
		key = 1
	}
	if ll.circleCache == nil {
		ll.circleCache = make(map[int]*ebiten.Image)
	}
	if img, ok := ll.circleCache[key]; ok {
		return img
	}
	img := generateCircle(float64(key))
	ll.circleCache[key] = img
	return img
}

// Dispose releases all resources owned by the light layer.
func (ll *LightLayer) Dispose() {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	if ll.img != nil {
		ll.img.Deallocate()
		ll.img = nil
	}
	for _, img := range ll.circleCache {
		img.Deallocate()
	}
	ll.circleCache = nil
	if ll.node != nil {
		ll.node.Dispose()
	}
	ll.lights = nil
}

// generateCircle creates a feathered white circle image with the given radius.
// Uses smoothstep falloff and premultiplied alpha.
func generateCircle(radius float64) *ebiten.Image {
	size := int(math.Ceil(radius * 2))
	if size < 1 {
		size = 1
	}
	img := ebiten.NewImage(size, size)
	pix := make([]byte, size*size*4)

	cx, cy := radius, radius
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float64(x) + 0.5 - cx
			dy := float64(y) + 0.5 - cy
			dist := math.Sqrt(dx*dx+dy*dy) / radius

			var alpha float64
			if dist < 1 {
				t := 1 - dist
				alpha = t * t * (3 - 2*t)
			}

			a := uint8(alpha * 255)
			off := (y*size + x) * 4
			pix[off+0] = a
			pix[off+1] = a
			pix[off+2] = a
			pix[off+3] = a
		}
	}
	img.WritePixels(pix)
	return img
}
