package cinema

import (
	"context"
	"log/slog"
	"math"
	"sync"
)

// DepthConfig holds the world settings of the depth scale.
type DepthConfig struct {
	// ReferenceHeight is a percentage of the viewport height.
	ReferenceHeight float64
	// MinScale and MaxScale are the depth factors at the top and bottom of
	// the scene.
	MinScale float64
	MaxScale float64
	// MirrorByFacing flips a staged token horizontally while its rotation
	// points away from the viewer, between 90 and 270 degrees exclusive.
	MirrorByFacing bool
}

// DepthInput is everything the depth scale depends on for one token.
type DepthInput struct {
	ViewportHeight float64
	TextureHeight  float64
	SceneHeight    float64
	// Y is the token's vertical position in scene pixels.
	Y float64
	// FootprintW and FootprintH are the token's size in grid units.
	FootprintW float64
	FootprintH float64
	// BaseScale is the configured horizontal scale. Its sign carries mirroring.
	BaseScale float64
	QuickZoom float64
}

// ComputeScale returns the unsigned visual scale of a staged token. The
// result is not finite when the texture height or scene height is zero. A
// zero BaseScale or QuickZoom means unset and counts as 1, so a document
// that never stored a scale still stages at its natural size.
//
//	autoScale  = viewportHeight * referenceHeight/100 / textureHeight
//	manual     = max(footprint) * |baseScale| * quickZoom
//	depth      = min + clamp(y/sceneHeight, 0, 1) * (max - min)
func ComputeScale(in DepthInput, cfg DepthConfig) float64 {
	autoScale := in.ViewportHeight * cfg.ReferenceHeight / 100 / in.TextureHeight

	base := math.Abs(in.BaseScale)
	if base == 0 {
		base = 1
	}
	zoom := in.QuickZoom
	if zoom == 0 {
		zoom = 1
	}
	manual := math.Max(in.FootprintW, in.FootprintH) * base * zoom

	ratio := in.Y / in.SceneHeight
	if !math.IsNaN(ratio) {
		ratio = math.Max(0, math.Min(1, ratio))
	}
	depth := cfg.MinScale + ratio*(cfg.MaxScale-cfg.MinScale)

	return autoScale * manual * depth
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// DepthEngine applies the depth scale to token meshes. Apply is idempotent
// and meant to run on every token refresh.
type DepthEngine struct {
	stage     *Stage
	scene     SceneDocument
	memory    *TokenMemory
	cinematic func() bool
	log       *slog.Logger

	mu  sync.RWMutex
	cfg DepthConfig
}

// NewDepthEngine creates an engine. cinematic reports whether the scene is
// presented cinematically.
func NewDepthEngine(stage *Stage, scene SceneDocument, memory *TokenMemory, cinematic func() bool, logger *slog.Logger) *DepthEngine {
	return &DepthEngine{
		stage:     stage,
		scene:     scene,
		memory:    memory,
		cinematic: cinematic,
		log:       logger,
	}
}

// Config returns the active configuration.
func (e *DepthEngine) Config() DepthConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SetConfig replaces the configuration.
func (e *DepthEngine) SetConfig(cfg DepthConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Apply sets the mesh scale for t. Outside cinematic mode it puts back the
// configured scale if something else changed it. In cinematic mode the mesh
// gets the depth scale, mirrored like the configured scale (and flipped again
// by facing when MirrorByFacing is set), and is made upright.
func (e *DepthEngine) Apply(ctx context.Context, t Token) {
	mesh := t.Mesh()
	if mesh == nil {
		return
	}
	doc := t.Document()

	if !e.cinematic() {
		e.stage.Do(func() {
			if mesh.ScaleX != doc.ScaleX || mesh.ScaleY != doc.ScaleY {
				mesh.SetScale(doc.ScaleX, doc.ScaleY)
			}
		})
		return
	}

	id := t.ID()
	zoom, err := e.memory.QuickZoom(ctx, id)
	if err != nil {
		e.log.WarnContext(ctx, "read quick zoom", "component", "depth", "token", id, "err", err)
	}
	base := doc.ScaleX
	if override, ok, err := e.memory.ScaleOverride(ctx, id); err != nil {
		e.log.WarnContext(ctx, "read scale override", "component", "depth", "token", id, "err", err)
	} else if ok && override != 0 {
		base = math.Copysign(math.Abs(override), signOf(doc.ScaleX))
	}

	in := DepthInput{
		SceneHeight: e.scene.Dimensions().Height,
		Y:           doc.Y,
		FootprintW:  doc.Width,
		FootprintH:  doc.Height,
		BaseScale:   base,
		QuickZoom:   zoom,
	}
	cfg := e.Config()
	sign := signOf(base)
	if cfg.MirrorByFacing && facingAway(doc.Rotation) {
		sign = -sign
	}

	e.stage.Do(func() {
		if mesh.IsDisposed() {
			return
		}
		in.ViewportHeight = e.stage.Camera().Viewport.Height
		_, in.TextureHeight = mesh.ImageSize()
		s := ComputeScale(in, cfg)
		if !finite(s) {
			return
		}
		mesh.SetScale(s*sign, s)
		mesh.SetRotation(0)
	})
}

// signOf returns -1 for negative values and 1 otherwise, zero included.
func signOf(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// facingAway reports whether a rotation in radians lies strictly between 90
// and 270 degrees once normalized to [0, 360).
func facingAway(rad float64) bool {
	deg := math.Mod(rad*180/math.Pi, 360)
	if deg < 0 {
		deg += 360
	}
	return deg > 90 && deg < 270
}
