package cinema

import (
	"context"
	"log/slog"
	"math"
)

// Compositor owns the single cinematic background drawable and the
// visibility of the tactical layers.
type Compositor struct {
	stage    *Stage
	scene    SceneDocument
	textures TextureLoader
	log      *slog.Logger

	// bg and path are guarded by the stage lock.
	bg   *Node
	path string
}

// NewCompositor creates a compositor. textures may be nil, in which case no
// background is ever drawn.
func NewCompositor(stage *Stage, scene SceneDocument, textures TextureLoader, logger *slog.Logger) *Compositor {
	return &Compositor{stage: stage, scene: scene, textures: textures, log: logger}
}

// Set shows or removes the cinematic background. Activating hides every
// tactical layer first, then loads path; an empty path or a load failure
// leaves the layers hidden with nothing drawn behind them. Deactivating
// restores the layers and destroys the drawable.
func (c *Compositor) Set(ctx context.Context, active bool, path string) {
	if !active {
		c.stage.Do(func() {
			c.restoreLayers()
			c.destroy()
		})
		return
	}

	c.stage.Do(func() {
		for _, k := range TacticalLayers {
			c.stage.Layer(k).Visible = false
		}
	})
	if path == "" || c.textures == nil {
		return
	}
	img, err := c.textures.Load(ctx, path)
	if err != nil {
		c.log.ErrorContext(ctx, "load cinematic background", "component", "background", "path", path, "err", err)
		return
	}

	c.stage.Do(func() {
		primary := c.stage.Primary()
		if c.bg == nil || c.bg.IsDisposed() {
			c.bg = NewSprite("cinematic_background", nil)
		}
		if !c.bg.attachedTo(primary) {
			primary.AddChildAt(c.bg, 0)
		}
		c.bg.SetImage(img, true)
		c.path = path
		c.fit()
	})
}

// Background returns the background drawable, or nil when none exists.
func (c *Compositor) Background() *Node {
	var bg *Node
	c.stage.Do(func() { bg = c.bg })
	return bg
}

// Refit re-applies the cover fit, after a viewport resize.
func (c *Compositor) Refit() {
	c.stage.Do(func() {
		if c.bg != nil && !c.bg.IsDisposed() {
			c.fit()
		}
	})
}

// Destroy removes the drawable without touching layer visibility.
func (c *Compositor) Destroy() {
	c.stage.Do(c.destroy)
}

func (c *Compositor) destroy() {
	if c.bg != nil {
		c.bg.Dispose()
		c.bg = nil
	}
	c.path = ""
}

// restoreLayers shows the tactical layers again. The map background is only
// shown when the scene has a map image and its texture is loaded; otherwise
// it stays hidden, as the host leaves an empty map layer.
func (c *Compositor) restoreLayers() {
	for _, k := range TacticalLayers {
		layer := c.stage.Layer(k)
		if k == LayerMapBackground {
			layer.Visible = c.scene.BackgroundSrc() != "" && layer.Image != nil
			continue
		}
		layer.Visible = true
	}
}

// fit scales the background so it covers both the scene rectangle and the
// viewport projected into scene units at the zoom that fits the whole scene,
// centered on the scene.
func (c *Compositor) fit() {
	rect := c.scene.Dimensions().SceneRect
	vp := c.stage.Camera().Viewport
	texW, texH := c.bg.ImageSize()
	if rect.Width <= 0 || rect.Height <= 0 || texW == 0 || texH == 0 {
		return
	}
	camScale := math.Min(vp.Width/rect.Width, vp.Height/rect.Height)
	targetW, targetH := rect.Width, rect.Height
	if camScale > 0 {
		targetW = math.Max(rect.Width, vp.Width/camScale)
		targetH = math.Max(rect.Height, vp.Height/camScale)
	}
	s := math.Max(targetW/texW, targetH/texH)
	center := rect.Center()
	c.bg.SetPosition(center.X, center.Y)
	c.bg.SetScale(s, s)
}
