package cinema

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
)

// LayerKind names one of the host's tactical visual layers.
type LayerKind uint8

const (
	LayerMapBackground LayerKind = iota // the battle map image, inside the primary group
	LayerGrid
	LayerTemplates
	LayerWalls
	LayerDoors
	LayerForeground
	LayerLighting
	LayerEffects
	LayerFog
	numLayers
)

var layerNames = [numLayers]string{
	"background", "grid", "templates", "walls", "doors",
	"foreground", "lighting", "effects", "fog",
}

// String returns the layer's short name.
func (k LayerKind) String() string {
	if k < numLayers {
		return layerNames[k]
	}
	return "unknown"
}

// TacticalLayers lists the layers hidden while a scene is cinematic, in the
// order they are toggled.
var TacticalLayers = []LayerKind{
	LayerMapBackground, LayerGrid, LayerWalls, LayerTemplates, LayerForeground,
	LayerDoors, LayerLighting, LayerEffects, LayerFog,
}

// Stage is the host renderer: it owns the node tree, the tactical layers, the
// camera, and the property animator. The tree is shared between the render
// loop and transition goroutines, so every mutation from outside Update/Draw
// goes through Do.
type Stage struct {
	mu sync.Mutex

	root    *Node
	primary *Node
	tokens  *Node
	layers  [numLayers]*Node
	camera  *Camera
	anim    *Animator
	lights  *LightLayer

	grade     *Grade
	offscreen *ebiten.Image

	debug *slog.Logger
	stats DrawStats
	shots []string

	// ScreenshotDir receives Screenshot captures. Empty means
	// DefaultScreenshotDir.
	ScreenshotDir string

	// ClearColor fills the screen before drawing. The zero value leaves the
	// screen black, which is what a cinematic scene without a background shows.
	ClearColor Color
}

// NewStage builds the layer tree for a viewport of the given size.
//
//	root
//	├── primary (map background, tokens)
//	├── grid, templates, walls, doors, foreground
//	└── lighting, effects, fog
func NewStage(viewport Rect) *Stage {
	s := &Stage{
		root:   NewContainer("root"),
		camera: NewCamera(viewport),
		anim:   NewAnimator(),
	}
	s.primary = NewContainer("primary")
	s.root.AddChild(s.primary)

	s.layers[LayerMapBackground] = NewSprite(LayerMapBackground.String(), nil)
	s.primary.AddChild(s.layers[LayerMapBackground])
	s.tokens = NewContainer("tokens")
	s.primary.AddChild(s.tokens)

	for k := LayerGrid; k < numLayers; k++ {
		s.layers[k] = NewContainer(k.String())
		s.root.AddChild(s.layers[k])
	}
	return s
}

// Do runs fn with the stage locked. fn must not call back into Do.
func (s *Stage) Do(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Root returns the root container.
func (s *Stage) Root() *Node { return s.root }

// Primary returns the group that holds the map background and tokens. The
// cinematic background is inserted at index 0 so it draws behind everything.
func (s *Stage) Primary() *Node { return s.primary }

// Tokens returns the group token meshes live in.
func (s *Stage) Tokens() *Node { return s.tokens }

// Layer returns the node for a tactical layer.
func (s *Stage) Layer(k LayerKind) *Node { return s.layers[k] }

// Camera returns the stage camera.
func (s *Stage) Camera() *Camera { return s.camera }

// Animator returns the stage's property animator.
func (s *Stage) Animator() *Animator { return s.anim }

// Lights returns the light layer, or nil when lighting is not set up.
func (s *Stage) Lights() *LightLayer { return s.lights }

// SetLights attaches ll under the lighting layer, replacing any previous one.
func (s *Stage) SetLights(ll *LightLayer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lights != nil {
		s.lights.Node().Dispose()
	}
	s.lights = ll
	if ll != nil {
		s.layers[LayerLighting].AddChild(ll.Node())
	}
}

// SetViewport resizes the camera viewport.
func (s *Stage) SetViewport(vp Rect) {
	s.mu.Lock()
	s.camera.SetViewport(vp)
	s.mu.Unlock()
}

// Grade returns the screen grade, or nil.
func (s *Stage) Grade() *Grade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grade
}

// SetGrade sets the full-screen color grade. Nil draws ungraded.
func (s *Stage) SetGrade(g *Grade) {
	s.mu.Lock()
	s.grade = g
	s.mu.Unlock()
}

// Update advances the camera pan and property tweens by dt seconds and
// refreshes world transforms.
func (s *Stage) Update(dt float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera.update(dt)
	s.anim.Update(dt)
	refreshWorld(s.root, identityAffine, 1, false)
}

// Draw renders the tree from the camera's perspective.
func (s *Stage) Draw(screen *ebiten.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	s.stats = DrawStats{Graded: s.grade != nil}
	dst := screen
	if s.grade != nil {
		dst = s.offscreenFor(screen)
		dst.Clear()
	}
	if s.ClearColor.A > 0 {
		dst.Fill(s.ClearColor.toRGBA())
	}
	refreshWorld(s.root, identityAffine, 1, false)
	if s.lights != nil {
		s.lights.redrawIfDirty()
	}
	view := s.camera.viewAffine()
	var op ebiten.DrawImageOptions
	s.drawNode(dst, s.root, view, &op)
	if s.grade != nil {
		s.grade.Apply(dst, screen)
		s.stats.DrawCalls++
	}
	s.stats.Duration = time.Since(start)
	s.debugLog(s.stats)
	s.flushScreenshots(screen)
}

func (s *Stage) offscreenFor(screen *ebiten.Image) *ebiten.Image {
	b := screen.Bounds()
	if s.offscreen != nil {
		ob := s.offscreen.Bounds()
		if ob.Dx() == b.Dx() && ob.Dy() == b.Dy() {
			return s.offscreen
		}
		s.offscreen.Deallocate()
	}
	s.offscreen = ebiten.NewImage(b.Dx(), b.Dy())
	return s.offscreen
}

func (s *Stage) drawNode(dst *ebiten.Image, n *Node, view affine, op *ebiten.DrawImageOptions) {
	if !n.Visible || n.worldAlpha <= 0 {
		return
	}
	s.stats.Nodes++
	img := n.Image
	if img == nil && n.solid {
		img = WhitePixel
	}
	if img != nil {
		m := n.world.then(view)
		op.GeoM.Reset()
		op.GeoM.SetElement(0, 0, m[0])
		op.GeoM.SetElement(0, 1, m[2])
		op.GeoM.SetElement(0, 2, m[4])
		op.GeoM.SetElement(1, 0, m[1])
		op.GeoM.SetElement(1, 1, m[3])
		op.GeoM.SetElement(1, 2, m[5])
		a := n.worldAlpha * n.Color.A
		op.ColorScale.Reset()
		op.ColorScale.Scale(float32(n.Color.R*a), float32(n.Color.G*a), float32(n.Color.B*a), float32(a))
		op.Blend = ebiten.BlendSourceOver
		if n.UserData == lightLayerTag {
			op.Blend = blendMultiply
		}
		dst.DrawImage(img, op)
		s.stats.DrawCalls++
	}
	s.debugCheckChildCount(n)
	for _, child := range n.children {
		s.drawNode(dst, child, view, op)
	}
}
