package cinema

import "github.com/hajimehoshi/ebiten/v2"

// Namespace is the attribute namespace every durable flag and world setting
// of this package lives under.
const Namespace = "storyteller-cinema"

// Mode is the two-valued presentation state of a scene.
type Mode uint8

const (
	ModeBattle    Mode = iota // tactical grid, fog, and tokens as placed
	ModeCinematic             // staged background, depth-scaled actors
)

// String returns "battle" or "cinematic".
func (m Mode) String() string {
	if m == ModeCinematic {
		return "cinematic"
	}
	return "battle"
}

// ViewMode is the persisted per-scene default view. It is a string so it
// serializes cleanly as a scene attribute.
type ViewMode string

const (
	ViewBattlemap ViewMode = "battlemap"
	ViewCinematic ViewMode = "cinematic"
)

// Scene attribute keys.
const (
	FlagActive      = "active"
	FlagViewMode    = "viewMode"
	FlagCinematicBg = "cinematicBg"
	FlagMood        = "mood"
)

// FlagPriorMovement is the scene attribute holding the movement setting that
// was in place before the scene went cinematic.
const FlagPriorMovement = "priorUnconstrainedMovement"

// Token attribute keys.
const (
	FlagBattlePos        = "battlePos"
	FlagCinematicPos     = "cinematicPos"
	FlagOriginalTexture  = "originalTexture"
	FlagCinematicTexture = "cinematicTexture"
	FlagScaleOverride    = "cinematicScaleOverride"
	FlagCinematicScale   = "cinematicScale"
)

// Color represents an RGBA color with components in [0, 1]. Not premultiplied.
type Color struct {
	R, G, B, A float64
}

// ColorWhite is the default tint (no color modification).
var ColorWhite = Color{1, 1, 1, 1}

// Vec2 is a 2D vector used for positions and sizes.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle. The coordinate system has its origin at
// the top-left, with Y increasing downward.
type Rect struct {
	X, Y, Width, Height float64
}

// Center returns the geometric center of the rectangle.
func (r Rect) Center() Vec2 {
	return Vec2{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Contains reports whether the point (x, y) lies inside the rectangle.
// Points on the edge are considered inside.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width &&
		y >= r.Y && y <= r.Y+r.Height
}

// WhitePixel is a 1x1 white image used for solid color sprites.
var WhitePixel *ebiten.Image

func init() {
	WhitePixel = ebiten.NewImage(1, 1)
	WhitePixel.Fill(ColorWhite.toRGBA())
}

// colorRGBA adapts Color to image/color.Color.
type colorRGBA struct {
	r, g, b, a float64
}

func (c Color) toRGBA() colorRGBA {
	return colorRGBA{
		r: clamp01(c.R) * clamp01(c.A),
		g: clamp01(c.G) * clamp01(c.A),
		b: clamp01(c.B) * clamp01(c.A),
		a: clamp01(c.A),
	}
}

func (c colorRGBA) RGBA() (r, g, b, a uint32) {
	return uint32(c.r * 0xffff), uint32(c.g * 0xffff), uint32(c.b * 0xffff), uint32(c.a * 0xffff)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
