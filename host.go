package cinema

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMissingCapability is returned by NewController when a required
	// host capability is absent.
	ErrMissingCapability = errors.New("cinema: missing host capability")
	// ErrTokenNotFound is returned for operations naming an unknown token.
	ErrTokenNotFound = errors.New("cinema: token not found")
	// ErrNotPrivileged is returned when a non-GM user asks for a durable
	// scene change.
	ErrNotPrivileged = errors.New("cinema: user is not privileged")
)

// SceneDimensions is the scene geometry. Width and Height include any
// padding; SceneRect is the playable area inside them.
type SceneDimensions struct {
	Width     float64
	Height    float64
	SceneRect Rect
	GridSize  float64
}

// SceneDocument is the scene being presented.
type SceneDocument interface {
	ID() string
	Dimensions() SceneDimensions
	// BackgroundSrc is the battle map image path.
	BackgroundSrc() string
}

// TokenDocument is the persisted state of one token. Width and Height are in
// grid units; X and Y are the top-left corner in scene pixels.
type TokenDocument struct {
	X, Y       float64
	Width      float64
	Height     float64
	TextureSrc string
	ScaleX     float64
	ScaleY     float64
	Rotation   float64
	Hidden     bool
}

// Token is a placed token as the host renders it.
type Token interface {
	ID() string
	Document() TokenDocument
	// Mesh is the token's drawable, or nil when the token is not drawn.
	Mesh() *Node
	// Refresh redraws the token from its document.
	Refresh()
}

// TokenUpdate is one atomic change to a token document. Nil fields are left
// unchanged.
type TokenUpdate struct {
	Position *Vec2
	Texture  *string
}

// Empty reports whether the update changes nothing.
func (u TokenUpdate) Empty() bool {
	return u.Position == nil && u.Texture == nil
}

// UpdateOptions control how the host applies a TokenUpdate.
type UpdateOptions struct {
	Animate     bool
	Teleport    bool
	SkipHistory bool
	// Suppress lists diagnostic codes to drop while this update runs.
	Suppress []string
}

// TokenLayer is the single adapter over the host's token collection.
type TokenLayer interface {
	Placeables() []Token
	Token(id string) (Token, bool)
	// Update applies u atomically: either every field changes or none does.
	Update(ctx context.Context, id string, u TokenUpdate, opts UpdateOptions) error
}

// User is the acting viewer.
type User struct {
	ID string
	GM bool
}

// Host is every capability the controller consumes, populated once at
// startup. Textures and Lighting are optional.
type Host struct {
	Scene    SceneDocument
	Tokens   TokenLayer
	Stage    *Stage
	Flags    FlagStore
	Settings SettingsStore
	User     User

	Textures TextureLoader
	Lighting Illumination
}

func (h Host) validate() error {
	switch {
	case h.Scene == nil:
		return fmt.Errorf("%w: Scene", ErrMissingCapability)
	case h.Tokens == nil:
		return fmt.Errorf("%w: Tokens", ErrMissingCapability)
	case h.Stage == nil:
		return fmt.Errorf("%w: Stage", ErrMissingCapability)
	case h.Flags == nil:
		return fmt.Errorf("%w: Flags", ErrMissingCapability)
	case h.Settings == nil:
		return fmt.Errorf("%w: Settings", ErrMissingCapability)
	}
	return nil
}
