package cinema

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
)

// BoardConfig describes the scene a Board hosts.
type BoardConfig struct {
	SceneID string
	// Width and Height are the scene size in pixels. The scene rectangle
	// starts at Padding on both axes.
	Width, Height float64
	Padding       float64
	GridSize      float64
	// BackgroundSrc is the battle map image.
	BackgroundSrc string
	GridColor     Color
}

// Board is an in-memory host: it keeps the scene and token documents and
// draws them onto a Stage. It implements SceneDocument and TokenLayer.
//
// Lock order: Board never holds its own lock while taking the stage lock, so
// its read methods may be called from inside Stage.Do.
type Board struct {
	stage    *Stage
	textures TextureLoader
	log      *slog.Logger

	mu        sync.Mutex
	cfg       BoardConfig
	tokens    map[string]*boardToken
	order     []*boardToken
	onUpdate  []func(ctx context.Context, t Token, moved bool)
	onRefresh []func(t Token)
}

type boardToken struct {
	board *Board
	id    string
	mesh  *Node
	light *Light
	doc   TokenDocument // guarded by board.mu
}

// NewBoard builds the battle map and grid for cfg on stage. textures may be
// nil; the map and token textures are then left undrawn.
func NewBoard(ctx context.Context, stage *Stage, cfg BoardConfig, textures TextureLoader, logger *slog.Logger) (*Board, error) {
	if logger == nil {
		logger = NewLogger()
	}
	if cfg.GridSize <= 0 {
		cfg.GridSize = 100
	}
	if cfg.GridColor.A == 0 {
		cfg.GridColor = Color{R: 0, G: 0, B: 0, A: 0.25}
	}
	b := &Board{
		stage:    stage,
		textures: textures,
		log:      logger,
		cfg:      cfg,
		tokens:   make(map[string]*boardToken),
	}

	var mapImg *ebiten.Image
	if cfg.BackgroundSrc != "" && textures != nil {
		img, err := textures.Load(ctx, cfg.BackgroundSrc)
		if err != nil {
			return nil, fmt.Errorf("load battle map: %w", err)
		}
		mapImg = img
	}

	rect := b.Dimensions().SceneRect
	stage.Do(func() {
		bg := stage.Layer(LayerMapBackground)
		bg.Image = mapImg
		bg.Visible = mapImg != nil
		bg.SetPosition(rect.X, rect.Y)
		if mapImg != nil {
			w, h := bg.ImageSize()
			bg.SetScale(rect.Width/w, rect.Height/h)
		}

		grid := stage.Layer(LayerGrid)
		for x := rect.X; x <= rect.X+rect.Width; x += cfg.GridSize {
			line := NewRect("grid_v", 1, rect.Height, cfg.GridColor)
			line.SetPosition(x, rect.Y)
			grid.AddChild(line)
		}
		for y := rect.Y; y <= rect.Y+rect.Height; y += cfg.GridSize {
			line := NewRect("grid_h", rect.Width, 1, cfg.GridColor)
			line.SetPosition(rect.X, y)
			grid.AddChild(line)
		}
	})
	return b, nil
}

// ID returns the scene id.
func (b *Board) ID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.SceneID
}

// Dimensions returns the scene geometry.
func (b *Board) Dimensions() SceneDimensions {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.cfg.Padding
	return SceneDimensions{
		Width:     b.cfg.Width + 2*p,
		Height:    b.cfg.Height + 2*p,
		SceneRect: Rect{X: p, Y: p, Width: b.cfg.Width, Height: b.cfg.Height},
		GridSize:  b.cfg.GridSize,
	}
}

// BackgroundSrc returns the battle map image path.
func (b *Board) BackgroundSrc() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.BackgroundSrc
}

// OnTokenUpdate registers fn to run after every committed token update.
// moved reports whether the position changed.
func (b *Board) OnTokenUpdate(fn func(ctx context.Context, t Token, moved bool)) {
	b.mu.Lock()
	b.onUpdate = append(b.onUpdate, fn)
	b.mu.Unlock()
}

// OnTokenRefresh registers fn to run after every token redraw.
func (b *Board) OnTokenRefresh(fn func(t Token)) {
	b.mu.Lock()
	b.onRefresh = append(b.onRefresh, fn)
	b.mu.Unlock()
}

// AddToken places a token. A zero scale is taken as 1 and a zero footprint
// as one grid square.
func (b *Board) AddToken(ctx context.Context, id string, doc TokenDocument) (Token, error) {
	if doc.ScaleX == 0 {
		doc.ScaleX = 1
	}
	if doc.ScaleY == 0 {
		doc.ScaleY = 1
	}
	if doc.Width == 0 {
		doc.Width = 1
	}
	if doc.Height == 0 {
		doc.Height = 1
	}

	var img *ebiten.Image
	if doc.TextureSrc != "" && b.textures != nil {
		var err error
		if img, err = b.textures.Load(ctx, doc.TextureSrc); err != nil {
			return nil, fmt.Errorf("add token %s: %w", id, err)
		}
	}

	b.mu.Lock()
	if _, ok := b.tokens[id]; ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("add token %s: already placed", id)
	}
	t := &boardToken{board: b, id: id, doc: doc, mesh: NewSprite("token_"+id, nil)}
	b.tokens[id] = t
	b.order = append(b.order, t)
	grid := b.cfg.GridSize
	b.mu.Unlock()

	b.stage.Do(func() {
		t.mesh.SetImage(img, true)
		t.mesh.SetScale(doc.ScaleX, doc.ScaleY)
		t.mesh.SetRotation(doc.Rotation)
		if doc.Hidden {
			t.mesh.Alpha = 0.5
		}
		b.stage.Tokens().AddChild(t.mesh)
		syncMesh(t.mesh, doc, grid)
		if lights := b.stage.Lights(); lights != nil {
			t.light = &Light{Radius: grid * 3, Intensity: 1, Enabled: true, Target: t.mesh}
			lights.AddLight(t.light)
		}
	})
	return t, nil
}

// RemoveToken deletes a token and its mesh.
func (b *Board) RemoveToken(id string) error {
	b.mu.Lock()
	t, ok := b.tokens[id]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("remove token %s: %w", id, ErrTokenNotFound)
	}
	delete(b.tokens, id)
	for i, o := range b.order {
		if o == t {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	b.stage.Do(func() {
		if lights := b.stage.Lights(); lights != nil && t.light != nil {
			lights.RemoveLight(t.light)
		}
		t.mesh.Dispose()
	})
	return nil
}

// Placeables returns every placed token in placement order.
func (b *Board) Placeables() []Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Token, len(b.order))
	for i, t := range b.order {
		out[i] = t
	}
	return out
}

// Token looks a token up by id.
func (b *Board) Token(id string) (Token, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tokens[id]
	if !ok {
		return nil, false
	}
	return t, true
}

// Move drags a token to (x, y) the way a user would: a plain update.
func (b *Board) Move(ctx context.Context, id string, x, y float64) error {
	return b.Update(ctx, id, TokenUpdate{Position: &Vec2{X: x, Y: y}}, UpdateOptions{Animate: true})
}

// Update applies u in one step. A new texture is loaded before anything
// changes, so a load failure leaves the document untouched. Teleport updates
// log CodeTeleportDeprecated unless opts.Suppress names it.
func (b *Board) Update(ctx context.Context, id string, u TokenUpdate, opts UpdateOptions) error {
	ctx = WithSuppressed(ctx, opts.Suppress...)

	b.mu.Lock()
	t, ok := b.tokens[id]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("update token %s: %w", id, ErrTokenNotFound)
	}

	var img *ebiten.Image
	if u.Texture != nil && *u.Texture != "" && b.textures != nil {
		var err error
		if img, err = b.textures.Load(ctx, *u.Texture); err != nil {
			return fmt.Errorf("update token %s: %w", id, err)
		}
	}
	if opts.Teleport {
		b.log.WarnContext(ctx, "the teleport update option is deprecated", "code", CodeTeleportDeprecated, "token", id)
	}

	b.mu.Lock()
	old := t.doc
	if u.Position != nil {
		t.doc.X, t.doc.Y = u.Position.X, u.Position.Y
	}
	if u.Texture != nil {
		t.doc.TextureSrc = *u.Texture
	}
	doc := t.doc
	grid := b.cfg.GridSize
	listeners := append([]func(context.Context, Token, bool){}, b.onUpdate...)
	b.mu.Unlock()

	b.stage.Do(func() {
		if t.mesh.IsDisposed() {
			return
		}
		if img != nil || (u.Texture != nil && *u.Texture == "") {
			t.mesh.SetImage(img, true)
		}
		syncMesh(t.mesh, doc, grid)
	})

	moved := doc.X != old.X || doc.Y != old.Y
	for _, fn := range listeners {
		fn(ctx, t, moved)
	}
	return nil
}

// syncMesh centers the mesh on the token's footprint. Called with the stage
// locked.
func syncMesh(mesh *Node, doc TokenDocument, grid float64) {
	mesh.SetPosition(doc.X+doc.Width*grid/2, doc.Y+doc.Height*grid/2)
}

func (t *boardToken) ID() string { return t.id }

func (t *boardToken) Document() TokenDocument {
	t.board.mu.Lock()
	defer t.board.mu.Unlock()
	return t.doc
}

func (t *boardToken) Mesh() *Node { return t.mesh }

// Refresh re-derives the mesh position from the document and notifies the
// refresh listeners.
func (t *boardToken) Refresh() {
	b := t.board
	b.mu.Lock()
	doc := t.doc
	grid := b.cfg.GridSize
	listeners := append([]func(Token){}, b.onRefresh...)
	b.mu.Unlock()

	b.stage.Do(func() {
		if !t.mesh.IsDisposed() {
			syncMesh(t.mesh, doc, grid)
		}
	})
	for _, fn := range listeners {
		fn(t)
	}
}
