package cinema

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/hajimehoshi/ebiten/v2"
)

// fakeTextures serves fixed-size blank images by path.
type fakeTextures struct {
	mu     sync.Mutex
	sizes  map[string][2]int
	images map[string]*ebiten.Image
	loads  int
}

func newFakeTextures() *fakeTextures {
	return &fakeTextures{
		sizes: map[string][2]int{
			"map.png":      {100, 100},
			"hero.png":     {100, 100},
			"portrait.png": {50, 200},
			"tavern.png":   {400, 200},
			"goblin.png":   {100, 100},
		},
		images: make(map[string]*ebiten.Image),
	}
}

func (f *fakeTextures) Load(_ context.Context, path string) (*ebiten.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if img, ok := f.images[path]; ok {
		return img, nil
	}
	size, ok := f.sizes[path]
	if !ok {
		return nil, fmt.Errorf("texture %q not found", path)
	}
	img := ebiten.NewImage(size[0], size[1])
	f.images[path] = img
	return img, nil
}

// countingTokens records every update that reaches the host.
type countingTokens struct {
	TokenLayer
	mu      sync.Mutex
	updates map[string]int
}

func (c *countingTokens) Update(ctx context.Context, id string, u TokenUpdate, opts UpdateOptions) error {
	c.mu.Lock()
	if c.updates == nil {
		c.updates = make(map[string]int)
	}
	c.updates[id]++
	c.mu.Unlock()
	return c.TokenLayer.Update(ctx, id, u, opts)
}

func (c *countingTokens) count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates[id]
}

// eventLog collects controller events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Notify(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) kinds(k EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// rig is a 1000x1000 scene with a 1000x1000 viewport, hosted on a Board.
type rig struct {
	t        *testing.T
	ctx      context.Context
	stage    *Stage
	board    *Board
	tokens   *countingTokens
	flags    *MemoryFlags
	settings *MemorySettings
	textures *fakeTextures
	lights   *LightLayer
	events   *eventLog
	logs     *bytes.Buffer
	ctrl     *Controller
}

type rigOption func(*rigConfig)

type rigConfig struct {
	user     User
	settings Settings
	mapSrc   string
	extra    []Option
}

func asPlayer() rigOption {
	return func(c *rigConfig) { c.user = User{ID: "player", GM: false} }
}

func withoutMap() rigOption {
	return func(c *rigConfig) { c.mapSrc = "" }
}

func withCfg(fn func(*Settings)) rigOption {
	return func(c *rigConfig) { fn(&c.settings) }
}

func withOption(o Option) rigOption {
	return func(c *rigConfig) { c.extra = append(c.extra, o) }
}

func newRig(t *testing.T, opts ...rigOption) *rig {
	t.Helper()
	cfg := rigConfig{
		user:     User{ID: "gm", GM: true},
		settings: DefaultSettings(),
		mapSrc:   "map.png",
	}
	cfg.settings.PanDuration = 0
	cfg.settings.FadeDuration = 0
	for _, o := range opts {
		o(&cfg)
	}

	ctx := context.Background()
	r := &rig{
		t:        t,
		ctx:      ctx,
		stage:    NewStage(Rect{Width: 1000, Height: 1000}),
		flags:    NewMemoryFlags(),
		settings: NewMemorySettings(),
		textures: newFakeTextures(),
		events:   &eventLog{},
		logs:     &bytes.Buffer{},
	}
	r.lights = NewLightLayer(1000, 1000, 0.8)
	r.stage.SetLights(r.lights)
	logger := newBufferLogger(r.logs)

	board, err := NewBoard(ctx, r.stage, BoardConfig{
		SceneID:       "scene",
		Width:         1000,
		Height:        1000,
		GridSize:      100,
		BackgroundSrc: cfg.mapSrc,
	}, r.textures, logger)
	if err != nil {
		t.Fatalf("NewBoard: %v", err)
	}
	r.board = board
	r.tokens = &countingTokens{TokenLayer: board}
	if err := r.settings.Register(CoreNamespace, SettingUnconstrainedMove, false); err != nil {
		t.Fatal(err)
	}

	ctrl, err := NewController(Host{
		Scene:    board,
		Tokens:   r.tokens,
		Stage:    r.stage,
		Flags:    r.flags,
		Settings: r.settings,
		User:     cfg.user,
		Textures: r.textures,
		Lighting: r.lights,
	}, append([]Option{WithSettings(cfg.settings), WithLogger(logger), WithEventSink(r.events)}, cfg.extra...)...)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	r.ctrl = ctrl
	board.OnTokenUpdate(func(ctx context.Context, tok Token, moved bool) {
		_ = ctrl.HandleTokenUpdate(ctx, tok, moved)
	})
	board.OnTokenRefresh(func(tok Token) {
		ctrl.HandleTokenRefresh(ctx, tok)
	})
	return r
}

func (r *rig) addToken(id string, doc TokenDocument) Token {
	r.t.Helper()
	tok, err := r.board.AddToken(r.ctx, id, doc)
	if err != nil {
		r.t.Fatalf("AddToken %s: %v", id, err)
	}
	return tok
}

func (r *rig) setFlag(ref EntityRef, key string, v any) {
	r.t.Helper()
	if err := r.flags.SetFlag(r.ctx, ref, key, v); err != nil {
		r.t.Fatal(err)
	}
}

func (r *rig) setMode(active bool) {
	r.t.Helper()
	if err := r.ctrl.SetMode(r.ctx, active, ModeOptions{}); err != nil {
		r.t.Fatalf("SetMode(%v): %v", active, err)
	}
}

func (r *rig) flagSet(ref EntityRef, key string) bool {
	_, ok, _ := r.flags.GetFlag(r.ctx, ref, key)
	return ok
}

func (r *rig) vecFlag(ref EntityRef, key string) (Vec2, bool) {
	v, ok, err := readFlag[Vec2](r.ctx, r.flags, ref, key)
	if err != nil {
		r.t.Fatal(err)
	}
	return v, ok
}
