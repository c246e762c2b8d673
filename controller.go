package cinema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/phanxgames/cinema"

// ModeOptions tune one SetMode call.
type ModeOptions struct {
	// IsInitialLoad snaps the camera instead of panning.
	IsInitialLoad bool
	// Skin selects the presentation skin class. Empty means DefaultSkin.
	Skin string
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger replaces the default stderr logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithSettings replaces DefaultSettings.
func WithSettings(s Settings) Option {
	return func(c *Controller) { c.cfg = s }
}

// WithEventSink adds a receiver of controller events.
func WithEventSink(s EventSink) Option {
	return func(c *Controller) { c.sinks = append(c.sinks, s) }
}

// WithTracerProvider sets the tracer provider. The global provider is used
// otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Controller) { c.tracer = tp.Tracer(tracerName) }
}

// Controller is the scene presentation state machine. It is the only
// component that changes the scene's mode; every other component it owns is
// driven from SetMode and the host notification handlers.
type Controller struct {
	host   Host
	cfg    Settings
	log    *slog.Logger
	tracer trace.Tracer
	sinks  []EventSink

	memory       *TokenMemory
	depth        *DepthEngine
	background   *Compositor
	framer       *Framer
	vision       *VisionOverride
	presentation *Presentation

	// transition serializes SetMode calls.
	transition sync.Mutex
	// target is the mode the latest SetMode asked for; mode is the mode the
	// last finished transition reached.
	target atomic.Uint32
	mode   atomic.Uint32

	tokenLocks sync.Map // token id -> *sync.Mutex

	movementMu sync.Mutex

	zoomMu     sync.Mutex
	zoomTimers map[string]*time.Timer
}

// NewController validates host and builds a controller in battle mode. It
// registers the depth world settings with the configured defaults and loads
// them.
func NewController(host Host, opts ...Option) (*Controller, error) {
	if err := host.validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		host:       host,
		cfg:        DefaultSettings(),
		zoomTimers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = NewLogger()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	if c.cfg.TokenConcurrency < 1 {
		c.cfg.TokenConcurrency = 1
	}

	c.memory = NewTokenMemory(host.Flags)
	c.depth = NewDepthEngine(host.Stage, host.Scene, c.memory, c.targetCinematic, c.log)
	c.background = NewCompositor(host.Stage, host.Scene, host.Textures, c.log)
	c.framer = NewFramer(host.Stage, host.Scene, c.cfg.PanDuration)
	c.vision = NewVisionOverride(host.Lighting)
	c.presentation = newPresentation(c.notify)

	for key, def := range map[string]float64{
		SettingReferenceHeight: c.cfg.ReferenceHeight,
		SettingMinScale:        c.cfg.MinScale,
		SettingMaxScale:        c.cfg.MaxScale,
	} {
		if err := host.Settings.Register(Namespace, key, def); err != nil {
			return nil, fmt.Errorf("register setting %s: %w", key, err)
		}
	}
	if err := c.ReloadSettings(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// Mode returns the mode the last finished transition reached.
func (c *Controller) Mode() Mode { return Mode(c.mode.Load()) }

// Cinematic reports whether the scene is settled in cinematic mode.
func (c *Controller) Cinematic() bool {
	return c.Mode() == ModeCinematic && c.targetCinematic()
}

func (c *Controller) targetCinematic() bool { return Mode(c.target.Load()) == ModeCinematic }

// Memory returns the token snapshot store.
func (c *Controller) Memory() *TokenMemory { return c.memory }

// Depth returns the depth engine.
func (c *Controller) Depth() *DepthEngine { return c.depth }

// Background returns the background compositor.
func (c *Controller) Background() *Compositor { return c.background }

// Framer returns the camera framer.
func (c *Controller) Framer() *Framer { return c.framer }

// Vision returns the vision override.
func (c *Controller) Vision() *VisionOverride { return c.vision }

// Presentation returns the presentation class set.
func (c *Controller) Presentation() *Presentation { return c.presentation }

// EnforceVision re-applies the vision override if it is active.
func (c *Controller) EnforceVision() { c.vision.Enforce() }

// ReloadSettings re-reads the depth world settings.
func (c *Controller) ReloadSettings(ctx context.Context) error {
	cfg := DepthConfig{MirrorByFacing: c.cfg.MirrorByFacing}
	for key, dst := range map[string]*float64{
		SettingReferenceHeight: &cfg.ReferenceHeight,
		SettingMinScale:        &cfg.MinScale,
		SettingMaxScale:        &cfg.MaxScale,
	} {
		if err := c.host.Settings.Get(ctx, Namespace, key, dst); err != nil {
			return fmt.Errorf("read setting %s: %w", key, err)
		}
	}
	c.depth.SetConfig(cfg)
	return nil
}

// SetMode transitions the scene to cinematic (active) or battle mode. It does
// not deduplicate: calling it with the current mode runs the transition
// again. Per-token and asset failures are logged and do not fail the
// transition; the returned error is only ever ctx's.
func (c *Controller) SetMode(ctx context.Context, active bool, opts ModeOptions) error {
	ctx, span := c.tracer.Start(ctx, "cinema.SetMode", trace.WithAttributes(
		attribute.Bool("active", active),
		attribute.Bool("initial_load", opts.IsInitialLoad),
	))
	defer span.End()

	c.transition.Lock()
	defer c.transition.Unlock()

	var err error
	if active {
		c.target.Store(uint32(ModeCinematic))
		err = c.activate(ctx, opts)
	} else {
		c.target.Store(uint32(ModeBattle))
		err = c.deactivate(ctx, opts)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Controller) activate(ctx context.Context, opts ModeOptions) error {
	c.vision.SetOverride(true)
	c.framer.SaveView()
	if c.host.User.GM {
		c.setMovement(ctx, true)
	}

	bg, _, err := readFlag[string](ctx, c.host.Flags, c.sceneRef(), FlagCinematicBg)
	if err != nil {
		c.log.WarnContext(ctx, "read background flag", "component", "controller", "err", err)
	}
	c.background.Set(ctx, true, bg)

	if err := c.settle(ctx); err != nil {
		return err
	}
	if err := c.framer.FrameToFit(ctx, opts.IsInitialLoad); err != nil {
		return fmt.Errorf("frame scene: %w", err)
	}

	c.processTokens(ctx, true)

	c.mode.Store(uint32(ModeCinematic))
	c.persistActive(ctx, true)
	skin := opts.Skin
	if skin == "" {
		skin = DefaultSkin
	}
	c.presentation.Update([]string{ClassCinematic, SkinClassPrefix}, ClassCinematic, SkinClassPrefix+skin)
	c.notify(Event{Kind: EventModeChanged, Mode: ModeCinematic})
	return nil
}

func (c *Controller) deactivate(ctx context.Context, opts ModeOptions) error {
	if c.host.User.GM {
		c.setMovement(ctx, false)
	}
	c.background.Set(ctx, false, "")
	c.presentation.Update([]string{ClassCinematic, SkinClassPrefix})

	if err := c.framer.RestoreView(ctx, opts.IsInitialLoad); err != nil {
		return fmt.Errorf("restore view: %w", err)
	}
	if err := c.settle(ctx); err != nil {
		return err
	}

	c.processTokens(ctx, false)
	c.vision.SetOverride(false)

	c.mode.Store(uint32(ModeBattle))
	c.persistActive(ctx, false)
	c.notify(Event{Kind: EventModeChanged, Mode: ModeBattle})
	return nil
}

func (c *Controller) settle(ctx context.Context) error {
	if c.cfg.SettleDelay <= 0 {
		return nil
	}
	t := time.NewTimer(c.cfg.SettleDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) sceneRef() EntityRef { return SceneRef(c.host.Scene.ID()) }

// persistActive writes the scene's active attribute when it differs. Only
// the GM writes durable scene state.
func (c *Controller) persistActive(ctx context.Context, active bool) {
	if !c.host.User.GM {
		return
	}
	cur, ok, err := readFlag[bool](ctx, c.host.Flags, c.sceneRef(), FlagActive)
	if err == nil && ok && cur == active {
		return
	}
	if err := c.host.Flags.SetFlag(ctx, c.sceneRef(), FlagActive, active); err != nil {
		c.log.ErrorContext(ctx, "persist scene mode", "component", "controller", "active", active, "err", err)
	}
}

// setMovement lifts or restores the host's movement constraint. The value in
// place before activation is kept as a scene flag, written only when absent,
// so a reload mid-scene cannot capture the lifted value. Deactivation puts the
// kept value back and unsets the flag; without one the constraint is restored.
// Failures are logged and never block the transition.
func (c *Controller) setMovement(ctx context.Context, unconstrained bool) {
	c.movementMu.Lock()
	defer c.movementMu.Unlock()

	var cur bool
	if err := c.host.Settings.Get(ctx, CoreNamespace, SettingUnconstrainedMove, &cur); err != nil {
		c.log.WarnContext(ctx, "read movement setting", "component", "controller", "err", err)
		return
	}
	ref := c.sceneRef()
	prior, kept, err := readFlag[bool](ctx, c.host.Flags, ref, FlagPriorMovement)
	if err != nil {
		c.log.WarnContext(ctx, "read prior movement", "component", "controller", "err", err)
		kept = false
	}

	want := unconstrained
	if unconstrained {
		if !kept {
			if err := c.host.Flags.SetFlag(ctx, ref, FlagPriorMovement, cur); err != nil {
				c.log.WarnContext(ctx, "keep prior movement", "component", "controller", "err", err)
			}
		}
	} else {
		want = kept && prior
		if kept {
			if err := c.host.Flags.UnsetFlag(ctx, ref, FlagPriorMovement); err != nil {
				c.log.WarnContext(ctx, "clear prior movement", "component", "controller", "err", err)
			}
		}
	}
	if cur == want {
		return
	}
	if err := c.host.Settings.Set(ctx, CoreNamespace, SettingUnconstrainedMove, want); err != nil {
		c.log.WarnContext(ctx, "write movement setting", "component", "controller", "err", err)
	}
}

// processTokens runs the per-token sequence over every placed token. Tokens
// run in parallel up to TokenConcurrency; each token's own sequence holds
// that token's lock.
func (c *Controller) processTokens(ctx context.Context, active bool) {
	var g errgroup.Group
	g.SetLimit(c.cfg.TokenConcurrency)
	for _, t := range c.host.Tokens.Placeables() {
		g.Go(func() error {
			c.runToken(ctx, t, active)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Controller) tokenLock(id string) *sync.Mutex {
	mu, _ := c.tokenLocks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (c *Controller) runToken(ctx context.Context, t Token, active bool) {
	id := t.ID()
	ctx, span := c.tracer.Start(ctx, "cinema.token", trace.WithAttributes(
		attribute.String("token", id),
		attribute.Bool("active", active),
	))
	defer span.End()

	mu := c.tokenLock(id)
	mu.Lock()
	defer mu.Unlock()

	var err error
	if active {
		err = c.activateToken(ctx, t)
	} else {
		err = c.deactivateToken(ctx, t)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.ErrorContext(ctx, "token transition failed", "component", "controller", "token", id, "active", active, "err", err)
		c.notify(Event{Kind: EventTokenFailed, TokenID: id, Err: err})
	}
}

func (c *Controller) activateToken(ctx context.Context, t Token) error {
	id := t.ID()
	gm := c.host.User.GM
	doc := t.Document()

	if gm {
		if _, err := c.memory.SnapshotBattlePos(ctx, id, Vec2{X: doc.X, Y: doc.Y}); err != nil {
			return err
		}
	}
	c.hideMesh(t)

	var errs []error
	var u TokenUpdate
	if pos, ok, err := c.memory.CinematicPos(ctx, id); err != nil {
		errs = append(errs, err)
	} else if ok {
		u.Position = &pos
	}
	if gm {
		tex, ok, err := c.memory.CinematicTexture(ctx, id)
		switch {
		case err != nil:
			errs = append(errs, err)
		case ok:
			if err := c.memory.SnapshotOriginalTexture(ctx, id, doc.TextureSrc); err != nil {
				errs = append(errs, err)
			} else {
				u.Texture = &tex
			}
		}
		if !u.Empty() {
			if err := c.teleport(ctx, id, u); err != nil {
				errs = append(errs, err)
			}
		}
	}

	c.depth.Apply(ctx, t)
	c.fade(t, "FadeIn-"+id, 1)
	return errors.Join(errs...)
}

func (c *Controller) deactivateToken(ctx context.Context, t Token) error {
	id := t.ID()
	gm := c.host.User.GM
	doc := t.Document()

	var errs []error
	if gm {
		if err := c.memory.SetCinematicPos(ctx, id, Vec2{X: doc.X, Y: doc.Y}); err != nil {
			errs = append(errs, err)
		}
	}
	c.hideMesh(t)

	if gm {
		var u TokenUpdate
		orig, hasOrig, err := c.memory.OriginalTexture(ctx, id)
		if err != nil {
			errs = append(errs, err)
		} else if hasOrig {
			u.Texture = &orig
		}
		if pos, ok, err := c.memory.BattlePos(ctx, id); err != nil {
			errs = append(errs, err)
		} else if ok {
			u.Position = &pos
		}
		if !u.Empty() {
			if err := c.teleport(ctx, id, u); err != nil {
				errs = append(errs, err)
			} else if hasOrig {
				if err := c.memory.ClearOriginalTexture(ctx, id); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	if mesh := t.Mesh(); mesh != nil {
		doc = t.Document()
		c.host.Stage.Do(func() {
			mesh.SetScale(doc.ScaleX, doc.ScaleY)
			mesh.SetRotation(doc.Rotation)
		})
		alpha := 1.0
		if doc.Hidden {
			alpha = 0.5
		}
		c.fade(t, "FadeOut-"+id, alpha)
	}
	t.Refresh()
	return errors.Join(errs...)
}

// teleport applies u as one update without animation or movement history,
// dropping the host's teleport diagnostic for this call only.
func (c *Controller) teleport(ctx context.Context, id string, u TokenUpdate) error {
	err := c.host.Tokens.Update(ctx, id, u, UpdateOptions{
		Teleport:    true,
		SkipHistory: true,
		Suppress:    []string{CodeTeleportDeprecated},
	})
	if err != nil {
		return fmt.Errorf("teleport: %w", err)
	}
	return nil
}

func (c *Controller) hideMesh(t Token) {
	mesh := t.Mesh()
	if mesh == nil {
		return
	}
	id := t.ID()
	c.host.Stage.Do(func() {
		anim := c.host.Stage.Animator()
		anim.Stop("FadeIn-" + id)
		anim.Stop("FadeOut-" + id)
		mesh.Alpha = 0
	})
}

func (c *Controller) fade(t Token, name string, to float64) {
	mesh := t.Mesh()
	if mesh == nil {
		return
	}
	c.host.Stage.Do(func() {
		c.host.Stage.Animator().Fade(name, mesh, to, c.cfg.FadeDuration)
	})
}

// Toggle flips the scene's durable active attribute and applies the change
// locally. Other viewers pick it up from their scene-update notification.
func (c *Controller) Toggle(ctx context.Context) error {
	if !c.host.User.GM {
		return ErrNotPrivileged
	}
	cur, _, err := readFlag[bool](ctx, c.host.Flags, c.sceneRef(), FlagActive)
	if err != nil {
		return fmt.Errorf("read scene mode: %w", err)
	}
	next := !cur
	if err := c.host.Flags.SetFlag(ctx, c.sceneRef(), FlagActive, next); err != nil {
		return fmt.Errorf("write scene mode: %w", err)
	}
	return c.HandleSceneUpdate(ctx, SceneChange{Active: &next})
}

// QuickZoom nudges a staged token's zoom multiplier by delta and returns the
// new value. The preview applies at once; the GM's value is persisted once
// no further nudge arrives within the debounce window. Outside cinematic mode
// it does nothing.
func (c *Controller) QuickZoom(ctx context.Context, tokenID string, delta float64) (float64, error) {
	t, ok := c.host.Tokens.Token(tokenID)
	if !ok {
		return 0, fmt.Errorf("quick zoom %s: %w", tokenID, ErrTokenNotFound)
	}
	cur, err := c.memory.QuickZoom(ctx, tokenID)
	if err != nil {
		return 0, fmt.Errorf("quick zoom %s: %w", tokenID, err)
	}
	if !c.Cinematic() {
		return cur, nil
	}
	next := math.Max(c.cfg.QuickZoomMin, math.Min(c.cfg.QuickZoomMax, cur+delta))
	next = math.Round(next*100) / 100

	c.memory.SetPreview(tokenID, next)
	c.depth.Apply(ctx, t)
	if c.host.User.GM {
		c.scheduleZoomSave(context.WithoutCancel(ctx), tokenID, next)
	}
	return next, nil
}

func (c *Controller) scheduleZoomSave(ctx context.Context, id string, v float64) {
	c.zoomMu.Lock()
	defer c.zoomMu.Unlock()
	if prev, ok := c.zoomTimers[id]; ok {
		prev.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(c.cfg.QuickZoomDebounce, func() {
		c.zoomMu.Lock()
		if c.zoomTimers[id] != timer {
			c.zoomMu.Unlock()
			return
		}
		delete(c.zoomTimers, id)
		c.zoomMu.Unlock()

		if err := c.memory.SetCinematicScale(ctx, id, v); err != nil {
			c.log.ErrorContext(ctx, "save quick zoom", "component", "controller", "token", id, "err", err)
			return
		}
		c.memory.ClearPreview(id, v)
		c.log.DebugContext(ctx, "quick zoom saved", "component", "controller", "token", id, "scale", v)
	})
	c.zoomTimers[id] = timer
}

// Teardown releases everything the controller holds for the current scene:
// pending zoom saves, the background drawable and the per-viewer caches. The
// vision override is lifted so the illumination it cached is put back. It
// does not transition the scene.
func (c *Controller) Teardown() {
	c.zoomMu.Lock()
	for id, t := range c.zoomTimers {
		t.Stop()
		delete(c.zoomTimers, id)
	}
	c.zoomMu.Unlock()

	c.background.Destroy()
	c.framer.clear()
	c.vision.SetOverride(false)
	c.memory.reset()
	c.tokenLocks.Clear()
}

func (c *Controller) notify(e Event) {
	for _, s := range c.sinks {
		s.Notify(e)
	}
}
