package cinema

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestNewControllerMissingCapability(t *testing.T) {
	_, err := NewController(Host{Stage: NewStage(Rect{Width: 10, Height: 10})})
	if !errors.Is(err, ErrMissingCapability) {
		t.Errorf("err = %v, want ErrMissingCapability", err)
	}
}

func TestNewControllerRegistersDepthSettings(t *testing.T) {
	r := newRig(t)
	var v float64
	if err := r.settings.Get(r.ctx, Namespace, SettingReferenceHeight, &v); err != nil {
		t.Fatal(err)
	}
	if v != 30 {
		t.Errorf("referenceHeight = %v, want 30", v)
	}
	if cfg := r.ctrl.Depth().Config(); cfg != defaultDepth {
		t.Errorf("depth config = %+v, want %+v", cfg, defaultDepth)
	}
}

func TestSetModeRoundTrip(t *testing.T) {
	r := newRig(t)
	hero := r.addToken("hero", TokenDocument{X: 100, Y: 200, TextureSrc: "hero.png"})
	r.setFlag(TokenRef("hero"), FlagCinematicPos, Vec2{X: 500, Y: 600})
	r.setFlag(TokenRef("hero"), FlagCinematicTexture, "portrait.png")

	r.setMode(true)
	doc := hero.Document()
	if doc.X != 500 || doc.Y != 600 || doc.TextureSrc != "portrait.png" {
		t.Fatalf("staged doc = %+v, want (500,600) portrait.png", doc)
	}
	if pos, ok := r.vecFlag(TokenRef("hero"), FlagBattlePos); !ok || pos != (Vec2{X: 100, Y: 200}) {
		t.Errorf("battlePos = %+v (set %v), want (100,200)", pos, ok)
	}
	if orig, _, _ := readFlag[string](r.ctx, r.flags, TokenRef("hero"), FlagOriginalTexture); orig != "hero.png" {
		t.Errorf("originalTexture = %q, want hero.png", orig)
	}

	if err := r.board.Move(r.ctx, "hero", 700, 800); err != nil {
		t.Fatal(err)
	}

	r.setMode(false)
	doc = hero.Document()
	if doc.X != 100 || doc.Y != 200 || doc.TextureSrc != "hero.png" {
		t.Errorf("battle doc = %+v, want (100,200) hero.png", doc)
	}
	if r.flagSet(TokenRef("hero"), FlagOriginalTexture) {
		t.Error("originalTexture should be cleared after restore")
	}
	if pos, _ := r.vecFlag(TokenRef("hero"), FlagCinematicPos); pos != (Vec2{X: 700, Y: 800}) {
		t.Errorf("cinematicPos = %+v, want the staged (700,800)", pos)
	}

	r.setMode(true)
	if doc := hero.Document(); doc.X != 700 || doc.Y != 800 {
		t.Errorf("re-staged at (%v,%v), want (700,800)", doc.X, doc.Y)
	}
}

func TestSetModeSnapshotIsIdempotent(t *testing.T) {
	r := newRig(t)
	r.addToken("t", TokenDocument{X: 10, Y: 20, TextureSrc: "hero.png"})

	r.setMode(true)
	if err := r.board.Move(r.ctx, "t", 300, 300); err != nil {
		t.Fatal(err)
	}
	r.setMode(true)

	if pos, _ := r.vecFlag(TokenRef("t"), FlagBattlePos); pos != (Vec2{X: 10, Y: 20}) {
		t.Errorf("battlePos = %+v, want the first snapshot (10,20)", pos)
	}
}

func TestSetModeWithoutStagedPositionSkipsTeleport(t *testing.T) {
	r := newRig(t)
	tok := r.addToken("t", TokenDocument{X: 10, Y: 20, TextureSrc: "hero.png"})

	r.setMode(true)
	if n := r.tokens.count("t"); n != 0 {
		t.Errorf("updates = %d, want 0", n)
	}
	if doc := tok.Document(); doc.X != 10 || doc.Y != 20 {
		t.Errorf("token moved to (%v,%v)", doc.X, doc.Y)
	}
	if got := tok.Mesh().ScaleY; !approxEqual(got, 1.5, 1e-9) {
		t.Errorf("depth scale = %v, want 1.5", got)
	}

	r.setMode(false)
	if n := r.tokens.count("t"); n != 1 {
		t.Errorf("updates after restore = %d, want 1", n)
	}
}

func TestSetModeTokenFailureDoesNotStopOthers(t *testing.T) {
	r := newRig(t)
	bad := r.addToken("bad", TokenDocument{TextureSrc: "hero.png"})
	good := r.addToken("good", TokenDocument{TextureSrc: "goblin.png"})
	r.setFlag(TokenRef("bad"), FlagCinematicTexture, "missing.png")
	r.setFlag(TokenRef("bad"), FlagCinematicPos, Vec2{X: 1, Y: 1})

	r.setMode(true)

	failed := r.events.kinds(EventTokenFailed)
	if len(failed) != 1 || failed[0].TokenID != "bad" || failed[0].Err == nil {
		t.Fatalf("failure events = %+v, want one for bad", failed)
	}
	if r.ctrl.Mode() != ModeCinematic {
		t.Error("transition should complete despite a token failure")
	}
	if bad.Mesh().Alpha != 1 || good.Mesh().Alpha != 1 {
		t.Errorf("alphas = (%v,%v), want both revealed", bad.Mesh().Alpha, good.Mesh().Alpha)
	}
	if doc := bad.Document(); doc.TextureSrc != "hero.png" || doc.X != 0 {
		t.Errorf("failed update changed the token: %+v", doc)
	}
	if !strings.Contains(r.logs.String(), "token transition failed") {
		t.Error("failure was not logged")
	}
}

func TestSetModeAsPlayerWritesNothing(t *testing.T) {
	r := newRig(t, asPlayer())
	tok := r.addToken("t", TokenDocument{X: 10, Y: 20, TextureSrc: "hero.png"})
	r.setFlag(TokenRef("t"), FlagCinematicTexture, "portrait.png")

	r.setMode(true)
	if r.flagSet(TokenRef("t"), FlagBattlePos) || r.flagSet(TokenRef("t"), FlagOriginalTexture) {
		t.Error("player wrote token attributes")
	}
	if r.flagSet(SceneRef("scene"), FlagActive) {
		t.Error("player wrote the scene mode")
	}
	if n := r.tokens.count("t"); n != 0 {
		t.Errorf("player issued %d updates", n)
	}
	if got := tok.Mesh().ScaleY; !approxEqual(got, 1.5, 1e-9) {
		t.Errorf("depth scale = %v, want 1.5 locally", got)
	}
	var free bool
	_ = r.settings.Get(r.ctx, CoreNamespace, SettingUnconstrainedMove, &free)
	if free {
		t.Error("player changed the movement setting")
	}

	r.setMode(false)
	if r.flagSet(TokenRef("t"), FlagCinematicPos) {
		t.Error("player wrote the staged position")
	}
}

func TestSetModePersistsActive(t *testing.T) {
	r := newRig(t)
	r.setMode(true)
	if v, _, _ := readFlag[bool](r.ctx, r.flags, SceneRef("scene"), FlagActive); !v {
		t.Error("active = false after activation")
	}
	r.setMode(false)
	if v, _, _ := readFlag[bool](r.ctx, r.flags, SceneRef("scene"), FlagActive); v {
		t.Error("active = true after deactivation")
	}
}

func TestSetModeMovementSetting(t *testing.T) {
	get := func(r *rig) bool {
		var v bool
		if err := r.settings.Get(r.ctx, CoreNamespace, SettingUnconstrainedMove, &v); err != nil {
			t.Fatal(err)
		}
		return v
	}

	r := newRig(t)
	r.setMode(true)
	if !get(r) {
		t.Error("movement should be unconstrained while cinematic")
	}
	r.setMode(false)
	if get(r) {
		t.Error("movement constraint should be restored")
	}

	r = newRig(t)
	if err := r.settings.Set(r.ctx, CoreNamespace, SettingUnconstrainedMove, true); err != nil {
		t.Fatal(err)
	}
	r.setMode(true)
	r.setMode(false)
	if !get(r) {
		t.Error("a previously unconstrained setting should stay unconstrained")
	}
}

func TestMovementSettingSurvivesReload(t *testing.T) {
	r := newRig(t)
	r.setMode(true)

	// A reload drops every in-memory cache and re-enters cinematic mode from
	// the persisted active flag while the setting is still lifted.
	r.ctrl.Teardown()
	if err := r.ctrl.HandleCanvasReady(r.ctx); err != nil {
		t.Fatalf("HandleCanvasReady: %v", err)
	}
	r.setMode(false)

	var v bool
	if err := r.settings.Get(r.ctx, CoreNamespace, SettingUnconstrainedMove, &v); err != nil {
		t.Fatal(err)
	}
	if v {
		t.Error("movement constraint not restored after reload")
	}
	if r.flagSet(SceneRef("scene"), FlagPriorMovement) {
		t.Error("prior movement flag left behind after deactivation")
	}
}

func TestMovementSettingWithoutPriorIsConstrained(t *testing.T) {
	r := newRig(t)
	if err := r.settings.Set(r.ctx, CoreNamespace, SettingUnconstrainedMove, true); err != nil {
		t.Fatal(err)
	}
	// Battle mode with no kept value: the constraint comes back.
	r.setMode(true)
	if err := r.flags.UnsetFlag(r.ctx, SceneRef("scene"), FlagPriorMovement); err != nil {
		t.Fatal(err)
	}
	r.setMode(false)
	var v bool
	if err := r.settings.Get(r.ctx, CoreNamespace, SettingUnconstrainedMove, &v); err != nil {
		t.Fatal(err)
	}
	if v {
		t.Error("deactivation without a kept value should constrain movement")
	}
}

func TestSetModeCameraRoundTrip(t *testing.T) {
	r := newRig(t)
	r.stage.Camera().SnapTo(10, 20, 0.5)

	r.setMode(true)
	if v := r.stage.Camera().View(); v != (CameraView{PivotX: 500, PivotY: 500, Scale: 1}) {
		t.Errorf("framed view = %+v, want {500 500 1}", v)
	}
	r.setMode(false)
	if v := r.stage.Camera().View(); v != (CameraView{PivotX: 10, PivotY: 20, Scale: 0.5}) {
		t.Errorf("restored view = %+v, want {10 20 0.5}", v)
	}
}

func TestSetModeLayersVisionAndBackground(t *testing.T) {
	r := newRig(t)
	r.setFlag(SceneRef("scene"), FlagCinematicBg, "tavern.png")

	r.setMode(true)
	assertLayers(t, r.stage, false)
	if r.ctrl.Background().Background() == nil {
		t.Error("background missing")
	}
	if !r.lights.GlobalLight() {
		t.Error("vision override not applied")
	}

	r.setMode(false)
	assertLayers(t, r.stage, true)
	if r.ctrl.Background().Background() != nil {
		t.Error("background still present")
	}
	if r.lights.GlobalLight() {
		t.Error("vision not restored")
	}
}

func TestSetModeAlpha(t *testing.T) {
	r := newRig(t)
	shown := r.addToken("shown", TokenDocument{TextureSrc: "hero.png"})
	hidden := r.addToken("hidden", TokenDocument{TextureSrc: "hero.png", Hidden: true})

	r.setMode(true)
	if shown.Mesh().Alpha != 1 || hidden.Mesh().Alpha != 1 {
		t.Errorf("staged alphas = (%v,%v), want (1,1)", shown.Mesh().Alpha, hidden.Mesh().Alpha)
	}
	r.setMode(false)
	if shown.Mesh().Alpha != 1 || hidden.Mesh().Alpha != 0.5 {
		t.Errorf("battle alphas = (%v,%v), want (1,0.5)", shown.Mesh().Alpha, hidden.Mesh().Alpha)
	}
	if shown.Mesh().ScaleX != 1 || shown.Mesh().Rotation != 0 {
		t.Error("battle mesh transform not restored")
	}
}

func TestSetModeEvents(t *testing.T) {
	r := newRig(t)
	if err := r.ctrl.SetMode(r.ctx, true, ModeOptions{Skin: "noir"}); err != nil {
		t.Fatal(err)
	}
	p := r.ctrl.Presentation()
	if !p.Has(ClassCinematic) || !p.Has(SkinClassPrefix+"noir") {
		t.Errorf("classes = %v", p.Classes())
	}

	r.setMode(true)
	if p.Has(SkinClassPrefix + "noir") {
		t.Error("old skin class should be replaced")
	}

	r.setMode(false)
	if len(p.Classes()) != 0 {
		t.Errorf("classes after deactivation = %v", p.Classes())
	}

	modes := r.events.kinds(EventModeChanged)
	if len(modes) != 3 || modes[0].Mode != ModeCinematic || modes[2].Mode != ModeBattle {
		t.Errorf("mode events = %+v", modes)
	}
	if n := len(r.events.kinds(EventPresentationChanged)); n != 3 {
		t.Errorf("presentation events = %d, want 3", n)
	}
}

func TestSetModeSuppressesTeleportDiagnostic(t *testing.T) {
	r := newRig(t)
	r.addToken("t", TokenDocument{TextureSrc: "hero.png"})
	r.setFlag(TokenRef("t"), FlagCinematicPos, Vec2{X: 300, Y: 300})

	r.setMode(true)
	r.setMode(false)
	if strings.Contains(r.logs.String(), CodeTeleportDeprecated) {
		t.Errorf("teleport diagnostic leaked: %s", r.logs.String())
	}
}

func TestSetModeSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	r := newRig(t, withOption(WithTracerProvider(tp)))
	r.addToken("a", TokenDocument{TextureSrc: "hero.png"})
	r.addToken("b", TokenDocument{TextureSrc: "hero.png"})

	r.setMode(true)

	var modes, tokens int
	for _, s := range sr.Ended() {
		switch s.Name() {
		case "cinema.SetMode":
			modes++
		case "cinema.token":
			tokens++
		}
	}
	if modes != 1 || tokens != 2 {
		t.Errorf("spans = (%d SetMode, %d token), want (1, 2)", modes, tokens)
	}
}

func TestSetModeCancelled(t *testing.T) {
	r := newRig(t, withCfg(func(s *Settings) { s.SettleDelay = time.Hour }))
	ctx, cancel := context.WithCancel(r.ctx)
	cancel()
	if err := r.ctrl.SetMode(ctx, true, ModeOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSetModeManyTokens(t *testing.T) {
	r := newRig(t, withCfg(func(s *Settings) { s.TokenConcurrency = 3 }))
	for i := range 20 {
		r.addToken(string(rune('a'+i)), TokenDocument{X: float64(i), TextureSrc: "hero.png"})
	}
	r.setMode(true)
	for i := range 20 {
		id := string(rune('a' + i))
		if pos, ok := r.vecFlag(TokenRef(id), FlagBattlePos); !ok || pos.X != float64(i) {
			t.Errorf("token %s battlePos = %+v (set %v)", id, pos, ok)
		}
	}
}

func TestToggle(t *testing.T) {
	r := newRig(t)
	if err := r.ctrl.Toggle(r.ctx); err != nil {
		t.Fatal(err)
	}
	if !r.ctrl.Cinematic() {
		t.Error("Toggle should activate")
	}
	if err := r.ctrl.Toggle(r.ctx); err != nil {
		t.Fatal(err)
	}
	if r.ctrl.Mode() != ModeBattle {
		t.Error("second Toggle should deactivate")
	}

	p := newRig(t, asPlayer())
	if err := p.ctrl.Toggle(p.ctx); !errors.Is(err, ErrNotPrivileged) {
		t.Errorf("player Toggle err = %v, want ErrNotPrivileged", err)
	}
}

func TestQuickZoom(t *testing.T) {
	r := newRig(t, withCfg(func(s *Settings) { s.QuickZoomDebounce = 20 * time.Millisecond }))
	tok := r.addToken("t", TokenDocument{TextureSrc: "hero.png"})

	if v, err := r.ctrl.QuickZoom(r.ctx, "t", 0.05); err != nil || v != 1 {
		t.Fatalf("QuickZoom in battle = (%v, %v), want (1, nil)", v, err)
	}
	if _, ok := r.ctrl.Memory().Preview("t"); ok {
		t.Fatal("battle quick zoom left a preview")
	}

	r.setMode(true)
	var v float64
	for range 3 {
		var err error
		if v, err = r.ctrl.QuickZoom(r.ctx, "t", 0.05); err != nil {
			t.Fatal(err)
		}
	}
	if v != 1.15 {
		t.Errorf("zoom = %v, want 1.15", v)
	}
	if got := tok.Mesh().ScaleY; !approxEqual(got, 1.5*1.15, 1e-9) {
		t.Errorf("scale = %v, want %v", got, 1.5*1.15)
	}

	eventually(t, func() bool {
		s, ok, _ := readFlag[float64](r.ctx, r.flags, TokenRef("t"), FlagCinematicScale)
		return ok && s == 1.15
	})
	eventually(t, func() bool {
		_, ok := r.ctrl.Memory().Preview("t")
		return !ok
	})

	if v, _ := r.ctrl.QuickZoom(r.ctx, "t", -10); v != 0.1 {
		t.Errorf("zoom = %v, want clamped to 0.1", v)
	}
}

func TestQuickZoomUnknownToken(t *testing.T) {
	r := newRig(t)
	if _, err := r.ctrl.QuickZoom(r.ctx, "nope", 0.05); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("err = %v, want ErrTokenNotFound", err)
	}
}

func TestQuickZoomPlayerNotPersisted(t *testing.T) {
	r := newRig(t, asPlayer(), withCfg(func(s *Settings) { s.QuickZoomDebounce = 5 * time.Millisecond }))
	r.addToken("t", TokenDocument{TextureSrc: "hero.png"})
	r.setMode(true)

	if _, err := r.ctrl.QuickZoom(r.ctx, "t", 0.1); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if r.flagSet(TokenRef("t"), FlagCinematicScale) {
		t.Error("player quick zoom was persisted")
	}
	if v, ok := r.ctrl.Memory().Preview("t"); !ok || v != 1.1 {
		t.Errorf("preview = (%v, %v), want (1.1, true)", v, ok)
	}
}

func TestTeardown(t *testing.T) {
	r := newRig(t, withCfg(func(s *Settings) { s.QuickZoomDebounce = time.Hour }))
	r.addToken("t", TokenDocument{TextureSrc: "hero.png"})
	r.setFlag(SceneRef("scene"), FlagCinematicBg, "tavern.png")
	r.setMode(true)
	if _, err := r.ctrl.QuickZoom(r.ctx, "t", 0.1); err != nil {
		t.Fatal(err)
	}

	r.ctrl.Teardown()
	if r.ctrl.Background().Background() != nil {
		t.Error("background survived teardown")
	}
	if _, ok := r.ctrl.Framer().Saved(); ok {
		t.Error("saved view survived teardown")
	}
	if r.ctrl.Vision().Active() {
		t.Error("vision override survived teardown")
	}
	if _, ok := r.ctrl.Memory().Preview("t"); ok {
		t.Error("preview survived teardown")
	}
}

func TestTeardownRestoresVision(t *testing.T) {
	r := newRig(t)
	r.lights.SetGlobalLight(false)
	r.setMode(true)

	r.ctrl.Teardown()
	if r.lights.GlobalLight() {
		t.Fatal("teardown kept the forced global light")
	}

	// The next load caches the real value again, so leaving restores darkness.
	if err := r.ctrl.HandleCanvasReady(r.ctx); err != nil {
		t.Fatal(err)
	}
	if !r.lights.GlobalLight() {
		t.Fatal("reloaded cinematic scene should be lit")
	}
	r.setMode(false)
	if r.lights.GlobalLight() {
		t.Error("global light not restored after reload")
	}
}

func TestReloadSettingsUnregistered(t *testing.T) {
	r := newRig(t)
	other := NewMemorySettings()
	r.ctrl.host.Settings = other
	if err := r.ctrl.ReloadSettings(r.ctx); !errors.Is(err, ErrSettingNotRegistered) {
		t.Errorf("err = %v, want ErrSettingNotRegistered", err)
	}
}
