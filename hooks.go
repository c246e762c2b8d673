package cinema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Scene moods.
const (
	MoodNormal = "Normal"
	MoodNoir   = "Noir"
	MoodBlood  = "Blood"
)

// SceneChange is the part of a scene update the controller reacts to. Nil
// fields did not change.
type SceneChange struct {
	Active     *bool
	Background *string
	Mood       *string
	ViewMode   *ViewMode
}

// SceneChangeFromFlag converts a committed scene flag write into a
// SceneChange. It reports false for token flags, keys the controller does not
// react to, and undecodable values.
func SceneChangeFromFlag(fc FlagChange) (SceneChange, bool) {
	var ch SceneChange
	if fc.Entity.Kind != EntityScene {
		return ch, false
	}
	decode := func(dst any) bool {
		if fc.Unset {
			return true
		}
		return json.Unmarshal(fc.Value, dst) == nil
	}
	switch fc.Key {
	case FlagActive:
		var v bool
		if !decode(&v) {
			return ch, false
		}
		ch.Active = &v
	case FlagCinematicBg:
		var v string
		if !decode(&v) {
			return ch, false
		}
		ch.Background = &v
	case FlagMood:
		var v string
		if !decode(&v) {
			return ch, false
		}
		ch.Mood = &v
	case FlagViewMode:
		var v ViewMode
		if !decode(&v) {
			return ch, false
		}
		ch.ViewMode = &v
	default:
		return ch, false
	}
	return ch, true
}

// HandleCanvasReady brings a freshly loaded scene to its persisted mode: it
// is cinematic if the active attribute is set or the scene's default view is
// cinematic. The camera snaps rather than pans.
func (c *Controller) HandleCanvasReady(ctx context.Context) error {
	ref := c.sceneRef()
	active, _, err := readFlag[bool](ctx, c.host.Flags, ref, FlagActive)
	if err != nil {
		return fmt.Errorf("read scene mode: %w", err)
	}
	view, _, err := readFlag[ViewMode](ctx, c.host.Flags, ref, FlagViewMode)
	if err != nil {
		return fmt.Errorf("read view mode: %w", err)
	}
	mood, _, err := readFlag[string](ctx, c.host.Flags, ref, FlagMood)
	if err != nil {
		c.log.WarnContext(ctx, "read mood", "component", "hooks", "err", err)
	}
	c.applyMood(mood)

	switch {
	case active || view == ViewCinematic:
		return c.SetMode(ctx, true, ModeOptions{IsInitialLoad: true})
	case c.Mode() == ModeCinematic:
		return c.SetMode(ctx, false, ModeOptions{IsInitialLoad: true})
	}
	return nil
}

// HandleSceneUpdate reacts to a change of the scene document. A mode change
// runs SetMode only when it differs from the requested mode; a background
// change while cinematic re-composites. Vision is re-enforced every time.
func (c *Controller) HandleSceneUpdate(ctx context.Context, ch SceneChange) error {
	if ch.Mood != nil {
		c.applyMood(*ch.Mood)
	}
	var err error
	switch {
	case ch.Active != nil && *ch.Active != c.targetCinematic():
		err = c.SetMode(ctx, *ch.Active, ModeOptions{})
	case ch.Background != nil:
		// Serialized with SetMode so a deactivation cannot destroy the
		// drawable between the check and the composite.
		c.transition.Lock()
		if c.Cinematic() {
			c.background.Set(ctx, true, *ch.Background)
		}
		c.transition.Unlock()
	}
	c.vision.Enforce()
	return err
}

// HandleFlagChange reacts to a flag write that did not go through the
// controller, typically one delivered by the relay. Token writes drop the
// cached scale attributes and re-apply the depth scale; scene writes are
// forwarded to HandleSceneUpdate.
func (c *Controller) HandleFlagChange(ctx context.Context, fc FlagChange) error {
	if fc.Entity.Kind == EntityToken {
		c.memory.Forget(fc.Entity.ID)
		if t, ok := c.host.Tokens.Token(fc.Entity.ID); ok {
			c.depth.Apply(ctx, t)
		}
		return nil
	}
	if ch, ok := SceneChangeFromFlag(fc); ok {
		return c.HandleSceneUpdate(ctx, ch)
	}
	return nil
}

// HandleTokenUpdate keeps the staged position of a token that moved while the
// scene is cinematic and re-applies its depth scale.
func (c *Controller) HandleTokenUpdate(ctx context.Context, t Token, moved bool) error {
	c.memory.Forget(t.ID())
	if !c.Cinematic() {
		return nil
	}
	if moved && c.host.User.GM {
		doc := t.Document()
		if err := c.memory.SetCinematicPos(ctx, t.ID(), Vec2{X: doc.X, Y: doc.Y}); err != nil {
			return err
		}
	}
	c.depth.Apply(ctx, t)
	return nil
}

// HandleTokenRefresh re-applies the depth scale. It runs on every token
// redraw.
func (c *Controller) HandleTokenRefresh(ctx context.Context, t Token) {
	c.depth.Apply(ctx, t)
}

// applyMood swaps the filter class and the stage grade for mood. Unknown
// moods and MoodNormal clear both.
func (c *Controller) applyMood(mood string) {
	var class string
	switch mood {
	case MoodNoir, MoodBlood:
		class = FilterPrefix + strings.ToLower(mood)
	}
	c.presentation.Update([]string{FilterPrefix}, class)
	c.host.Stage.SetGrade(MoodGrade(mood))
}
