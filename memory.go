package cinema

import (
	"context"
	"fmt"
	"sync"
)

// TokenMemory is the per-token snapshot of pre-transition attributes, kept
// as durable flags on the token document, plus the transient quick-zoom
// preview that is never persisted.
//
// The scale override and the persisted quick zoom are read on every refresh,
// so they are cached after the first read. Writes through TokenMemory keep
// the cache current; writes that bypass it must be reported with Forget.
//
// Callers serialize read-modify-write sequences per token; TokenMemory does
// not.
type TokenMemory struct {
	flags FlagStore

	mu      sync.Mutex
	preview map[string]float64
	scales  map[scaleKey]cachedScale
	gen     uint64
}

type scaleKey struct{ id, flag string }

type cachedScale struct {
	v  float64
	ok bool
}

// NewTokenMemory creates a memory store backed by flags.
func NewTokenMemory(flags FlagStore) *TokenMemory {
	return &TokenMemory{
		flags:   flags,
		preview: make(map[string]float64),
		scales:  make(map[scaleKey]cachedScale),
	}
}

// BattlePos returns the snapshot of the token's tactical position.
func (m *TokenMemory) BattlePos(ctx context.Context, id string) (Vec2, bool, error) {
	return readFlag[Vec2](ctx, m.flags, TokenRef(id), FlagBattlePos)
}

// SnapshotBattlePos records pos as the battle position unless one is already
// recorded. It reports whether it wrote.
func (m *TokenMemory) SnapshotBattlePos(ctx context.Context, id string, pos Vec2) (bool, error) {
	_, ok, err := m.BattlePos(ctx, id)
	if err != nil || ok {
		return false, err
	}
	if err := m.flags.SetFlag(ctx, TokenRef(id), FlagBattlePos, pos); err != nil {
		return false, fmt.Errorf("write battle position: %w", err)
	}
	return true, nil
}

// CinematicPos returns the token's last staged position.
func (m *TokenMemory) CinematicPos(ctx context.Context, id string) (Vec2, bool, error) {
	return readFlag[Vec2](ctx, m.flags, TokenRef(id), FlagCinematicPos)
}

// SetCinematicPos overwrites the staged position.
func (m *TokenMemory) SetCinematicPos(ctx context.Context, id string, pos Vec2) error {
	if err := m.flags.SetFlag(ctx, TokenRef(id), FlagCinematicPos, pos); err != nil {
		return fmt.Errorf("write cinematic position: %w", err)
	}
	return nil
}

// CinematicTexture returns the user-authored staged portrait path.
func (m *TokenMemory) CinematicTexture(ctx context.Context, id string) (string, bool, error) {
	tex, ok, err := readFlag[string](ctx, m.flags, TokenRef(id), FlagCinematicTexture)
	return tex, ok && tex != "", err
}

// OriginalTexture returns the texture path saved for the current cycle.
func (m *TokenMemory) OriginalTexture(ctx context.Context, id string) (string, bool, error) {
	tex, ok, err := readFlag[string](ctx, m.flags, TokenRef(id), FlagOriginalTexture)
	return tex, ok && tex != "", err
}

// SnapshotOriginalTexture saves src unless a texture is already saved for
// this cycle.
func (m *TokenMemory) SnapshotOriginalTexture(ctx context.Context, id, src string) error {
	_, ok, err := m.OriginalTexture(ctx, id)
	if err != nil || ok {
		return err
	}
	if err := m.flags.SetFlag(ctx, TokenRef(id), FlagOriginalTexture, src); err != nil {
		return fmt.Errorf("write original texture: %w", err)
	}
	return nil
}

// ClearOriginalTexture unsets the saved texture, ending the cycle.
func (m *TokenMemory) ClearOriginalTexture(ctx context.Context, id string) error {
	if err := m.flags.UnsetFlag(ctx, TokenRef(id), FlagOriginalTexture); err != nil {
		return fmt.Errorf("unset original texture: %w", err)
	}
	return nil
}

// ScaleOverride returns the user-authored base scale for the staged view.
func (m *TokenMemory) ScaleOverride(ctx context.Context, id string) (float64, bool, error) {
	return m.readScale(ctx, id, FlagScaleOverride)
}

// SetCinematicScale persists the quick-zoom multiplier.
func (m *TokenMemory) SetCinematicScale(ctx context.Context, id string, scale float64) error {
	if err := m.flags.SetFlag(ctx, TokenRef(id), FlagCinematicScale, scale); err != nil {
		m.Forget(id)
		return fmt.Errorf("write cinematic scale: %w", err)
	}
	m.mu.Lock()
	m.gen++
	m.scales[scaleKey{id, FlagCinematicScale}] = cachedScale{v: scale, ok: true}
	m.mu.Unlock()
	return nil
}

// Forget drops the cached scale attributes of token id. Call it when the
// token's flags change without going through TokenMemory.
func (m *TokenMemory) Forget(id string) {
	m.mu.Lock()
	m.gen++
	delete(m.scales, scaleKey{id, FlagScaleOverride})
	delete(m.scales, scaleKey{id, FlagCinematicScale})
	m.mu.Unlock()
}

// readScale reads a float flag through the cache. A read that raced a
// write or Forget is returned but not cached.
func (m *TokenMemory) readScale(ctx context.Context, id, flag string) (float64, bool, error) {
	k := scaleKey{id, flag}
	m.mu.Lock()
	e, hit := m.scales[k]
	gen := m.gen
	m.mu.Unlock()
	if hit {
		return e.v, e.ok, nil
	}

	v, ok, err := readFlag[float64](ctx, m.flags, TokenRef(id), flag)
	if err != nil {
		return v, ok, err
	}
	m.mu.Lock()
	if m.gen == gen {
		m.scales[k] = cachedScale{v: v, ok: ok}
	}
	m.mu.Unlock()
	return v, ok, nil
}

// QuickZoom returns the effective quick-zoom multiplier: the in-memory
// preview, else the persisted value, else 1.
func (m *TokenMemory) QuickZoom(ctx context.Context, id string) (float64, error) {
	if v, ok := m.Preview(id); ok {
		return v, nil
	}
	v, ok, err := m.readScale(ctx, id, FlagCinematicScale)
	if err != nil {
		return 1, err
	}
	if !ok || v == 0 {
		return 1, nil
	}
	return v, nil
}

// Preview returns the transient quick-zoom value.
func (m *TokenMemory) Preview(id string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.preview[id]
	return v, ok
}

// SetPreview sets the transient quick-zoom value.
func (m *TokenMemory) SetPreview(id string, v float64) {
	m.mu.Lock()
	m.preview[id] = v
	m.mu.Unlock()
}

// ClearPreview drops the preview if it still equals v, so a newer preview
// set while a save was in flight survives.
func (m *TokenMemory) ClearPreview(id string, v float64) {
	m.mu.Lock()
	if cur, ok := m.preview[id]; ok && cur == v {
		delete(m.preview, id)
	}
	m.mu.Unlock()
}

// reset drops every preview and cached scale.
func (m *TokenMemory) reset() {
	m.mu.Lock()
	clear(m.preview)
	clear(m.scales)
	m.gen++
	m.mu.Unlock()
}
