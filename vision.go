package cinema

import "sync"

// VisionOverride forces the scene's global illumination on while the scene
// is cinematic and restores the prior value afterwards.
type VisionOverride struct {
	light Illumination

	mu     sync.Mutex
	cached *bool
	active bool
}

// NewVisionOverride creates an override for light. A nil light makes every
// call a no-op.
func NewVisionOverride(light Illumination) *VisionOverride {
	return &VisionOverride{light: light}
}

// SetOverride applies or lifts the override. Applying while already applied
// keeps the first cached value.
func (v *VisionOverride) SetOverride(active bool) {
	if v.light == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = active
	if active {
		if v.cached == nil {
			prev := v.light.GlobalLight()
			v.cached = &prev
			v.light.SetGlobalLight(true)
		}
	} else if v.cached != nil {
		v.light.SetGlobalLight(*v.cached)
		v.cached = nil
	}
	v.light.Refresh()
}

// Enforce re-applies the override after something outside the controller
// reset the scene's illumination.
func (v *VisionOverride) Enforce() {
	if v.light == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.active {
		return
	}
	if !v.light.GlobalLight() {
		v.light.SetGlobalLight(true)
		v.light.Refresh()
	}
}

// Active reports whether the override is applied.
func (v *VisionOverride) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

// Cached returns the value that will be restored.
func (v *VisionOverride) Cached() (bool, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cached == nil {
		return false, false
	}
	return *v.cached, true
}
