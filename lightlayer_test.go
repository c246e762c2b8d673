package cinema

import "testing"

func TestNewLightLayerCreatesNode(t *testing.T) {
	ll := NewLightLayer(256, 256, 0.7)
	defer ll.Dispose()

	node := ll.Node()
	if node == nil {
		t.Fatal("Node() should not be nil")
	}
	if node.UserData != lightLayerTag {
		t.Error("node should carry the light layer tag")
	}
}

func TestLightLayerAddRemoveLights(t *testing.T) {
	ll := NewLightLayer(64, 64, 0.5)
	defer ll.Dispose()

	l1 := &Light{X: 10, Y: 10, Radius: 20, Intensity: 1, Enabled: true}
	l2 := &Light{X: 30, Y: 30, Radius: 15, Intensity: 0.8, Enabled: true}

	ll.AddLight(l1)
	ll.AddLight(l2)
	if len(ll.Lights()) != 2 {
		t.Fatalf("Lights = %d, want 2", len(ll.Lights()))
	}

	ll.RemoveLight(l1)
	if len(ll.Lights()) != 1 {
		t.Fatalf("Lights = %d after remove, want 1", len(ll.Lights()))
	}
	if ll.Lights()[0] != l2 {
		t.Error("remaining light should be l2")
	}

	// Should not panic.
	ll.RemoveLight(l1)
}

func TestLightLayerAmbientAlphaRoundTrip(t *testing.T) {
	ll := NewLightLayer(64, 64, 0.3)
	defer ll.Dispose()

	if ll.AmbientAlpha() != 0.3 {
		t.Errorf("AmbientAlpha = %v, want 0.3", ll.AmbientAlpha())
	}
	ll.SetAmbientAlpha(0.9)
	if ll.AmbientAlpha() != 0.9 {
		t.Errorf("AmbientAlpha = %v, want 0.9", ll.AmbientAlpha())
	}
}

func TestLightLayerGlobalLightHidesDarkness(t *testing.T) {
	ll := NewLightLayer(64, 64, 0.8)
	defer ll.Dispose()

	ll.redrawIfDirty()
	if !ll.Node().Visible {
		t.Error("darkness should be visible without global light")
	}

	ll.SetGlobalLight(true)
	if !ll.GlobalLight() {
		t.Fatal("GlobalLight() = false after SetGlobalLight(true)")
	}
	ll.redrawIfDirty()
	if ll.Node().Visible {
		t.Error("darkness should be hidden under global light")
	}

	ll.SetGlobalLight(false)
	ll.redrawIfDirty()
	if !ll.Node().Visible {
		t.Error("darkness should come back when global light is lifted")
	}
}

func TestLightLayerRefreshMarksDirty(t *testing.T) {
	ll := NewLightLayer(32, 32, 0.5)
	defer ll.Dispose()

	ll.redrawIfDirty()
	if ll.dirty {
		t.Fatal("redraw should clear dirty")
	}
	ll.Refresh()
	if !ll.dirty {
		t.Error("Refresh should mark dirty")
	}
}

func TestLightLayerFollowsTarget(t *testing.T) {
	ll := NewLightLayer(128, 128, 0.5)
	defer ll.Dispose()

	target := NewContainer("token")
	target.SetPosition(40, 60)
	refreshWorld(target, identityAffine, 1, false)

	l := &Light{Radius: 10, Intensity: 1, Enabled: true, Target: target}
	ll.AddLight(l)
	ll.redrawIfDirty()

	if l.X != 40 || l.Y != 60 {
		t.Errorf("light at (%v,%v), want (40,60)", l.X, l.Y)
	}
}

func TestLightLayerCircleCache(t *testing.T) {
	ll := NewLightLayer(64, 64, 0.5)
	defer ll.Dispose()

	a := ll.getCircle(9.2)
	b := ll.getCircle(9.8)
	if a != b {
		t.Error("radii rounding to the same size should share a texture")
	}
	if w := a.Bounds().Dx(); w != 20 {
		t.Errorf("circle size = %d, want 20", w)
	}
}
