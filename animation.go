package cinema

import (
	"time"

	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// TweenGroup animates up to 4 float64 fields simultaneously. The group
// auto-applies values and marks the target node dirty. If the target node is
// disposed, the group stops immediately.
type TweenGroup struct {
	tweens [4]*gween.Tween
	count  int
	fields [4]*float64
	target *Node
	done   chan struct{}
	Done   bool
}

func newTweenGroup(target *Node) *TweenGroup {
	return &TweenGroup{target: target, done: make(chan struct{})}
}

func (g *TweenGroup) add(field *float64, to float64, duration float32, fn ease.TweenFunc) {
	g.tweens[g.count] = gween.New(float32(*field), float32(to), duration, fn)
	g.fields[g.count] = field
	g.count++
}

// Update advances all tweens by dt seconds and writes values to the target
// fields. Completion closes the channel returned by Wait.
func (g *TweenGroup) Update(dt float32) {
	if g.Done {
		return
	}
	if g.target != nil && g.target.IsDisposed() {
		g.finish()
		return
	}

	allDone := true
	for i := 0; i < g.count; i++ {
		val, finished := g.tweens[i].Update(dt)
		*g.fields[i] = float64(val)
		if !finished {
			allDone = false
		}
	}
	if g.target != nil {
		g.target.MarkDirty()
	}
	if allDone {
		g.finish()
	}
}

// Wait returns a channel closed when the group completes or is cancelled.
func (g *TweenGroup) Wait() <-chan struct{} {
	return g.done
}

func (g *TweenGroup) finish() {
	if g.Done {
		return
	}
	g.Done = true
	close(g.done)
}

// TweenAlpha creates a TweenGroup that animates node.Alpha to the target value.
func TweenAlpha(node *Node, to float64, duration float32, fn ease.TweenFunc) *TweenGroup {
	g := newTweenGroup(node)
	g.add(&node.Alpha, to, duration, fn)
	return g
}

// TweenScale creates a TweenGroup that animates node.ScaleX and node.ScaleY.
func TweenScale(node *Node, toSX, toSY float64, duration float32, fn ease.TweenFunc) *TweenGroup {
	g := newTweenGroup(node)
	g.add(&node.ScaleX, toSX, duration, fn)
	g.add(&node.ScaleY, toSY, duration, fn)
	return g
}

// Animator runs named tween groups. Starting a group under a name that is
// already running cancels the previous one, so "FadeIn-<token>" never has two
// writers. It is advanced by Stage.Update and is not safe for concurrent use;
// the stage lock serializes access.
type Animator struct {
	active map[string]*TweenGroup
}

// NewAnimator creates an empty animator.
func NewAnimator() *Animator {
	return &Animator{active: make(map[string]*TweenGroup)}
}

// Start registers g under name, cancelling any group already running under
// that name, and returns g's completion channel.
func (a *Animator) Start(name string, g *TweenGroup) <-chan struct{} {
	if prev, ok := a.active[name]; ok {
		prev.finish()
	}
	a.active[name] = g
	return g.done
}

// Animate tweens *field to `to` over d. target, when non-nil, is marked
// dirty every step and stops the tween when disposed. A non-positive duration
// applies the value immediately and returns an already-closed channel.
func (a *Animator) Animate(name string, target *Node, field *float64, to float64, d time.Duration, fn ease.TweenFunc) <-chan struct{} {
	if d <= 0 {
		a.Stop(name)
		*field = to
		if target != nil {
			target.MarkDirty()
		}
		g := newTweenGroup(target)
		g.finish()
		return g.done
	}
	g := newTweenGroup(target)
	g.add(field, to, float32(d.Seconds()), fn)
	return a.Start(name, g)
}

// Fade animates node.Alpha to `to` over d, linearly.
func (a *Animator) Fade(name string, node *Node, to float64, d time.Duration) <-chan struct{} {
	return a.Animate(name, node, &node.Alpha, to, d, ease.Linear)
}

// Stop cancels the named group, leaving its fields at their current values.
func (a *Animator) Stop(name string) {
	if g, ok := a.active[name]; ok {
		g.finish()
		delete(a.active, name)
	}
}

// Running reports whether a group is registered under name.
func (a *Animator) Running(name string) bool {
	_, ok := a.active[name]
	return ok
}

// Update advances every running group by dt seconds and forgets finished ones.
func (a *Animator) Update(dt float32) {
	for name, g := range a.active {
		g.Update(dt)
		if g.Done {
			delete(a.active, name)
		}
	}
}
