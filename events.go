package cinema

import (
	"slices"
	"sort"
	"strings"
	"sync"
)

// Presentation class names.
const (
	ClassCinematic  = "cinematic-mode"
	SkinClassPrefix = "cinematic-skin-"
	FilterPrefix    = "filter-"
	DefaultSkin     = "default"
)

// EventKind identifies a controller event.
type EventKind uint8

const (
	EventModeChanged EventKind = iota
	EventPresentationChanged
	EventTokenFailed
)

func (k EventKind) String() string {
	switch k {
	case EventModeChanged:
		return "mode_changed"
	case EventPresentationChanged:
		return "presentation_changed"
	case EventTokenFailed:
		return "token_failed"
	}
	return "unknown"
}

// Event is published to every EventSink the controller was created with.
type Event struct {
	Kind    EventKind
	Mode    Mode
	Classes []string
	TokenID string
	Err     error
}

// EventSink receives controller events. Notify must not block.
type EventSink interface {
	Notify(Event)
}

// EventFunc adapts a function to EventSink.
type EventFunc func(Event)

func (f EventFunc) Notify(e Event) { f(e) }

// Presentation is the set of presentation classes UI layers key off. Every
// change publishes EventPresentationChanged.
type Presentation struct {
	mu      sync.Mutex
	classes map[string]struct{}
	notify  func(Event)
}

func newPresentation(notify func(Event)) *Presentation {
	return &Presentation{classes: make(map[string]struct{}), notify: notify}
}

// Has reports whether class is set.
func (p *Presentation) Has(class string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.classes[class]
	return ok
}

// Classes returns the set, sorted.
func (p *Presentation) Classes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sortedLocked()
}

func (p *Presentation) sortedLocked() []string {
	out := make([]string, 0, len(p.classes))
	for c := range p.classes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Update removes every class starting with one of dropPrefixes, then adds
// add. It publishes once, and only if the set changed.
func (p *Presentation) Update(dropPrefixes []string, add ...string) {
	p.mu.Lock()
	before := p.sortedLocked()
	for c := range p.classes {
		for _, prefix := range dropPrefixes {
			if strings.HasPrefix(c, prefix) {
				delete(p.classes, c)
				break
			}
		}
	}
	for _, c := range add {
		if c != "" {
			p.classes[c] = struct{}{}
		}
	}
	after := p.sortedLocked()
	p.mu.Unlock()
	if !slices.Equal(before, after) && p.notify != nil {
		p.notify(Event{Kind: EventPresentationChanged, Classes: after})
	}
}
