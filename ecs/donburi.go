// Package ecs provides ECS adapters for cinema.
package ecs

import (
	"sync"

	"github.com/phanxgames/cinema"

	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/features/events"
)

// EventType is the Donburi event type for controller events.
var EventType = events.NewEventType[cinema.Event]()

// DonburiSink is a cinema.EventSink backed by a Donburi world. The
// controller notifies from its own goroutines, so events are queued and only
// published into the world by Flush, which must run on the world's goroutine.
type DonburiSink struct {
	world donburi.World

	mu      sync.Mutex
	pending []cinema.Event
}

// NewDonburiSink creates a sink publishing to EventType on world.
func NewDonburiSink(world donburi.World) *DonburiSink {
	return &DonburiSink{world: world}
}

// Notify queues e.
func (s *DonburiSink) Notify(e cinema.Event) {
	s.mu.Lock()
	s.pending = append(s.pending, e)
	s.mu.Unlock()
}

// Flush publishes every queued event, in order, and returns how many it
// published. Subscribers see them on the next EventType.ProcessEvents.
func (s *DonburiSink) Flush() int {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, e := range pending {
		EventType.Publish(s.world, e)
	}
	return len(pending)
}
