// Package ecs provides ECS adapters for cinema's controller events.
//
// The primary adapter is [NewDonburiSink], which bridges controller events
// (mode changes, presentation class changes, per-token failures) into a
// [Donburi] world as typed events. Subscribe to [EventType] in your ECS
// systems to receive them.
//
// Usage:
//
//	sink := ecs.NewDonburiSink(world)
//	ctrl, err := cinema.NewController(host, cinema.WithEventSink(sink))
//
//	// in the game loop
//	sink.Flush()
//	ecs.EventType.ProcessEvents(world)
//
// [Donburi]: https://github.com/yohamta/donburi
package ecs
