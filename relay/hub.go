// Package relay fans durable attribute changes out to every connected viewer
// over websockets, so late joiners and remote viewers converge on the same
// scene mode.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phanxgames/cinema"
)

const writeWait = 5 * time.Second

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(data)
}

func (s *subscriber) writeLocked(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks connected viewers.
type Hub struct {
	log *slog.Logger

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{log: logger, subscribers: make(map[*subscriber]struct{})}
}

// Len returns the number of connected viewers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[s]
	delete(h.subscribers, s)
	h.mu.Unlock()
	if ok {
		_ = s.conn.Close()
	}
}

// Publish sends fc to every viewer. Viewers whose write fails are dropped.
func (h *Hub) Publish(fc cinema.FlagChange) error {
	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		if err := s.write(data); err != nil {
			h.log.Warn("dropping viewer", "component", "relay", "err", err)
			h.remove(s)
		}
	}
	return nil
}

type broadcastStore struct {
	cinema.FlagStore
	hub *Hub
}

// Broadcast wraps store so every successful write is published on hub.
func Broadcast(store cinema.FlagStore, hub *Hub) cinema.FlagStore {
	return &broadcastStore{FlagStore: store, hub: hub}
}

func (b *broadcastStore) SetFlag(ctx context.Context, ref cinema.EntityRef, key string, value any) error {
	if err := b.FlagStore.SetFlag(ctx, ref, key, value); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	return b.hub.Publish(cinema.FlagChange{Entity: ref, Key: key, Value: raw})
}

func (b *broadcastStore) UnsetFlag(ctx context.Context, ref cinema.EntityRef, key string) error {
	if err := b.FlagStore.UnsetFlag(ctx, ref, key); err != nil {
		return err
	}
	return b.hub.Publish(cinema.FlagChange{Entity: ref, Key: key, Unset: true})
}
