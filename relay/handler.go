package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/phanxgames/cinema"
)

// SnapshotFunc returns the current attributes a new viewer starts from.
type SnapshotFunc func(ctx context.Context) ([]cinema.FlagChange, error)

// HandlerConfig configures a Handler. A nil Logger uses slog.Default and a
// nil Snapshot starts viewers with no attributes.
type HandlerConfig struct {
	Logger   *slog.Logger
	Snapshot SnapshotFunc
}

// Handler upgrades viewers to websockets and registers them on a Hub.
type Handler struct {
	hub      *Hub
	log      *slog.Logger
	snapshot SnapshotFunc
	upgrader websocket.Upgrader
}

// NewHandler returns a Handler that registers viewers on hub. It accepts
// upgrades from any origin.
func NewHandler(hub *Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:      hub,
		log:      logger,
		snapshot: cfg.Snapshot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP sends the snapshot, then relays published changes until the
// viewer disconnects. Changes published while the snapshot is being written
// are delivered after it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "component", "relay", "err", err)
		return
	}
	sub := &subscriber{conn: conn}

	sub.mu.Lock()
	h.hub.add(sub)
	err = h.sendSnapshot(r.Context(), sub)
	sub.mu.Unlock()
	if err != nil {
		h.log.Warn("send snapshot", "component", "relay", "err", err)
		h.hub.remove(sub)
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.hub.remove(sub)
			return
		}
	}
}

func (h *Handler) sendSnapshot(ctx context.Context, sub *subscriber) error {
	if h.snapshot == nil {
		return nil
	}
	changes, err := h.snapshot(ctx)
	if err != nil {
		return err
	}
	for _, fc := range changes {
		data, err := json.Marshal(fc)
		if err != nil {
			return fmt.Errorf("encode change: %w", err)
		}
		if err := sub.writeLocked(data); err != nil {
			return err
		}
	}
	return nil
}

// Dial connects to a relay at url and hands every received change to fn
// until ctx ends or the connection fails. It returns nil when ctx ends.
func Dial(ctx context.Context, url string, fn func(cinema.FlagChange)) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read relay: %w", err)
		}
		var fc cinema.FlagChange
		if err := json.Unmarshal(payload, &fc); err != nil {
			continue
		}
		fn(fc)
	}
}
