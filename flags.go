package cinema

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// EntityKind names the kind of document a flag is attached to.
type EntityKind string

const (
	EntityScene EntityKind = "scene"
	EntityToken EntityKind = "token"
)

// EntityRef addresses one scene or token document.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// SceneRef returns a reference to the scene with the given id.
func SceneRef(id string) EntityRef { return EntityRef{Kind: EntityScene, ID: id} }

// TokenRef returns a reference to the token with the given id.
func TokenRef(id string) EntityRef { return EntityRef{Kind: EntityToken, ID: id} }

func (r EntityRef) String() string { return string(r.Kind) + "/" + r.ID }

// FlagStore is the durable, namespaced attribute API on scene and token
// documents. Values are JSON. Every store is bound to Namespace.
type FlagStore interface {
	// GetFlag returns the raw value and whether the key is set.
	GetFlag(ctx context.Context, ref EntityRef, key string) (json.RawMessage, bool, error)
	// SetFlag marshals value and stores it under key.
	SetFlag(ctx context.Context, ref EntityRef, key string, value any) error
	// UnsetFlag removes the key entirely. Unsetting a missing key is not an error.
	UnsetFlag(ctx context.Context, ref EntityRef, key string) error
}

// FlagChange describes one committed write to a FlagStore. It is the frame
// the relay fans out to every connected viewer.
type FlagChange struct {
	Entity EntityRef       `json:"entity"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value,omitempty"`
	Unset  bool            `json:"unset,omitempty"`
}

// readFlag loads key into a T. A missing key yields the zero value and false.
func readFlag[T any](ctx context.Context, fs FlagStore, ref EntityRef, key string) (T, bool, error) {
	var v T
	raw, ok, err := fs.GetFlag(ctx, ref, key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode flag %s %s: %w", ref, key, err)
	}
	return v, true, nil
}

// MemoryFlags is a process-local FlagStore. It is safe for concurrent use.
type MemoryFlags struct {
	mu    sync.RWMutex
	flags map[EntityRef]map[string]json.RawMessage
}

// NewMemoryFlags creates an empty store.
func NewMemoryFlags() *MemoryFlags {
	return &MemoryFlags{flags: make(map[EntityRef]map[string]json.RawMessage)}
}

func (m *MemoryFlags) GetFlag(_ context.Context, ref EntityRef, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.flags[ref][key]
	return raw, ok, nil
}

func (m *MemoryFlags) SetFlag(_ context.Context, ref EntityRef, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode flag %s %s: %w", ref, key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entity, ok := m.flags[ref]
	if !ok {
		entity = make(map[string]json.RawMessage)
		m.flags[ref] = entity
	}
	entity[key] = raw
	return nil
}

func (m *MemoryFlags) UnsetFlag(_ context.Context, ref EntityRef, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flags[ref], key)
	return nil
}

// Snapshot returns a copy of every flag set on ref.
func (m *MemoryFlags) Snapshot(ref EntityRef) map[string]json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(m.flags[ref]))
	for k, v := range m.flags[ref] {
		out[k] = v
	}
	return out
}

// Apply writes a change received from another viewer without re-publishing it.
func (m *MemoryFlags) Apply(c FlagChange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Unset {
		delete(m.flags[c.Entity], c.Key)
		return
	}
	entity, ok := m.flags[c.Entity]
	if !ok {
		entity = make(map[string]json.RawMessage)
		m.flags[c.Entity] = entity
	}
	entity[c.Key] = c.Value
}
