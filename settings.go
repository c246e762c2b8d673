package cinema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrSettingNotRegistered is returned when reading or writing a setting that
// was never registered.
var ErrSettingNotRegistered = errors.New("cinema: setting not registered")

// World setting keys registered under Namespace.
const (
	SettingReferenceHeight = "referenceHeight"
	SettingMinScale        = "minScale"
	SettingMaxScale        = "maxScale"
)

// Host settings the controller reads and writes.
const (
	CoreNamespace            = "core"
	SettingUnconstrainedMove = "unconstrainedMovement"
)

// Settings is the process configuration, read from the environment.
type Settings struct {
	// ReferenceHeight is the share of the viewport height, in percent, a
	// token of footprint 1 and scale 1 occupies at depth factor 1.
	ReferenceHeight float64 `env:"CINEMA_REFERENCE_HEIGHT" envDefault:"30"`
	MinScale        float64 `env:"CINEMA_MIN_SCALE" envDefault:"0.5"`
	MaxScale        float64 `env:"CINEMA_MAX_SCALE" envDefault:"1.2"`
	// MirrorByFacing flips staged tokens that are rotated to face away.
	MirrorByFacing bool `env:"CINEMA_MIRROR_BY_FACING" envDefault:"false"`

	PanDuration  time.Duration `env:"CINEMA_PAN_DURATION" envDefault:"800ms"`
	FadeDuration time.Duration `env:"CINEMA_FADE_DURATION" envDefault:"400ms"`
	// SettleDelay is an optional pause between the movement-setting toggle
	// and the token batch. Zero disables it.
	SettleDelay time.Duration `env:"CINEMA_SETTLE_DELAY" envDefault:"0s"`

	TokenConcurrency int `env:"CINEMA_TOKEN_CONCURRENCY" envDefault:"8"`

	QuickZoomStep     float64       `env:"CINEMA_QUICK_ZOOM_STEP" envDefault:"0.05"`
	QuickZoomMin      float64       `env:"CINEMA_QUICK_ZOOM_MIN" envDefault:"0.1"`
	QuickZoomMax      float64       `env:"CINEMA_QUICK_ZOOM_MAX" envDefault:"5"`
	QuickZoomDebounce time.Duration `env:"CINEMA_QUICK_ZOOM_DEBOUNCE" envDefault:"600ms"`

	DBPath       string `env:"CINEMA_DB_PATH" envDefault:"cinema.db"`
	RelayAddr    string `env:"CINEMA_RELAY_ADDR" envDefault:":8787"`
	OTelEndpoint string `env:"CINEMA_OTEL_ENDPOINT"`
}

// LoadSettings parses Settings from the process environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

// DefaultSettings returns Settings with every default applied and the
// environment ignored.
func DefaultSettings() Settings {
	var s Settings
	if err := env.ParseWithOptions(&s, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("cinema: invalid settings defaults: %v", err))
	}
	return s
}

// SettingsStore is the host's world-settings registry.
type SettingsStore interface {
	// Register declares a setting with its default. Registering an existing
	// setting keeps its stored value.
	Register(namespace, key string, def any) error
	// Get decodes the stored value, or the default, into dst.
	Get(ctx context.Context, namespace, key string, dst any) error
	Set(ctx context.Context, namespace, key string, value any) error
}

// MemorySettings is a process-local SettingsStore.
type MemorySettings struct {
	mu       sync.RWMutex
	defaults map[string]json.RawMessage
	values   map[string]json.RawMessage
}

// NewMemorySettings creates an empty registry.
func NewMemorySettings() *MemorySettings {
	return &MemorySettings{
		defaults: make(map[string]json.RawMessage),
		values:   make(map[string]json.RawMessage),
	}
}

func settingKey(namespace, key string) string { return namespace + "." + key }

func (m *MemorySettings) Register(namespace, key string, def any) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode default %s: %w", settingKey(namespace, key), err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults[settingKey(namespace, key)] = raw
	return nil
}

func (m *MemorySettings) Get(_ context.Context, namespace, key string, dst any) error {
	k := settingKey(namespace, key)
	m.mu.RLock()
	raw, ok := m.values[k]
	if !ok {
		raw, ok = m.defaults[k]
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSettingNotRegistered, k)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode setting %s: %w", k, err)
	}
	return nil
}

func (m *MemorySettings) Set(_ context.Context, namespace, key string, value any) error {
	k := settingKey(namespace, key)
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", k, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defaults[k]; !ok {
		return fmt.Errorf("%w: %s", ErrSettingNotRegistered, k)
	}
	m.values[k] = raw
	return nil
}
