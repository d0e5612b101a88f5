package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/obsidianstack/devicealert/internal/config"
	"github.com/obsidianstack/devicealert/pkg/types"
)

// ErrUnsupportedBackend is returned by Open for an unknown backend name.
var ErrUnsupportedBackend = errors.New("store: unsupported backend")

// ErrUnsupportedValue is returned when a value is not a storable scalar.
var ErrUnsupportedValue = errors.New("store: unsupported value type")

// DeviceSummary describes the state held for one device.
type DeviceSummary struct {
	DeviceID  string    `json:"device_id"`
	Keys      int       `json:"keys"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a per-device key/value state store.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, deviceID, key string) (any, bool, error)

	// Set writes value to key; a nil value removes the key.
	Set(ctx context.Context, deviceID, key string, value any) error

	// CompareAndSet writes next only if the current value equals expected.
	// A nil expected requires the key to be absent; a nil next removes it.
	CompareAndSet(ctx context.Context, deviceID, key string, expected, next any) (bool, error)

	// Snapshot returns every key held for a device.
	Snapshot(ctx context.Context, deviceID string) (map[string]any, error)

	// Devices lists the devices that have state, ordered by ID.
	Devices(ctx context.Context) ([]DeviceSummary, error)

	Close() error
}

// Open returns the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StateConfig) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemory(), nil
	case "postgres", "mysql", "sqlserver":
		return OpenSQL(ctx, cfg.Backend, cfg.DSN())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Backend)
	}
}

// Canonical converts v to the stored scalar form: integers and floats
// become float64, times become RFC 3339 UTC strings.
func Canonical(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool, string, float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		return f, nil
	case time.Time:
		return types.FormatTimestamp(x), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// encode returns the JSON text stored for a canonical value.
func encode(v any) (string, error) {
	c, err := Canonical(v)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("store: decode value: %w", err)
	}
	return v, nil
}
