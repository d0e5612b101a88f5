package alerts

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/obsidianstack/devicealert/pkg/types"
)

// Persisted state keys.
const (
	KeyOfflineAlertSent    = "offline_alert_sent"
	KeyLastOfflineReminder = "last_offline_reminder"
	KeyLastError           = "last_error"
	KeyLastErrorAt         = "last_error_at"

	cooldownPrefix = "threshold_cooldown_"
)

// CooldownKey returns the state key holding a tag's last alert time.
func CooldownKey(tag string) string { return cooldownPrefix + tag }

// StateStore is per-device key/value storage. Values are bool, float64 or
// timestamp strings; Set with a nil value clears the key.
type StateStore interface {
	Get(ctx context.Context, deviceID, key string) (any, bool, error)
	Set(ctx context.Context, deviceID, key string, value any) error
}

// Swapper is implemented by stores that support conditional writes.
// A nil expected value means the key must be absent.
type Swapper interface {
	CompareAndSet(ctx context.Context, deviceID, key string, expected, next any) (bool, error)
}

// OfflinePhase is the offline lifecycle of a device.
type OfflinePhase int

const (
	PhaseOnline OfflinePhase = iota
	PhaseOfflineUnacked
	PhaseOfflineAlerted
)

func (p OfflinePhase) String() string {
	switch p {
	case PhaseOnline:
		return "online"
	case PhaseOfflineUnacked:
		return "offline_unacked"
	case PhaseOfflineAlerted:
		return "offline_alerted"
	default:
		return "unknown"
	}
}

// OfflineState is the persisted offline lifecycle of one device.
//
// Only the alerted phase is stored explicitly. A device whose alert flag is
// clear loads as PhaseOnline; evaluation promotes it to PhaseOfflineUnacked
// when the connection lookup reports it offline.
type OfflineState struct {
	Phase        OfflinePhase
	LastReminder time.Time // zero unless Phase is PhaseOfflineAlerted

	// raw values as read, used as compare-and-set expectations
	sentRaw     any
	reminderRaw any
}

// LoadOfflineState reads a device's offline state from st.
func LoadOfflineState(ctx context.Context, st StateStore, deviceID string) (OfflineState, error) {
	sent, _, err := st.Get(ctx, deviceID, KeyOfflineAlertSent)
	if err != nil {
		return OfflineState{}, err
	}
	reminder, _, err := st.Get(ctx, deviceID, KeyLastOfflineReminder)
	if err != nil {
		return OfflineState{}, err
	}

	s := OfflineState{Phase: PhaseOnline, sentRaw: sent, reminderRaw: reminder}
	if asBool(sent) {
		s.Phase = PhaseOfflineAlerted
		if t, ok := types.ParseTimestamp(reminder); ok {
			s.LastReminder = t
		}
	}
	return s, nil
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		ok, _ := strconv.ParseBool(b)
		return ok
	case float64:
		return b != 0
	default:
		return false
	}
}

// parseNumber converts a raw tag or counter value to a float64. Strings are
// parsed; bools count as 1 and 0.
func parseNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatFloat renders a parsed tag value the way it reads in alert text:
// always with a fractional part ("150.0"), switching to exponent form
// outside [1e-4, 1e16).
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	if abs := math.Abs(f); abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
