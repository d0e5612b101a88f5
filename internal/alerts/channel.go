package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/obsidianstack/devicealert/pkg/types"
)

// evaluateChannel formats the alert for a channel message.
func evaluateChannel(rs RuleSet, ev types.MessageEvent, name string) Plan {
	plan := Plan{Kind: KindChannel}

	text, err := Render(KindChannel, rs.ChannelTemplate, map[string]string{
		"channel": ev.ChannelName,
		"data":    formatData(ev.Data),
		"device":  name,
	})
	if err != nil {
		plan.Err = err
		return plan
	}

	plan.Decision = &Decision{
		Kind:    KindChannel,
		Title:   "Channel Alert: " + ev.ChannelName,
		Text:    text,
		Color:   ColorSuccess,
		StatKey: StatChannelAlerts,
	}
	return plan
}

// formatData renders a message payload: objects are pretty-printed with a
// two-space indent, strings are used verbatim, other values are compact JSON.
// HTML characters are left unescaped.
func formatData(data any) string {
	switch d := data.(type) {
	case nil:
		return ""
	case string:
		return d
	case map[string]any:
		s, err := encodeJSON(d, "  ")
		if err != nil {
			return fmt.Sprint(d)
		}
		return s
	case json.RawMessage:
		var v any
		if err := json.Unmarshal(d, &v); err != nil {
			return string(d)
		}
		return formatData(v)
	default:
		s, err := encodeJSON(d, "")
		if err != nil {
			return fmt.Sprint(d)
		}
		return s
	}
}

func encodeJSON(v any, indent string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
