package alerts

import (
	"time"

	"github.com/obsidianstack/devicealert/pkg/types"
)

// evaluateThresholds checks every rule in order against the current tag
// values. cooldowns maps tag name to the raw stored last-alert value; rules
// whose tag is missing from cooldowns are not evaluated.
func evaluateThresholds(rs RuleSet, tags map[string]any, cooldowns map[string]any, name string, now time.Time) []Plan {
	var plans []Plan
	stamp := types.FormatTimestamp(now)

	// fired tracks tags alerted on this tick so duplicate rules for the same
	// tag observe the new cooldown.
	fired := make(map[string]bool)

	for _, r := range rs.Thresholds {
		if r.Tag == "" {
			continue
		}
		raw, ok := tags[r.Tag]
		if !ok || raw == nil {
			continue
		}
		value, ok := parseNumber(raw)
		if !ok {
			continue
		}
		last, readable := cooldowns[r.Tag]
		if !readable {
			continue
		}

		plan := Plan{Kind: KindThreshold, Tag: r.Tag}

		if fired[r.Tag] {
			plan.Suppressed = reasonCooldown
			plans = append(plans, plan)
			continue
		}
		if at, ok := types.ParseTimestamp(last); ok && now.Sub(at) < r.Cooldown {
			plan.Suppressed = reasonCooldown
			plans = append(plans, plan)
			continue
		}

		var limit, title, color string
		switch {
		case r.Upper != nil && value > *r.Upper:
			limit, title, color = ">"+formatNumber(*r.Upper), "Threshold Alert: High Value", ColorWarning
		case r.Lower != nil && value < *r.Lower:
			limit, title, color = "<"+formatNumber(*r.Lower), "Threshold Alert: Low Value", ColorInfo
		default:
			continue
		}

		text, err := Render(KindThreshold, r.Template, map[string]string{
			"tag":    r.Tag,
			"value":  formatFloat(value),
			"limit":  limit,
			"device": name,
		})
		if err != nil {
			plan.Err = err
			plans = append(plans, plan)
			continue
		}

		plan.Decision = &Decision{
			Kind:    KindThreshold,
			Title:   title,
			Text:    text,
			Color:   color,
			StatKey: StatThresholdAlerts,
		}
		plan.Mutations = []Mutation{
			{Key: CooldownKey(r.Tag), Value: stamp, Guard: true, Expect: last},
		}
		fired[r.Tag] = true
		plans = append(plans, plan)
	}
	return plans
}
