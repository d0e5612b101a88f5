package alerts

import (
	"time"

	"github.com/obsidianstack/devicealert/internal/config"
)

// Kind identifies an alert class.
type Kind string

const (
	KindChannel   Kind = "channel"
	KindOffline   Kind = "offline"
	KindThreshold Kind = "threshold"
)

// Notification colors.
const (
	ColorSuccess = "#36a64f"
	ColorFailure = "#ff0000"
	ColorWarning = "#ff9900"
	ColorInfo    = "#0066ff"
)

// Statistics counters incremented on successful delivery.
const (
	StatChannelAlerts   = "channel_alerts_sent"
	StatOfflineAlerts   = "offline_alerts_sent"
	StatThresholdAlerts = "threshold_alerts_sent"
)

// UnknownDevice is reported when device names are disabled.
const UnknownDevice = "Unknown Device"

// Destination is the webhook every decision is sent to.
type Destination struct {
	Type     string
	URL      string
	Username string
	Channel  string
	Timeout  time.Duration
}

// Configured reports whether a webhook URL is set.
func (d Destination) Configured() bool { return d.URL != "" }

// RuleSet is the validated rule configuration for one invocation.
type RuleSet struct {
	Destination       Destination
	IncludeDeviceName bool

	ChannelEnabled  bool
	ChannelTemplate string

	OfflineEnabled   bool
	OfflineThreshold time.Duration
	OfflineReminder  time.Duration // 0 disables reminders
	AlertNeverSeen   bool

	ThresholdsEnabled bool
	Thresholds        []ThresholdRule
}

// ThresholdRule bounds one tag. Either limit may be nil.
type ThresholdRule struct {
	Tag      string
	Upper    *float64
	Lower    *float64
	Template string
	Cooldown time.Duration
}

// RuleSetFrom builds a RuleSet from a loaded configuration.
func RuleSetFrom(cfg *config.Config) RuleSet {
	a := cfg.Alerts
	rs := RuleSet{
		Destination: Destination{
			Type:     a.Webhook.Type,
			URL:      a.Webhook.ResolvedURL(),
			Username: a.Webhook.Username,
			Channel:  a.Webhook.Channel,
			Timeout:  a.Webhook.Timeout,
		},
		IncludeDeviceName: a.IncludeDeviceName,
		ChannelEnabled:    a.Channel.Enabled,
		ChannelTemplate:   a.Channel.Template,
		OfflineEnabled:    a.Offline.Enabled,
		OfflineThreshold:  time.Duration(a.Offline.ThresholdMinutes) * time.Minute,
		OfflineReminder:   time.Duration(a.Offline.ReminderIntervalMinutes) * time.Minute,
		AlertNeverSeen:    a.Offline.NeverSeen != config.NeverSeenIgnore,
		ThresholdsEnabled: a.Thresholds.Enabled,
	}
	for _, r := range a.Thresholds.Rules {
		rs.Thresholds = append(rs.Thresholds, ThresholdRule{
			Tag:      r.TagName,
			Upper:    r.UpperLimit,
			Lower:    r.LowerLimit,
			Template: r.AlertMessage,
			Cooldown: time.Duration(r.Cooldown()) * time.Minute,
		})
	}
	return rs
}

// HolderRules returns a rule source that rebuilds the RuleSet from the
// holder's current config on every call.
func HolderRules(h *config.Holder) func() RuleSet {
	return func() RuleSet { return RuleSetFrom(h.Load()) }
}
