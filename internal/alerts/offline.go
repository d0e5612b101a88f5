package alerts

import (
	"strconv"
	"time"

	"github.com/obsidianstack/devicealert/pkg/types"
)

// Suppression reasons reported when an evaluation produces no decision.
const (
	reasonDebounce          = "debounce"
	reasonNeverSeen         = "never_seen"
	reasonRemindersDisabled = "reminders_disabled"
	reasonNoReminderAnchor  = "no_reminder_anchor"
	reasonReminderInterval  = "reminder_interval"
	reasonCooldown          = "cooldown"
	reasonConflict          = "conflict"
)

// evaluateOffline advances the offline state machine for one tick and
// returns the plan together with the phase the device ends up in.
func evaluateOffline(rs RuleSet, conn types.ConnectionInfo, st OfflineState, name string, now time.Time) (Plan, OfflinePhase) {
	plan := Plan{Kind: KindOffline}

	if conn.Online() {
		plan.Mutations = []Mutation{
			{Key: KeyOfflineAlertSent, Value: false},
			{Key: KeyLastOfflineReminder, Value: nil},
		}
		return plan, PhaseOnline
	}

	phase := st.Phase
	if phase == PhaseOnline {
		phase = PhaseOfflineUnacked
	}

	var elapsed time.Duration
	seen := !conn.OnlineAt.IsZero()
	if seen {
		elapsed = now.Sub(conn.OnlineAt)
		if elapsed < rs.OfflineThreshold {
			plan.Suppressed = reasonDebounce
			return plan, phase
		}
	} else if !rs.AlertNeverSeen {
		plan.Suppressed = reasonNeverSeen
		return plan, phase
	}

	stamp := types.FormatTimestamp(now)

	if phase == PhaseOfflineUnacked {
		plan.Decision = offlineDecision("Device *" + name + "* has gone offline")
		plan.Mutations = []Mutation{
			{Key: KeyOfflineAlertSent, Value: true, Guard: true, Expect: st.sentRaw},
			{Key: KeyLastOfflineReminder, Value: stamp},
		}
		return plan, PhaseOfflineAlerted
	}

	switch {
	case rs.OfflineReminder <= 0:
		plan.Suppressed = reasonRemindersDisabled
	case st.LastReminder.IsZero():
		plan.Suppressed = reasonNoReminderAnchor
	case now.Sub(st.LastReminder) < rs.OfflineReminder:
		plan.Suppressed = reasonReminderInterval
	default:
		duration := "unknown"
		if seen {
			duration = strconv.Itoa(int(elapsed.Minutes()))
		}
		plan.Decision = offlineDecision("Device *" + name + "* is still offline (duration: " + duration + " minutes)")
		plan.Mutations = []Mutation{
			{Key: KeyLastOfflineReminder, Value: stamp, Guard: true, Expect: st.reminderRaw},
		}
	}
	return plan, PhaseOfflineAlerted
}

func offlineDecision(text string) *Decision {
	return &Decision{
		Kind:    KindOffline,
		Title:   "Device Offline Alert",
		Text:    text,
		Color:   ColorFailure,
		StatKey: StatOfflineAlerts,
	}
}
