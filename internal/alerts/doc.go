// Package alerts implements the device alerting engine: channel-message
// alerts, the offline state machine and tag threshold checks, plus webhook
// delivery to Slack, Teams or generic HTTP targets.
//
// Evaluation is pure: each alert class turns a RuleSet and a snapshot of
// persisted device state into Plans (a decision plus state mutations). The
// dispatcher applies the mutations, guarded by compare-and-set where the
// store supports it, and then sends the decisions through a Sink.
package alerts
