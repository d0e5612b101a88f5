// Package platform implements the device lookups the alert engine depends
// on: device identity, connection status and aggregate tag values.
//
// Client talks to the device platform's HTTP API:
//
//	GET {base}/agents/{id}                              device name
//	GET {base}/agents/{id}/connection                   connection status
//	GET {base}/agents/{id}/channels/{channel}/aggregate tag values
//
// PromTags is an alternative tag source that scrapes a Prometheus text
// endpoint and reports each metric family as one tag.
package platform
