// Package api implements the HTTP surface of the alert processor.
//
// New(deps) returns an http.Handler that serves:
//
//	GET  /api/v1/health                   liveness plus alerting status
//	GET  /api/v1/devices                  devices with stored alert state
//	GET  /api/v1/devices/{id}/state       raw state keys and offline phase
//	POST /api/v1/devices/{id}/messages    evaluate a channel message
//	POST /api/v1/devices/{id}/tick        run the scheduled checks now
//	GET  /api/v1/alerts                   recent dispatched alerts
//	GET  /metrics                         Prometheus exposition
//	GET  /ws/stream                       live alert stream (when configured)
//
// Every /api/v1 route except health sits behind the API-key guard. Errors
// are returned as {"error": "..."}.
package api
