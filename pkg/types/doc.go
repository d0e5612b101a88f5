// Package types defines the Go types shared by alertd, alertctl and the
// event transports. These are the wire representations of channel-message
// events, schedule ticks and invocation results, plus the device records
// returned by the platform lookups.
//
// codec.go registers a JSON codec with gRPC under the content-subtype "json"
// so the EventService can be served and called without generated stubs.
package types
