// Package guardian implements the HTTP transport for the guardian service.
//
// It adapts domain types to JSON payloads and exposes a router that calls
// into a provided business-service interface. The event log is additionally
// exposed as a Server-Sent Events stream.
package guardian
