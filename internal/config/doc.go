// Package config loads, validates, and persists the YAML settings shared by
// the guardian binaries: the HTTP API address, the state machine timings
// (audit interval, alert cooldown, recording duration), and the credentials
// of the external vision and storage services. Missing credentials are not a
// load error; the affected clients are constructed disabled and report
// themselves unconfigured on every call.
package config
