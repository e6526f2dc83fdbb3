// Package daemon wires configuration, storage, media, and the guardian
// orchestrator into the guardiand process and runs its HTTP API server.
package daemon
