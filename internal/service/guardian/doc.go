// Package guardian implements the monitoring state machine and alert
// lifecycle orchestrator. It owns the session state and sequences the three
// concerns around it: the mode controller enforcing legal transitions, the
// audit scheduler ticking while armed, and the alert workflow that
// classifies, persists, and archives an incident while a concurrent
// cooldown timer guarantees the system always re-arms.
package guardian
