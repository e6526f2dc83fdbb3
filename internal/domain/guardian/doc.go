// Package guardian contains the domain model of the webcam guardian:
// operating modes, the live session state, incident records, and the
// operator-visible event log. The types here hold no business logic beyond
// invariant enforcement; orchestration lives in internal/service/guardian.
package guardian
