// Package incident persists detected-event records. Three layers share one
// Repository interface: a local SQLite journal (the durability floor), a
// REST client for the remote datastore, and a tiered store that writes
// locally first, mirrors remotely, and reconciles locally assigned ids with
// the remote ones.
package incident
