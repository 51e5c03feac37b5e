// Package api defines the wire and domain types shared across the
// execution broker: principals, sessions, execution requests/results,
// jobs, replay records, and the error taxonomy.
package api
