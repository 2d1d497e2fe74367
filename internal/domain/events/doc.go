// Package events holds the domain event and aggregate-root model.
//
// Aggregates embed Root, raise events from their mutation methods and hand them
// over exactly once when a commit pulls the pending buffer.
package events
