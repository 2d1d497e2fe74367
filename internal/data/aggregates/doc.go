// Package aggregates contains the write-side infrastructure shared by versioned
// aggregate repositories and the commit gate.
//
// It owns transaction boundaries (TxRunner), compare-and-set version guards,
// the mapping of driver failures onto aggregate error codes, and the retry
// helpers that re-run whole operations after conflicts or aborted transactions.
package aggregates
