// Package aggregates defines the error vocabulary shared by aggregate writes.
//
// Every repository, commit and retry failure is reported as an *Error carrying one
// of the codes below, so callers branch on semantics instead of driver messages.
package aggregates
