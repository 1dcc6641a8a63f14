// Package oracle queries the external formatter that renders object summaries.
//
// The oracle is treated as a black box: given a Subject handle it returns the
// exact summary text its formatter rule produced for the object's current
// state. A query never mutates the subject, so two describes with no mutation
// in between must return identical text.
//
// Failures are never defaulted to an empty summary. They are reported as
// *Error values carrying one of two codes:
//
//   - UNREACHABLE: the formatter process or service could not be contacted
//   - NO_FORMATTER: the formatter has no rule for the subject's runtime type
//
// Clients hold no per-query state and may be shared across goroutines.
package oracle
