// Package source defines the contract between live queries and the remote
// tabular backends they read from, and the error taxonomy those backends
// report with.
//
// Backends classify their driver errors into *Error codes so callers can
// tell a network outage from a bad query without parsing driver messages.
package source
