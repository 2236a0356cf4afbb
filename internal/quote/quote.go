// Package quote holds the contract shared by the upstream adapters: expected
// failures come back as error-tagged price records, never as error values,
// so one bad symbol can never interrupt a batch. The single exception is a
// fund code the provider has no data for at all.
package quote

import "errors"

// ErrNotFound marks a symbol the provider has no data for, distinct from
// "found but today's value not yet published". Callers may fall through to a
// different provider on it.
var ErrNotFound = errors.New("quote: symbol not found")
