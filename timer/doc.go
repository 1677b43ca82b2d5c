// Package timer implements the process-wide timer registry shared by
// every runtime adapter.
//
// Ids come from a single atomic counter, so uniqueness across adapters
// needs no further coordination. Each pending timer owns a cancellation
// token; the firing path and the cancel path race for a single removal
// of that token, so a callback either runs or is cancelled, never both.
package timer
