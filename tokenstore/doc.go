// Package tokenstore holds short-lived secrets and counters for two-factor flows.
//
// Two backends are provided: [Memory], an in-process sharded map driven by an
// injectable clock, and [Redis], backed by go-redis. Both honor the same
// contract: entries expire at an absolute instant, counters are incremented
// atomically and read-modify-write updates never interleave for one key.
//
// Key shapes for every purpose live in keys.go so callers never assemble them
// by hand.
package tokenstore
