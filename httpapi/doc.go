// Package httpapi exposes the two-factor flows of a twofa.Engine as a JSON
// HTTP API routed with chi.
//
// Error responses carry a stable machine code from twofa.ClassifyError and a
// fixed human message; the underlying error text is never sent to clients.
// Throttled and locked-out responses include a Retry-After header.
package httpapi
