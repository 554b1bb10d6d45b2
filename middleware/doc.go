// Package middleware adapts a twofa.Engine to net/http.
//
// [Guard] admits requests carrying a valid access token and stores the user
// id in the request context. [RequestMetadata] copies the client address,
// User-Agent and request id into the context so engine audit events and log
// lines carry them. [Throttle] applies a per-client token bucket in front of
// the code endpoints.
//
// Authentication decisions stay in the engine; this package only translates
// HTTP into engine calls.
package middleware
