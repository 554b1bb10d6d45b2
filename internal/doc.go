// Package internal holds helpers private to twofa.
//
//   - audit: async event dispatch (Dispatcher plus sinks)
//   - config: server configuration for cmd/twofa-server
//   - limiters: send throttling and failed-attempt counters on the token store
//   - otp: numeric one-time code generation and comparison
//   - records: wire format of values kept in the token store
package internal
