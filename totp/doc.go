// Package totp implements RFC 6238 time-based one-time passwords.
//
// Secrets travel as unpadded Base32 strings. [Engine.Verify] accepts codes
// from a window of steps around the current one and reports the matched step
// so callers can refuse to accept the same step twice.
package totp
