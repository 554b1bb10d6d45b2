// Package credstore provides reference implementations of
// twofa.CredentialStore: an in-memory store for tests and development, and a
// PostgreSQL store built on pgx.
//
// Both stores own account lockout. A run of failed password checks locks the
// account for the policy duration; a successful sign-in clears the run.
package credstore
