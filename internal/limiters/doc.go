// Package limiters provides the counters that guard two-factor flows.
//
// # Limiters
//
//   - [AttemptCounter] reserves code validations for one purpose and
//     subject with an atomic increment. Once the cap is passed every
//     reservation is rejected until the caller resets the counter.
//   - [SendLimiter] throttles outbound code deliveries with an
//     (attempts, lastAttempt) window.
//
// Both keep their state in a tokenstore.Store so they work the same on the
// in-memory and Redis backends.
//
// # What this package must NOT do
//
//   - Import the root twofa package.
//   - Decide what a rejection means for the caller. Flow code maps
//     [ErrAttemptsExceeded] and [ErrRateLimited] to user-facing results.
package limiters
