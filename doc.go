// Package twofa provides two-factor sign-in for server applications:
// authenticator app (TOTP) and emailed one-time codes, the session-scoped
// flow that enrols a user in either, and the login state machine that
// demands the second factor.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. Every code, challenge and counter lives in a
// [tokenstore.Store] with an absolute expiry, so several server instances
// can share one Redis deployment.
//
// # Flows
//
//   - Setup: [Engine.VerifyPassword] opens a short password session, then
//     [Engine.SetupTOTP] and [Engine.ConfirmTOTPSetup] enrol an
//     authenticator, or [Engine.EnableEmailTwoFactor] switches to emailed codes.
//   - Sign-in: [Engine.Login] answers with a [LoginState]. When it is
//     [LoginTwoFactorRequired] the caller finishes with
//     [Engine.VerifyLoginTOTP] or [Engine.VerifyEmailOTP].
//   - Verification: address confirmation, password reset and email change
//     codes share the same generator, store and attempt caps.
//
// # Errors
//
// Operations return sentinel errors that map onto a stable [ErrorCode] via
// [ClassifyError]. [RetryAfter] extracts the wait hint from throttling and
// lockout errors.
package twofa
