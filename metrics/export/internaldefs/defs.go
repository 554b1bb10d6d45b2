package internaldefs

import (
	"github.com/MrEthical07/twofa"
)

// Def names one engine metric for the exporters.
type Def struct {
	ID   twofa.MetricID
	Name string
	Help string
}

const namespace = "twofa_"

// AuditDroppedName is exported next to the engine counters.
const AuditDroppedName = namespace + "audit_dropped_total"

// CounterDefs lists every engine counter in MetricID order.
var CounterDefs = []Def{
	{twofa.MetricLoginSuccess, namespace + "login_success_total", "Sign-ins completed with the password alone."},
	{twofa.MetricLoginFailure, namespace + "login_failure_total", "Sign-ins rejected for bad credentials."},
	{twofa.MetricLoginLockedOut, namespace + "login_locked_out_total", "Sign-ins refused because the account is locked."},
	{twofa.MetricLoginNotAllowed, namespace + "login_not_allowed_total", "Sign-ins refused because the account may not sign in yet."},
	{twofa.MetricTwoFactorRequired, namespace + "two_factor_required_total", "Sign-ins that stopped at the second factor."},
	{twofa.MetricTwoFactorSuccess, namespace + "two_factor_success_total", "Second-factor codes accepted at sign-in."},
	{twofa.MetricTwoFactorFailure, namespace + "two_factor_failure_total", "Second-factor codes rejected at sign-in."},
	{twofa.MetricTwoFactorAttemptsExceeded, namespace + "two_factor_attempts_exceeded_total", "Challenges dropped after too many wrong codes."},
	{twofa.MetricTOTPReplayRejected, namespace + "totp_replay_rejected_total", "Authenticator codes rejected because their step was already used."},
	{twofa.MetricPasswordSessionIssued, namespace + "password_session_issued_total", "Password re-verifications that opened a setup session."},
	{twofa.MetricPasswordSessionRejected, namespace + "password_session_rejected_total", "Password re-verifications that failed."},
	{twofa.MetricTOTPSetupIssued, namespace + "totp_setup_issued_total", "Authenticator secrets handed out for enrolment."},
	{twofa.MetricTOTPSetupFailure, namespace + "totp_setup_failure_total", "Failed authenticator enrolment steps."},
	{twofa.MetricTOTPEnabled, namespace + "totp_enabled_total", "Authenticator enrolments completed."},
	{twofa.MetricTwoFactorReset, namespace + "two_factor_reset_total", "Two-factor settings reset by their owner."},
	{twofa.MetricEmailTwoFactorEnabled, namespace + "email_two_factor_enabled_total", "Switches to emailed sign-in codes."},
	{twofa.MetricEmailOTPSent, namespace + "email_otp_sent_total", "Sign-in codes mailed."},
	{twofa.MetricMailFailure, namespace + "mail_failure_total", "Messages the mail transport could not deliver."},
	{twofa.MetricRateLimitHit, namespace + "rate_limit_hit_total", "Code sends refused by the send limiter."},
	{twofa.MetricVerificationSent, namespace + "verification_sent_total", "Address verification codes mailed."},
	{twofa.MetricVerificationConfirmed, namespace + "verification_confirmed_total", "Addresses confirmed."},
	{twofa.MetricPasswordResetRequested, namespace + "password_reset_requested_total", "Password reset codes mailed."},
	{twofa.MetricPasswordResetVerified, namespace + "password_reset_verified_total", "Password reset codes redeemed."},
	{twofa.MetricEmailChangeRequested, namespace + "email_change_requested_total", "Email change codes mailed."},
	{twofa.MetricEmailChangeConfirmed, namespace + "email_change_confirmed_total", "Email changes completed."},
}

// HistogramDefs lists the latency histograms.
var HistogramDefs = []Def{
	{twofa.MetricCodeVerifyLatency, namespace + "code_verify_latency_seconds", "Time spent checking a submitted code."},
}

// BucketCount is the number of latency buckets, +Inf included.
const BucketCount = 8

// HistogramBounds are the upper bounds in seconds, as written in the
// Prometheus "le" label.
var HistogramBounds = [BucketCount]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// HistogramBoundSuffix spells each bound for use inside an instrument name.
var HistogramBoundSuffix = [BucketCount]string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// Cumulative turns per-bucket sample counts into running totals. Missing
// trailing buckets count as empty.
func Cumulative(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < BucketCount; i++ {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
