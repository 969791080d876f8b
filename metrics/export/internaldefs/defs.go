package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/adminauth"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   adminauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   adminauth.MetricID
	Name string
	Help string
}

// BucketCount is the number of histogram buckets including +Inf.
const BucketCount = len(adminauth.HistogramBounds) + 1

var CounterDefs = []CounterDef{
	{ID: adminauth.MetricLoginSuccess, Name: "adminauth_login_success_total", Help: "Successful logins."},
	{ID: adminauth.MetricLoginFailure, Name: "adminauth_login_failure_total", Help: "Failed logins."},
	{ID: adminauth.MetricLoginRateLimited, Name: "adminauth_login_rate_limited_total", Help: "Login attempts rejected by the rate limiter."},
	{ID: adminauth.MetricMFARequired, Name: "adminauth_mfa_required_total", Help: "Logins that stopped to ask for a second factor."},
	{ID: adminauth.MetricMFASuccess, Name: "adminauth_mfa_success_total", Help: "Accepted second factors."},
	{ID: adminauth.MetricMFAFailure, Name: "adminauth_mfa_failure_total", Help: "Rejected second factors."},
	{ID: adminauth.MetricBackupCodeUsed, Name: "adminauth_backup_code_used_total", Help: "Backup codes spent."},
	{ID: adminauth.MetricMFAEnabled, Name: "adminauth_mfa_enabled_total", Help: "MFA enrollments completed."},
	{ID: adminauth.MetricMFADisabled, Name: "adminauth_mfa_disabled_total", Help: "MFA disable operations."},
	{ID: adminauth.MetricSessionMinted, Name: "adminauth_session_minted_total", Help: "Session tokens issued."},
	{ID: adminauth.MetricAuthenticateSuccess, Name: "adminauth_authenticate_success_total", Help: "Requests authenticated by the gateway."},
	{ID: adminauth.MetricAuthenticateFailure, Name: "adminauth_authenticate_failure_total", Help: "Requests rejected by the gateway."},
	{ID: adminauth.MetricEmailVerificationRequest, Name: "adminauth_email_verification_request_total", Help: "Email verification mails requested."},
	{ID: adminauth.MetricEmailVerificationSuccess, Name: "adminauth_email_verification_success_total", Help: "Successful email verifications."},
	{ID: adminauth.MetricEmailVerificationFailure, Name: "adminauth_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: adminauth.MetricPasswordResetRequest, Name: "adminauth_password_reset_request_total", Help: "Password reset requests."},
	{ID: adminauth.MetricPasswordResetConfirmSuccess, Name: "adminauth_password_reset_confirm_success_total", Help: "Successful password resets."},
	{ID: adminauth.MetricPasswordResetConfirmFailure, Name: "adminauth_password_reset_confirm_failure_total", Help: "Failed password reset confirmations."},
	{ID: adminauth.MetricPasswordHashUpgraded, Name: "adminauth_password_hash_upgraded_total", Help: "Password digests rehashed on login."},
	{ID: adminauth.MetricMailDeliveryFailure, Name: "adminauth_mail_delivery_failure_total", Help: "Mails the mailer failed to send."},
	{ID: adminauth.MetricRateLimitHit, Name: "adminauth_rate_limit_hit_total", Help: "Rate limit checks that denied a request."},
	{ID: adminauth.MetricAuditDropped, Name: "adminauth_audit_dropped_total", Help: "Audit events dropped because the dispatcher buffer was full."},
}

var HistogramDefs = []HistogramDef{
	{ID: adminauth.MetricAuthenticateLatency, Name: "adminauth_authenticate_latency_seconds", Help: "Gateway authentication latency."},
}

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, len(adminauth.HistogramBounds))
	for i, d := range adminauth.HistogramBounds {
		out[i] = d.Seconds()
	}
	return out
}

// BoundSuffixes returns instrument name suffixes, one per bucket: "0_005"
// for 5ms and "inf" for the last bucket.
func BoundSuffixes() []string {
	out := make([]string, 0, BucketCount)
	for _, b := range UpperBounds() {
		out = append(out, strings.ReplaceAll(strconv.FormatFloat(b, 'f', -1, 64), ".", "_"))
	}
	return append(out, "inf")
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
