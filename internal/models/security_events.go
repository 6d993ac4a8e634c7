package models

import "time"

const (
	EventOTPIssued             = "otp_issued"
	EventOTPRateLimited        = "otp_rate_limited"
	EventOTPVerified           = "otp_verified"
	EventOTPRejected           = "otp_rejected"
	EventOTPDeliveryFailed     = "otp_delivery_failed"
	EventRegistrationStarted   = "registration_started"
	EventRegistrationStep      = "registration_step"
	EventEmailVerificationSent = "email_verification_sent"
	EventRegistrationCompleted = "registration_completed"
	EventAccountLockedRejected = "account_locked_rejected"
)

// SecurityEvent is an audit record. SubjectHash is a phone lookup hash.
type SecurityEvent struct {
	EventID     string            `db:"event_id" json:"event_id"`
	EventBucket int               `db:"event_bucket" json:"event_bucket"`
	EventDate   string            `db:"event_date" json:"event_date"`
	EventTime   time.Time         `db:"event_time" json:"event_time"`
	EventType   string            `db:"event_type" json:"event_type"`
	SubjectHash string            `db:"subject_hash" json:"subject_hash"`
	UserID      string            `db:"user_id" json:"user_id,omitempty"`
	Purpose     string            `db:"purpose" json:"purpose,omitempty"`
	Channel     string            `db:"channel" json:"channel,omitempty"`
	Details     map[string]string `db:"details" json:"details,omitempty"`
}
