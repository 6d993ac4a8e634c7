package models

import "time"

// OTPChallenge is one issued one-time code. Only the salted hash of the code
// is stored; the plaintext leaves the process once, through the notifier.
type OTPChallenge struct {
	ID         string     `db:"id"`
	PhoneHash  string     `db:"phone_hash"`
	EmailHash  *string    `db:"email_hash"`
	UserID     *string    `db:"user_id"`
	Channel    Channel    `db:"channel"`
	Purpose    Purpose    `db:"purpose"`
	CodeHash   string     `db:"code_hash"`
	CodeSalt   string     `db:"code_salt"`
	ExpiredAt  time.Time  `db:"expired_at"`
	IsConsumed bool       `db:"is_consumed"`
	ConsumedAt *time.Time `db:"consumed_at"`
	CreatedAt  time.Time  `db:"created_at"`
}

// OTPChallengeQuery selects the latest challenge for a subject. EmailHash is
// only matched when set.
type OTPChallengeQuery struct {
	PhoneHash string
	EmailHash string
	Purpose   Purpose
	Channel   Channel
}
