package models

import "time"

type EmailVerificationChallenge struct {
	ID                string    `db:"id"`
	PhoneHash         string    `db:"phone_hash"`
	EmailHash         string    `db:"email_hash"`
	VerificationToken string    `db:"verification_token"`
	ExpiredAt         time.Time `db:"expired_at"`
	CreatedAt         time.Time `db:"created_at"`
}
