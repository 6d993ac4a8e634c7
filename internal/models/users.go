package models

import "time"

type User struct {
	ID              string     `db:"id"`
	FirstName       string     `db:"first_name"`
	LastName        string     `db:"last_name"`
	PhoneHash       string     `db:"phone_hash"`
	PhoneEnc        string     `db:"phone_enc"`
	EmailHash       string     `db:"email_hash"`
	EmailEnc        string     `db:"email_enc"`
	PasscodeHash    string     `db:"passcode_hash"`
	PasscodeSalt    string     `db:"passcode_salt"`
	PasswordHash    string     `db:"password_hash"`
	PasswordSalt    string     `db:"password_salt"`
	PhoneVerifiedAt *time.Time `db:"phone_verified_at"`
	EmailVerifiedAt *time.Time `db:"email_verified_at"`
	LockedUntil     *time.Time `db:"locked_until"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// IsLocked reports whether the account is locked at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}
