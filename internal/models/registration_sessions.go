package models

import "time"

type NameFields struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type ContactFields struct {
	PhoneEnc  string `json:"phone_enc,omitempty"`
	PhoneHash string `json:"phone_hash,omitempty"`
	EmailEnc  string `json:"email_enc,omitempty"`
	EmailHash string `json:"email_hash,omitempty"`
}

type CredentialFields struct {
	PasscodeHash string `json:"passcode_hash,omitempty"`
	PasscodeSalt string `json:"passcode_salt,omitempty"`
	PasswordHash string `json:"password_hash,omitempty"`
	PasswordSalt string `json:"password_salt,omitempty"`
}

// RegistrationData accumulates step inputs. Secrets are stored only as
// salted hashes and contact fields only encrypted or hashed.
type RegistrationData struct {
	Name        NameFields       `json:"name"`
	Contacts    ContactFields    `json:"contacts"`
	Credentials CredentialFields `json:"credentials"`
}

type VerificationData struct {
	PhoneVerifiedAt *time.Time `json:"phone_verified_at,omitempty"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
}

type RegistrationSession struct {
	ID               string           `db:"id"`
	PhoneHash        string           `db:"phone_hash"`
	PhoneEnc         string           `db:"phone_enc"`
	RegistrationData RegistrationData `db:"registration_data"`
	VerificationData VerificationData `db:"verification_data"`
	NextStep         RegistrationStep `db:"next_step"`
	ExpiresAt        time.Time        `db:"expires_at"`
	CreatedAt        time.Time        `db:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at"`
}

// RegistrationPatch carries the fields one step contributes. Nil sections
// are left untouched.
type RegistrationPatch struct {
	Name     *NameFields
	Email    *EmailPatch
	Passcode *SecretPatch
	Password *SecretPatch
}

type SecretPatch struct {
	Hash string
	Salt string
}

type EmailPatch struct {
	Enc  string
	Hash string
}

// Apply merges p into d.
func (p RegistrationPatch) Apply(d *RegistrationData) {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Email != nil {
		d.Contacts.EmailEnc = p.Email.Enc
		d.Contacts.EmailHash = p.Email.Hash
	}
	if p.Passcode != nil {
		d.Credentials.PasscodeHash = p.Passcode.Hash
		d.Credentials.PasscodeSalt = p.Passcode.Salt
	}
	if p.Password != nil {
		d.Credentials.PasswordHash = p.Password.Hash
		d.Credentials.PasswordSalt = p.Password.Salt
	}
}
