package util

import (
	"net/mail"
	"regexp"
	"strings"
)

var phonePattern = regexp.MustCompile(`^[0-9]{8,15}$`)

// NormalizePhone strips spaces, dashes and a leading '+' and returns the
// digits-only E.164 body. ok is false when the result is not 8-15 digits.
func NormalizePhone(raw string) (phone string, ok bool) {
	r := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	phone = strings.TrimPrefix(r.Replace(strings.TrimSpace(raw)), "+")
	return phone, phonePattern.MatchString(phone)
}

// NormalizeEmail lower-cases the address so lookup hashes are stable.
func NormalizeEmail(raw string) (email string, ok bool) {
	email = strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return email, false
	}
	return email, true
}
