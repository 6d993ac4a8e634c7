package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepSequence(t *testing.T) {
	var walked []RegistrationStep
	for s := StepNameInput; s != ""; s = s.Next() {
		walked = append(walked, s)
	}
	assert.Equal(t, []RegistrationStep{
		StepNameInput, StepPasscodeInput, StepPasswordInput,
		StepEmailInput, StepEmailVerify, StepCompleted,
	}, walked)

	assert.Equal(t, RegistrationStep(""), RegistrationStep("BOGUS").Next())
	assert.False(t, RegistrationStep("BOGUS").Valid())
}

func TestPatchApplyLeavesUnsetSections(t *testing.T) {
	d := RegistrationData{
		Name:     NameFields{FirstName: "Ada", LastName: "Lovelace"},
		Contacts: ContactFields{PhoneHash: "ph", PhoneEnc: "pe"},
	}

	RegistrationPatch{Passcode: &SecretPatch{Hash: "h", Salt: "s"}}.Apply(&d)

	assert.Equal(t, "Ada", d.Name.FirstName)
	assert.Equal(t, "ph", d.Contacts.PhoneHash)
	assert.Equal(t, "h", d.Credentials.PasscodeHash)
	assert.Equal(t, "s", d.Credentials.PasscodeSalt)
	assert.Empty(t, d.Credentials.PasswordHash)
}

func TestRateCounterKey(t *testing.T) {
	c := RateCounter{Subject: "abc", Purpose: PurposeRegister, Channel: ChannelSMS, Kind: CounterRequest}
	assert.Equal(t, "request:abc:REGISTER:SMS", c.Key())
}

func TestEnumsValid(t *testing.T) {
	assert.True(t, ChannelWhatsApp.Valid())
	assert.False(t, Channel("PIGEON").Valid())
	assert.True(t, PurposeResetPassword.Valid())
	assert.False(t, Purpose("").Valid())
}
