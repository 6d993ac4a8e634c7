package models

// Channel is the delivery channel of a one-time code.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp:
		return true
	}
	return false
}

// Purpose scopes a one-time code to the flow that requested it.
type Purpose string

const (
	PurposeRegister      Purpose = "REGISTER"
	PurposeLogin         Purpose = "LOGIN"
	PurposeResetPasscode Purpose = "RESET_PASSCODE"
	PurposeResetPassword Purpose = "RESET_PASSWORD"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeRegister, PurposeLogin, PurposeResetPasscode, PurposeResetPassword:
		return true
	}
	return false
}

// RegistrationStep is the next input a registration session expects.
type RegistrationStep string

const (
	StepNameInput     RegistrationStep = "NAME_INPUT"
	StepPasscodeInput RegistrationStep = "PASSCODE_INPUT"
	StepPasswordInput RegistrationStep = "PASSWORD_INPUT"
	StepEmailInput    RegistrationStep = "EMAIL_INPUT"
	StepEmailVerify   RegistrationStep = "EMAIL_VERIFY"
	StepCompleted     RegistrationStep = "COMPLETED"
)

var stepOrder = []RegistrationStep{
	StepNameInput,
	StepPasscodeInput,
	StepPasswordInput,
	StepEmailInput,
	StepEmailVerify,
	StepCompleted,
}

// Next returns the step that follows s. COMPLETED and unknown steps have no
// successor and return "".
func (s RegistrationStep) Next() RegistrationStep {
	for i, step := range stepOrder {
		if step == s && i+1 < len(stepOrder) {
			return stepOrder[i+1]
		}
	}
	return ""
}

func (s RegistrationStep) Valid() bool {
	for _, step := range stepOrder {
		if step == s {
			return true
		}
	}
	return false
}
